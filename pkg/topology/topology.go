// Package topology provides Kahn's-algorithm layer assignment and
// DFS-based cycle detection over a generic id+edge graph (spec §4.5). It is
// decoupled from any node payload type; the planner uses it to order the
// jobs of a producergraph.ProducerGraph.
package topology

import (
	"sort"

	"github.com/renku/pipeline-engine/pkg/errs"
)

// Edge is a directed dependency: From must run/exist before To.
type Edge struct {
	From string
	To   string
}

// Graph is a minimal directed graph: a node id set plus directed edges
// between them.
type Graph struct {
	nodes    map[string]bool
	order    []string
	outgoing map[string][]string
	incoming map[string][]string
}

// NewGraph returns an empty Graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]bool),
		outgoing: make(map[string][]string),
		incoming: make(map[string][]string),
	}
}

// AddNode registers a node id, a no-op if already present.
func (g *Graph) AddNode(id string) {
	if g.nodes[id] {
		return
	}
	g.nodes[id] = true
	g.order = append(g.order, id)
}

// AddEdge registers a directed edge, registering either endpoint as a node
// if it is not one already.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	g.outgoing[from] = append(g.outgoing[from], to)
	g.incoming[to] = append(g.incoming[to], from)
}

// Nodes returns every node id in declaration order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Successors returns the ids that depend on nodeID.
func (g *Graph) Successors(nodeID string) []string {
	return g.outgoing[nodeID]
}

// Predecessors returns the ids nodeID depends on.
func (g *Graph) Predecessors(nodeID string) []string {
	return g.incoming[nodeID]
}

// DetectCycles reports the first cycle found via DFS with a recursion
// stack, nil if the graph is acyclic.
func (g *Graph) DetectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, id := range g.order {
		if !visited[id] {
			if err := g.dfsCheckCycle(id, visited, recStack); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Graph) dfsCheckCycle(nodeID string, visited, recStack map[string]bool) error {
	visited[nodeID] = true
	recStack[nodeID] = true

	for _, successor := range g.outgoing[nodeID] {
		if !visited[successor] {
			if err := g.dfsCheckCycle(successor, visited, recStack); err != nil {
				return err
			}
		} else if recStack[successor] {
			return errs.New(errs.CategoryRuntime, errs.CyclicDependency, "cycle detected: %s -> %s", nodeID, successor)
		}
	}

	recStack[nodeID] = false
	return nil
}

// TopologicalSort returns node ids in a stable topological order using
// Kahn's algorithm. Nodes with no incoming edges start the queue in
// declaration order; a node freed later is inserted into the queue at the
// position sort.SearchStrings gives it.
func (g *Graph) TopologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.order))
	for _, id := range g.order {
		inDegree[id] = len(g.incoming[id])
	}

	queue := zeroDegreeQueue(g.order, inDegree)

	result := make([]string, 0, len(g.order))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		result = append(result, id)

		for _, successor := range g.outgoing[id] {
			inDegree[successor]--
			if inDegree[successor] == 0 {
				queue = insertSorted(queue, successor)
			}
		}
	}

	if len(result) != len(g.order) {
		return nil, errs.New(errs.CategoryRuntime, errs.CyclicDependency,
			"graph contains a cycle (ordered %d/%d nodes)", len(result), len(g.order))
	}

	return result, nil
}

// ComputeLayers groups node ids into layers for parallel execution: layer N
// contains every node whose dependencies all lie in layers < N (spec §4.5,
// §4.6 "layer"). Each layer's ids are sorted for determinism.
func (g *Graph) ComputeLayers() ([][]string, error) {
	inDegree := make(map[string]int, len(g.order))
	for _, id := range g.order {
		inDegree[id] = len(g.incoming[id])
	}

	var layers [][]string
	processed := make(map[string]bool, len(g.order))

	for len(processed) < len(g.order) {
		var layer []string
		for _, id := range g.order {
			if !processed[id] && inDegree[id] == 0 {
				layer = append(layer, id)
			}
		}
		if len(layer) == 0 {
			return nil, errs.New(errs.CategoryRuntime, errs.CyclicDependency, "cannot compute layers: graph contains a cycle")
		}
		sort.Strings(layer)
		layers = append(layers, layer)

		for _, id := range layer {
			processed[id] = true
			for _, successor := range g.outgoing[id] {
				inDegree[successor]--
			}
		}
	}

	return layers, nil
}

func zeroDegreeQueue(order []string, inDegree map[string]int) []string {
	var queue []string
	for _, id := range order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	return queue
}

func insertSorted(queue []string, id string) []string {
	i := sort.SearchStrings(queue, id)
	queue = append(queue, "")
	copy(queue[i+1:], queue[i:])
	queue[i] = id
	return queue
}
