// Package graphbuild builds the unexpanded BlueprintGraph from a
// blueprint.Tree (spec §4.2): nodes carrying qualified dimension symbols,
// edges carrying per-dimension selectors, and dimension lineage linking a
// node's own dimensions back to the namespace loop symbols they were derived
// from.
package graphbuild

import (
	"fmt"

	"github.com/renku/pipeline-engine/pkg/blueprint"
	"github.com/renku/pipeline-engine/pkg/errs"
	"github.com/renku/pipeline-engine/pkg/ids"
)

// NodeKind distinguishes the three kinds of BlueprintGraph node.
type NodeKind string

const (
	NodeInput    NodeKind = "input"
	NodeArtifact NodeKind = "artifact"
	NodeProducer NodeKind = "producer"
)

// Scope distinguishes where a node's dimension originates.
type Scope string

const (
	ScopeNamespace Scope = "namespace"
	ScopeLocal     Scope = "local"
)

// DimensionSymbol is a node-qualified dimension axis identifier:
// nodeId::scope:scopeKey:ordinal:rawLabel (spec §4.2). Two symbols are the
// same axis iff all four fields after the node id are equal.
type DimensionSymbol struct {
	NodeID   string
	Scope    Scope
	ScopeKey string
	Ordinal  int
	RawLabel string
}

// String formats the symbol in its canonical qualified form.
func (s DimensionSymbol) String() string {
	return fmt.Sprintf("%s::%s:%s:%d:%s", s.NodeID, s.Scope, s.ScopeKey, s.Ordinal, s.RawLabel)
}

// Node is one unexpanded BlueprintGraph node: a declared input, artifact, or
// producer, together with the ordered list of dimensions it varies over.
type Node struct {
	ID            string
	Kind          NodeKind
	NamespacePath []string
	Dimensions    []DimensionSymbol

	// Required is carried from the declaration (InputDef.Required /
	// ArtifactDef.Required) for downstream validation.
	Required bool

	// CountInput/CountInputOffset, when non-empty, mark this artifact node
	// as a fan-out boundary: its own local dimension is sized by that input.
	CountInput       string
	CountInputOffset int

	// FanIn marks an input node that collects a fan-in from an upstream
	// dimensioned artifact/producer rather than a single scalar value.
	FanIn bool

	// Provider/Model/Config/SDKMapping/Models carry producer-only metadata
	// straight through from blueprint.ProducerDef.
	Provider   string
	Model      string
	Config     map[string]interface{}
	Models     []string
	SDKMapping map[string]string

	// DecomposedFrom records, for a synthetic decomposed-field artifact
	// node, the artifact name it was decomposed out of.
	DecomposedFrom string
}

// Edge is one unexpanded BlueprintGraph edge between two nodes. Selectors
// pair positionally against the From/To node's own Dimensions slice (after
// skipping any leading namespace-hop dimensions the edge didn't traverse).
type Edge struct {
	From          string
	To            string
	FromSelectors []DimensionSymbolSelector
	ToSelectors   []DimensionSymbolSelector
	Conditions    *blueprint.Condition
	GroupBy       string
	OrderBy       string
}

// DimensionSymbolSelector pairs a dimension symbol position with the
// selector an edge reference bound at that position.
type DimensionSymbolSelector struct {
	Symbol   DimensionSymbol
	Selector ids.DimensionSelector
}

// Graph is the unexpanded BlueprintGraph: every declared node, every edge
// between them, and the lineage of every non-local dimension symbol back to
// the loop symbol it derives from.
type Graph struct {
	Nodes map[string]*Node
	Edges []*Edge

	// Loops maps a namespace path (dot-joined, "" for the root) to the
	// LoopDefs declared directly on that document.
	Loops map[string][]blueprint.LoopDef

	// Lineage maps a local dimension symbol's string form to the
	// "<namespaceScopeKey>::<loopSymbol>" of the enclosing namespace loop it
	// was found to share a loop symbol with (spec §4.2: a node's own
	// dimension may turn out to be the same axis as an ancestor namespace's
	// loop rather than an independent fan-out). A local dimension whose
	// selector never named an enclosing loop symbol has no lineage entry.
	Lineage map[string]string

	nodeOrder []string
}

// NewGraph returns an empty Graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes:   make(map[string]*Node),
		Loops:   make(map[string][]blueprint.LoopDef),
		Lineage: make(map[string]string),
	}
}

// AddNode registers a node, erroring on a duplicate id.
func (g *Graph) AddNode(n *Node) error {
	if _, exists := g.Nodes[n.ID]; exists {
		return errs.New(errs.CategoryRuntime, errs.GraphBuildError, "duplicate node id %q", n.ID)
	}
	g.Nodes[n.ID] = n
	g.nodeOrder = append(g.nodeOrder, n.ID)
	return nil
}

// AddEdge appends an edge to the graph. Unlike AddNode, duplicate edges are
// permitted (an artifact may be referenced by more than one downstream
// consumer edge with distinct conditions).
func (g *Graph) AddEdge(e *Edge) {
	g.Edges = append(g.Edges, e)
}

// GetNode looks up a node by id.
func (g *Graph) GetNode(id string) (*Node, bool) {
	n, ok := g.Nodes[id]
	return n, ok
}

// NodeOrder returns node ids in declaration order (stable iteration, unlike
// ranging over the Nodes map directly).
func (g *Graph) NodeOrder() []string {
	out := make([]string, len(g.nodeOrder))
	copy(out, g.nodeOrder)
	return out
}

// OutgoingEdges returns every edge whose From is nodeID.
func (g *Graph) OutgoingEdges(nodeID string) []*Edge {
	var out []*Edge
	for _, e := range g.Edges {
		if e.From == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// IncomingEdges returns every edge whose To is nodeID.
func (g *Graph) IncomingEdges(nodeID string) []*Edge {
	var out []*Edge
	for _, e := range g.Edges {
		if e.To == nodeID {
			out = append(out, e)
		}
	}
	return out
}
