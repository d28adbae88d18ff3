package expand

import (
	"strconv"
	"strings"

	"github.com/renku/pipeline-engine/pkg/errs"
	"github.com/renku/pipeline-engine/pkg/graphbuild"
)

// enumerateInstances computes one NodeInstance per (node, index-tuple) for
// every node in g (spec §4.3 step 2). It returns instances grouped by their
// source node id (in per-node cartesian order), a flat id->instance index,
// and a deterministic ordering of every instance id for later passes.
func enumerateInstances(g *graphbuild.Graph, sizes map[string]int) (map[string][]*NodeInstance, map[string]*NodeInstance, []string, error) {
	byNode := make(map[string][]*NodeInstance)
	byID := make(map[string]*NodeInstance)
	var order []string

	for _, nodeID := range g.NodeOrder() {
		node := g.Nodes[nodeID]
		instances, err := instancesForNode(node, sizes)
		if err != nil {
			return nil, nil, nil, err
		}
		byNode[nodeID] = instances
		for _, inst := range instances {
			byID[inst.ID] = inst
			order = append(order, inst.ID)
		}
	}

	return byNode, byID, order, nil
}

func instancesForNode(node *graphbuild.Node, sizes map[string]int) ([]*NodeInstance, error) {
	dims := node.Dimensions
	sizeList := make([]int, len(dims))
	for i, d := range dims {
		sz, ok := sizes[sizeKeyOf(d)]
		if !ok {
			return nil, errs.New(errs.CategoryRuntime, errs.MissingDimensionSize,
				"node %q dimension %q has no resolved size", node.ID, d.RawLabel)
		}
		sizeList[i] = sz
	}

	combos := cartesian(sizeList)

	out := make([]*NodeInstance, 0, len(combos))
	for _, idxTuple := range combos {
		id := formatInstanceID(node, idxTuple)
		out = append(out, &NodeInstance{
			ID:           id,
			Kind:         node.Kind,
			SourceNodeID: node.ID,
			Indices:      idxTuple,
		})
	}
	return out, nil
}

// cartesian returns every index tuple over sizes, in declaration order (the
// last dimension varies fastest). A 0-size dimension yields no instances at
// all (spec §4.3 step 2); zero dimensions yields exactly one empty tuple.
func cartesian(sizes []int) [][]int {
	if len(sizes) == 0 {
		return [][]int{{}}
	}
	for _, s := range sizes {
		if s == 0 {
			return nil
		}
	}

	total := 1
	for _, s := range sizes {
		total *= s
	}
	out := make([][]int, 0, total)

	idx := make([]int, len(sizes))
	for {
		out = append(out, append([]int{}, idx...))

		pos := len(sizes) - 1
		for pos >= 0 {
			idx[pos]++
			if idx[pos] < sizes[pos] {
				break
			}
			idx[pos] = 0
			pos--
		}
		if pos < 0 {
			break
		}
	}
	return out
}

// formatInstanceID interleaves idx into node.ID's path, in declaration
// order: a dimension whose raw label appears as a literal "[label]"
// placeholder in the path (a decomposed JSON-schema field, spec §4.2) is
// substituted inline; any other dimension is appended as a trailing
// bracketed index.
func formatInstanceID(node *graphbuild.Node, idx []int) string {
	colon := strings.IndexByte(node.ID, ':')
	kind := node.ID[:colon]
	path := node.ID[colon+1:]

	for i, d := range node.Dimensions {
		placeholder := "[" + d.RawLabel + "]"
		repl := "[" + strconv.Itoa(idx[i]) + "]"
		if strings.Contains(path, placeholder) {
			path = strings.Replace(path, placeholder, repl, 1)
		} else {
			path += repl
		}
	}
	return kind + ":" + path
}
