package expand

import (
	"github.com/renku/pipeline-engine/pkg/graphbuild"
	"github.com/renku/pipeline-engine/pkg/ids"
)

// expandEdges expands every unexpanded edge into one EdgeInstance per
// aligned (sourceInstance, targetInstance) pair (spec §4.3 step 3).
// Self-loops are dropped.
func expandEdges(g *graphbuild.Graph, instancesByNode map[string][]*NodeInstance) []*EdgeInstance {
	var out []*EdgeInstance
	for _, e := range g.Edges {
		for _, u := range instancesByNode[e.From] {
			for _, v := range instancesByNode[e.To] {
				if u.ID == v.ID {
					continue
				}
				if !edgeAligned(e, u, v) {
					continue
				}
				out = append(out, &EdgeInstance{From: u.ID, To: v.ID, Conditions: e.Conditions})
			}
		}
	}
	return out
}

// edgeAligned checks alignment on every dimension position both endpoints'
// selectors share; positions beyond the shorter selector list are
// unconstrained (the longer side's extra dimension fans freely across all of
// the shorter side's instances).
func edgeAligned(e *graphbuild.Edge, u, v *NodeInstance) bool {
	n := len(e.FromSelectors)
	if len(e.ToSelectors) < n {
		n = len(e.ToSelectors)
	}
	for i := 0; i < n; i++ {
		if i >= len(u.Indices) || i >= len(v.Indices) {
			continue
		}
		if !ids.Aligned(e.FromSelectors[i].Selector, e.ToSelectors[i].Selector, u.Indices[i], v.Indices[i]) {
			return false
		}
	}
	return true
}
