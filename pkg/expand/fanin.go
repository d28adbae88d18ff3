package expand

import (
	"github.com/renku/pipeline-engine/pkg/errs"
	"github.com/renku/pipeline-engine/pkg/graphbuild"
)

// materializeFanIn builds a FanInDescriptor per fan-in input instance (spec
// §4.3 step 4). A fan-in input with more than one upstream source and no
// groupBy/orderBy declared on any of its incoming (unexpanded) edges fails
// fast with MULTIPLE_UPSTREAM_INPUTS rather than guessing a grouping.
func materializeFanIn(g *graphbuild.Graph, instanceByID map[string]*NodeInstance, edges []*EdgeInstance) (map[string]*FanInDescriptor, error) {
	out := make(map[string]*FanInDescriptor)

	for _, nodeID := range g.NodeOrder() {
		node := g.Nodes[nodeID]
		if node.Kind != graphbuild.NodeInput || !node.FanIn {
			continue
		}

		incoming := g.IncomingEdges(nodeID)
		if len(incoming) == 0 {
			continue
		}

		var groupBy, orderBy string
		hasCollector := false
		for _, e := range incoming {
			if e.GroupBy != "" {
				groupBy = e.GroupBy
				hasCollector = true
			}
			if e.OrderBy != "" {
				orderBy = e.OrderBy
			}
		}
		if len(incoming) > 1 && !hasCollector {
			return nil, errs.New(errs.CategoryRuntime, errs.MultipleUpstreamInputs,
				"fan-in input %q has %d upstream sources and no collector grouping", nodeID, len(incoming))
		}

		for _, targetInst := range groupInstancesByNodeID(instanceByID, nodeID) {
			var members []FanInMember
			for _, e := range edges {
				if e.To != targetInst.ID {
					continue
				}
				src, ok := instanceByID[e.From]
				if !ok {
					continue
				}
				group, order := 0, 0
				if groupBy != "" {
					group = indexForLabel(g, src, groupBy)
				}
				if orderBy != "" {
					order = indexForLabel(g, src, orderBy)
				}
				members = append(members, FanInMember{ID: e.From, Group: group, Order: order})
			}
			if len(members) == 0 {
				continue
			}
			sortFanInMembers(members)
			out[targetInst.ID] = &FanInDescriptor{GroupBy: groupBy, OrderBy: orderBy, Members: members}
		}
	}

	return out, nil
}

func groupInstancesByNodeID(instanceByID map[string]*NodeInstance, nodeID string) []*NodeInstance {
	var out []*NodeInstance
	for _, inst := range instanceByID {
		if inst.SourceNodeID == nodeID {
			out = append(out, inst)
		}
	}
	return out
}

// indexForLabel reads the index an instance carries for the dimension
// labelled label on its declaring node, defaulting to group/order 0 (spec
// §4.3 step 4: "default group 0").
func indexForLabel(g *graphbuild.Graph, inst *NodeInstance, label string) int {
	node, ok := g.Nodes[inst.SourceNodeID]
	if !ok {
		return 0
	}
	for i, d := range node.Dimensions {
		if d.RawLabel == label && i < len(inst.Indices) {
			return inst.Indices[i]
		}
	}
	return 0
}

// sortFanInMembers orders members by group ascending, then by order
// ascending within a group (spec §4.3 step 4).
func sortFanInMembers(members []FanInMember) {
	for i := 1; i < len(members); i++ {
		for j := i; j > 0 && greater(members[j-1], members[j]); j-- {
			members[j-1], members[j] = members[j], members[j-1]
		}
	}
}

// greater reports whether a sorts after b: by Group ascending, then by Order
// ascending within a group.
func greater(a, b FanInMember) bool {
	if a.Group != b.Group {
		return a.Group > b.Group
	}
	return a.Order > b.Order
}
