// Package expand implements the canonical expander (spec §4.3): it resolves
// dimension sizes on an unexpanded graphbuild.Graph, enumerates one concrete
// instance per (node, index-tuple), expands edges between aligned instances,
// materialises fan-in descriptors, and collapses transparent Input alias
// chains, producing a flat CanonicalBlueprint.
package expand

import (
	"github.com/renku/pipeline-engine/pkg/blueprint"
	"github.com/renku/pipeline-engine/pkg/graphbuild"
)

// NodeInstance is one concrete (node, index-tuple) instance of an unexpanded
// graphbuild.Node.
type NodeInstance struct {
	ID           string
	Kind         graphbuild.NodeKind
	SourceNodeID string
	Indices      []int
}

// EdgeInstance is one expanded edge between two concrete instances.
type EdgeInstance struct {
	From       string
	To         string
	Conditions *blueprint.Condition
}

// FanInMember is one upstream source folded into a fan-in input, with the
// group/order coordinates read off its own indices (spec §4.3 step 4).
type FanInMember struct {
	ID    string
	Group int
	Order int
}

// FanInDescriptor records how a fan-in input's upstream members are grouped
// and ordered.
type FanInDescriptor struct {
	GroupBy string
	OrderBy string
	Members []FanInMember
}

// CanonicalBlueprint is the flat, expanded form of a blueprint (spec §3): one
// NodeInstance per (node, index-tuple), edges between instances, resolved
// input bindings per producer, and fan-in descriptors.
type CanonicalBlueprint struct {
	Nodes map[string]*NodeInstance
	Edges []*EdgeInstance
	// InputBindings maps a producer instance id to a map of the bare
	// parameter name the producer referenced to the canonical id of its
	// fully-resolved (alias-collapsed) source.
	InputBindings map[string]map[string]string
	FanIn         map[string]*FanInDescriptor
}

// Expand compiles an unexpanded BlueprintGraph plus concrete input values
// into a CanonicalBlueprint. inputs is keyed by canonical Input: id.
func Expand(g *graphbuild.Graph, inputs map[string]interface{}) (*CanonicalBlueprint, error) {
	sizes, err := resolveDimensionSizes(g, inputs)
	if err != nil {
		return nil, err
	}

	instancesByNode, instanceByID, order, err := enumerateInstances(g, sizes)
	if err != nil {
		return nil, err
	}

	expandedEdges := expandEdges(g, instancesByNode)

	fanIn, err := materializeFanIn(g, instanceByID, expandedEdges)
	if err != nil {
		return nil, err
	}

	finalEdges, bindings, err := collapseAliases(g, instanceByID, expandedEdges, order)
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]*NodeInstance, len(instanceByID))
	for id, inst := range instanceByID {
		nodes[id] = inst
	}

	return &CanonicalBlueprint{
		Nodes:         nodes,
		Edges:         finalEdges,
		InputBindings: bindings,
		FanIn:         fanIn,
	}, nil
}
