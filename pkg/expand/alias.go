package expand

import (
	"github.com/renku/pipeline-engine/pkg/blueprint"
	"github.com/renku/pipeline-engine/pkg/errs"
	"github.com/renku/pipeline-engine/pkg/graphbuild"
	"github.com/renku/pipeline-engine/pkg/ids"
)

// collapseAliases implements spec §4.3 step 5: an Input instance whose only
// incoming edge is from another non-fan-in node is transparent and is
// replaced by its resolved source everywhere it is referenced. Conditions on
// the edge that fed a collapsed Input propagate onto the rewritten outbound
// edge. Bindings are recorded for every edge reaching a Producer instance,
// keyed by the bare parameter name the producer referenced.
func collapseAliases(g *graphbuild.Graph, instanceByID map[string]*NodeInstance, edges []*EdgeInstance, order []string) ([]*EdgeInstance, map[string]map[string]string, error) {
	incoming := make(map[string][]*EdgeInstance, len(edges))
	for _, e := range edges {
		incoming[e.To] = append(incoming[e.To], e)
	}

	resolved := make(map[string]string, len(order))
	aliasCondition := make(map[string]*blueprint.Condition)

	var resolve func(id string, visiting map[string]bool) (string, error)
	resolve = func(id string, visiting map[string]bool) (string, error) {
		if r, ok := resolved[id]; ok {
			return r, nil
		}

		inst, ok := instanceByID[id]
		if !ok || inst.Kind != graphbuild.NodeInput {
			resolved[id] = id
			return id, nil
		}

		node, ok := g.Nodes[inst.SourceNodeID]
		if !ok || node.FanIn {
			resolved[id] = id
			return id, nil
		}

		ins := incoming[id]
		if len(ins) == 0 {
			resolved[id] = id
			return id, nil
		}
		if len(ins) > 1 {
			return "", errs.New(errs.CategoryRuntime, errs.MultipleUpstreamInputs,
				"input %q has multiple upstream sources but is not a fan-in input", id)
		}

		if visiting[id] {
			return "", errs.New(errs.CategoryRuntime, errs.AliasCycleDetected, "alias cycle detected at %q", id)
		}
		visiting[id] = true

		src := ins[0]
		aliasCondition[id] = src.Conditions

		final, err := resolve(src.From, visiting)
		if err != nil {
			return "", err
		}
		visiting[id] = false

		resolved[id] = final
		return final, nil
	}

	for _, id := range order {
		if _, err := resolve(id, make(map[string]bool)); err != nil {
			return nil, nil, err
		}
	}

	bindings := make(map[string]map[string]string)
	var finalEdges []*EdgeInstance

	for _, e := range edges {
		toInst, ok := instanceByID[e.To]
		if ok && toInst.Kind == graphbuild.NodeInput {
			node, ok := g.Nodes[toInst.SourceNodeID]
			if ok && !node.FanIn {
				// This edge only exists to feed a transparent alias; its
				// source is already wired directly wherever the alias was
				// referenced, so the alias edge itself is dropped.
				continue
			}
		}

		resolvedFrom, err := resolve(e.From, make(map[string]bool))
		if err != nil {
			return nil, nil, err
		}

		cond := e.Conditions
		if cond == nil {
			if ac, ok := aliasCondition[e.From]; ok {
				cond = ac
			}
		}

		finalEdges = append(finalEdges, &EdgeInstance{From: resolvedFrom, To: e.To, Conditions: cond})

		if ok && toInst.Kind == graphbuild.NodeProducer {
			alias := bareName(e.From)
			m, exists := bindings[e.To]
			if !exists {
				m = make(map[string]string)
				bindings[e.To] = m
			}
			if existing, seen := m[alias]; seen && existing != resolvedFrom {
				return nil, nil, errs.New(errs.CategoryRuntime, errs.InvalidInputBinding,
					"producer %q parameter %q bound to both %q and %q", e.To, alias, existing, resolvedFrom)
			}
			m[alias] = resolvedFrom
		}
	}

	return finalEdges, bindings, nil
}

func bareName(id string) string {
	p, err := ids.Parse(id)
	if err != nil {
		return id
	}
	return p.Name
}
