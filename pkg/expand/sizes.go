package expand

import (
	"strconv"
	"strings"

	"github.com/renku/pipeline-engine/pkg/blueprint"
	"github.com/renku/pipeline-engine/pkg/errs"
	"github.com/renku/pipeline-engine/pkg/graphbuild"
	"github.com/renku/pipeline-engine/pkg/ids"
)

// sizeKeyOf returns the key under which a dimension symbol's resolved size is
// tracked: namespace dimensions are shared across every node that references
// the same namespace scope key, local dimensions are unique to their
// declaring node.
func sizeKeyOf(sym graphbuild.DimensionSymbol) string {
	if sym.Scope == graphbuild.ScopeNamespace {
		return "ns:" + sym.ScopeKey
	}
	return "local:" + sym.ScopeKey + "#" + strconv.Itoa(sym.Ordinal)
}

// dimInfo is what's needed to resolve a size key against loops[] and system
// inputs: a representative symbol plus the namespace path to search from.
type dimInfo struct {
	sym           graphbuild.DimensionSymbol
	namespacePath []string
}

type sizeResolver struct {
	g           *graphbuild.Graph
	inputs      map[string]interface{}
	sizes       map[string]int
	dims        map[string]dimInfo
	symToKey    map[string]string
}

// resolveDimensionSizes implements spec §4.3 step 1: countInput lookups,
// loops[] lookups, and transitive propagation through aligned edges and
// dimension lineage, iterated to a fixpoint.
func resolveDimensionSizes(g *graphbuild.Graph, inputs map[string]interface{}) (map[string]int, error) {
	r := &sizeResolver{
		g:        g,
		inputs:   inputs,
		sizes:    make(map[string]int),
		dims:     make(map[string]dimInfo),
		symToKey: make(map[string]string),
	}
	r.collectDimInfo()

	if err := r.resolveCountInputs(); err != nil {
		return nil, err
	}
	if err := r.resolveLoopDefs(); err != nil {
		return nil, err
	}
	if err := r.propagateToFixpoint(); err != nil {
		return nil, err
	}
	if err := r.checkComplete(); err != nil {
		return nil, err
	}
	return r.sizes, nil
}

func (r *sizeResolver) collectDimInfo() {
	for _, nodeID := range r.g.NodeOrder() {
		node := r.g.Nodes[nodeID]
		for _, d := range node.Dimensions {
			key := sizeKeyOf(d)
			r.symToKey[d.String()] = key
			if _, ok := r.dims[key]; ok {
				continue
			}
			path := node.NamespacePath
			if d.Scope == graphbuild.ScopeNamespace {
				path = splitPathKey(d.ScopeKey)
			}
			r.dims[key] = dimInfo{sym: d, namespacePath: path}
		}
	}
}

// trySet records size for key, erroring if a conflicting size was already
// recorded (spec §4.3 step 1: "conflicting sizes... GRAPH_EXPANSION_ERROR").
// Returns whether this call changed the map.
func (r *sizeResolver) trySet(key string, size int) (bool, error) {
	if existing, ok := r.sizes[key]; ok {
		if existing != size {
			return false, errs.New(errs.CategoryRuntime, errs.GraphExpansionError,
				"dimension %q has conflicting resolved sizes %d and %d", key, existing, size)
		}
		return false, nil
	}
	r.sizes[key] = size
	return true, nil
}

func (r *sizeResolver) resolveCountInputs() error {
	for _, nodeID := range r.g.NodeOrder() {
		node := r.g.Nodes[nodeID]
		if node.Kind != graphbuild.NodeArtifact || node.CountInput == "" {
			continue
		}
		dim, ok := lastLocalDimension(node)
		if !ok {
			continue
		}

		val, err := r.resolveInputValue(node.NamespacePath, node.CountInput)
		if err != nil {
			return err
		}
		n, err := toPositiveInt(val)
		if err != nil {
			return errs.Wrap(errs.CategoryRuntime, errs.InvalidInputValue, err,
				"countInput %q for node %q", node.CountInput, nodeID)
		}
		size := n + node.CountInputOffset

		key := sizeKeyOf(dim)
		if _, err := r.trySet(key, size); err != nil {
			return err
		}

		// Back-propagate to any other dimension on the same node sharing the
		// same raw label (spec §4.3 step 1a).
		for _, d := range node.Dimensions {
			if d.RawLabel == dim.RawLabel {
				if _, err := r.trySet(sizeKeyOf(d), size); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func lastLocalDimension(node *graphbuild.Node) (graphbuild.DimensionSymbol, bool) {
	var best graphbuild.DimensionSymbol
	found := false
	for _, d := range node.Dimensions {
		if d.Scope == graphbuild.ScopeLocal && (!found || d.Ordinal > best.Ordinal) {
			best = d
			found = true
		}
	}
	return best, found
}

func (r *sizeResolver) resolveLoopDefs() error {
	keys := sortedKeys(r.dims)
	for _, key := range keys {
		if _, ok := r.sizes[key]; ok {
			continue
		}
		info := r.dims[key]
		for depth := len(info.namespacePath); depth >= 0; depth-- {
			ns := pathKeyOf(info.namespacePath[:depth])
			for _, loop := range r.g.Loops[ns] {
				if loop.Name != info.sym.RawLabel {
					continue
				}
				val, err := r.resolveInputValue(info.namespacePath[:depth], loop.CountInput)
				if err != nil {
					return err
				}
				n, err := toPositiveInt(val)
				if err != nil {
					return errs.Wrap(errs.CategoryRuntime, errs.InvalidInputValue, err,
						"loop %q countInput %q", loop.Name, loop.CountInput)
				}
				if _, err := r.trySet(key, n+loop.Offset); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (r *sizeResolver) propagateToFixpoint() error {
	for {
		changed := false

		for _, e := range r.g.Edges {
			n := len(e.FromSelectors)
			if len(e.ToSelectors) < n {
				n = len(e.ToSelectors)
			}
			for i := 0; i < n; i++ {
				fs, ts := e.FromSelectors[i], e.ToSelectors[i]
				if fs.Selector.Kind != ids.SelectorLoop || ts.Selector.Kind != ids.SelectorLoop {
					continue
				}
				if fs.Selector.Offset != 0 || ts.Selector.Offset != 0 {
					continue
				}
				if fs.Selector.Symbol != ts.Selector.Symbol {
					continue
				}
				fk, tk := sizeKeyOf(fs.Symbol), sizeKeyOf(ts.Symbol)
				if v, ok := r.sizes[fk]; ok {
					c, err := r.trySet(tk, v)
					if err != nil {
						return err
					}
					changed = changed || c
				}
				if v, ok := r.sizes[tk]; ok {
					c, err := r.trySet(fk, v)
					if err != nil {
						return err
					}
					changed = changed || c
				}
			}
		}

		for localSymStr, ancestorDesc := range r.g.Lineage {
			localKey, ok := r.symToKey[localSymStr]
			if !ok {
				continue
			}
			idx := strings.LastIndex(ancestorDesc, "::")
			if idx < 0 {
				continue
			}
			nsKey := "ns:" + ancestorDesc[:idx]
			if v, ok := r.sizes[localKey]; ok {
				c, err := r.trySet(nsKey, v)
				if err != nil {
					return err
				}
				changed = changed || c
			}
			if v, ok := r.sizes[nsKey]; ok {
				c, err := r.trySet(localKey, v)
				if err != nil {
					return err
				}
				changed = changed || c
			}
		}

		if !changed {
			return nil
		}
	}
}

func (r *sizeResolver) checkComplete() error {
	for _, key := range sortedKeys(r.dims) {
		if _, ok := r.sizes[key]; !ok {
			info := r.dims[key]
			return errs.New(errs.CategoryRuntime, errs.MissingDimensionSize,
				"could not resolve a size for dimension %q (symbol %s)", key, info.sym.RawLabel)
		}
	}
	return nil
}

// resolveInputValue looks up name as an input, walking from path up to the
// root namespace, then falling back to the system-input namespace (spec §9).
func (r *sizeResolver) resolveInputValue(path []string, name string) (interface{}, error) {
	for depth := len(path); depth >= 0; depth-- {
		candidate := ids.Format(ids.KindInput, qualifiedName(path[:depth], name))
		if v, ok := r.inputs[candidate]; ok {
			return v, nil
		}
	}
	if blueprint.SystemInputs[name] {
		candidate := ids.Format(ids.KindInput, name)
		if v, ok := r.inputs[candidate]; ok {
			return v, nil
		}
	}
	return nil, errs.New(errs.CategoryRuntime, errs.MissingInputSource,
		"no value provided for input %q (searched namespace %q)", name, pathKeyOf(path))
}

func toPositiveInt(val interface{}) (int, error) {
	switch v := val.(type) {
	case int:
		if v <= 0 {
			return 0, errs.New(errs.CategoryRuntime, errs.InvalidInputValue, "expected a positive integer, got %d", v)
		}
		return v, nil
	case int64:
		return toPositiveInt(int(v))
	case float64:
		if v != float64(int(v)) {
			return 0, errs.New(errs.CategoryRuntime, errs.InvalidInputValue, "expected a whole number, got %v", v)
		}
		return toPositiveInt(int(v))
	default:
		return 0, errs.New(errs.CategoryRuntime, errs.InvalidInputValue, "expected a finite positive integer, got %T", val)
	}
}

func qualifiedName(path []string, name string) string {
	if len(path) == 0 {
		return name
	}
	return strings.Join(path, ".") + "." + name
}

func pathKeyOf(path []string) string {
	return strings.Join(path, ".")
}

func splitPathKey(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, ".")
}

func sortedKeys(m map[string]dimInfo) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
