package graphbuild

import (
	"strconv"
	"strings"

	"github.com/renku/pipeline-engine/pkg/blueprint"
	"github.com/renku/pipeline-engine/pkg/errs"
	"github.com/renku/pipeline-engine/pkg/ids"
)

// Builder walks a blueprint.Tree and produces the unexpanded BlueprintGraph.
// It mirrors the shape of a single-pass recursive-descent compiler: register
// every declared node first, then resolve every edge reference against that
// registry, recording dimension symbols and lineage as a side effect of
// resolution rather than in a logically separate pass.
type Builder struct {
	tree *blueprint.Tree
	g    *Graph

	docs map[string]*blueprint.Document
	// localIndex[namespacePathKey][structuralKey] -> node id, for every node
	// declared directly inside that document (producers, artifacts
	// including decomposed fields, and inputs).
	localIndex map[string]map[string]string

	// namespaceDimSymbol remembers the canonical selector first seen for a
	// given namespace scope key, to validate that every later reference
	// into the same namespace position agrees (spec §4.2 pass 1 conflict
	// check).
	namespaceDimSymbol map[string]ids.DimensionSelector
	// localDimSymbol remembers the canonical selector first seen for a
	// given (nodeID, ordinal) local dimension position.
	localDimSymbol map[string]ids.DimensionSelector

	// nodeDims accumulates, per node id, the DimensionSymbols discovered so
	// far, keyed by their String() form to dedupe.
	nodeDims map[string]map[string]DimensionSymbol
}

// BuildGraph compiles tree into an unexpanded BlueprintGraph.
func BuildGraph(tree *blueprint.Tree) (*Graph, error) {
	b := &Builder{
		tree:               tree,
		g:                  NewGraph(),
		docs:               make(map[string]*blueprint.Document),
		localIndex:         make(map[string]map[string]string),
		namespaceDimSymbol: make(map[string]ids.DimensionSelector),
		localDimSymbol:     make(map[string]ids.DimensionSelector),
		nodeDims:           make(map[string]map[string]DimensionSymbol),
	}

	if err := b.flatten(); err != nil {
		return nil, err
	}
	if err := b.registerNodes(); err != nil {
		return nil, err
	}
	if err := b.resolveEdges(); err != nil {
		return nil, err
	}
	b.finalizeDimensions()

	return b.g, nil
}

func pathKeyOf(path []string) string {
	return strings.Join(path, ".")
}

// flatten records every document by its namespace path key and its declared
// loops, for lookup during edge resolution.
func (b *Builder) flatten() error {
	return b.tree.Walk(func(path []string, doc *blueprint.Document) error {
		key := pathKeyOf(path)
		b.docs[key] = doc
		b.localIndex[key] = make(map[string]string)
		if len(doc.Loops) > 0 {
			b.g.Loops[key] = doc.Loops
		}
		return nil
	})
}

// registerNodes declares every Input/Artifact/Producer node (including
// synthetic decomposed-field artifacts), without dimensions, and populates
// localIndex.
func (b *Builder) registerNodes() error {
	return b.tree.Walk(func(path []string, doc *blueprint.Document) error {
		key := pathKeyOf(path)

		for _, in := range doc.Inputs {
			qualified := qualifiedName(path, in.Name)
			id := ids.Format(ids.KindInput, qualified)
			if err := b.g.AddNode(&Node{
				ID:            id,
				Kind:          NodeInput,
				NamespacePath: path,
				Required:      in.Required,
				FanIn:         in.FanIn,
			}); err != nil {
				return err
			}
			b.localIndex[key][in.Name] = id
		}

		for _, pr := range doc.Producers {
			alias := ids.FormatProducerAlias(path, pr.Name)
			id := ids.Format(ids.KindProducer, alias)
			if err := b.g.AddNode(&Node{
				ID:            id,
				Kind:          NodeProducer,
				NamespacePath: path,
				Provider:      pr.Provider,
				Model:         pr.Model,
				Config:        pr.Config,
				Models:        pr.Models,
				SDKMapping:    pr.SDKMapping,
			}); err != nil {
				return err
			}
			b.localIndex[key][pr.Name] = id
		}

		for _, art := range doc.Artifacts {
			if art.Schema != nil && len(art.Schema.Arrays) > 0 {
				for _, df := range decomposeSchema(art.Schema) {
					qualified := qualifiedName(path, df.Name)
					id := ids.Format(ids.KindArtifact, qualified)
					if err := b.g.AddNode(&Node{
						ID:             id,
						Kind:           NodeArtifact,
						NamespacePath:  path,
						DecomposedFrom: art.Name,
						CountInput:     df.CountInput,
					}); err != nil {
						return err
					}
					b.localIndex[key][structuralKey(df.Name)] = id
				}
				continue
			}

			qualified := qualifiedName(path, art.Name)
			id := ids.Format(ids.KindArtifact, qualified)
			if err := b.g.AddNode(&Node{
				ID:               id,
				Kind:             NodeArtifact,
				NamespacePath:    path,
				Required:         art.Required,
				CountInput:       art.CountInput,
				CountInputOffset: art.CountInputOffset,
			}); err != nil {
				return err
			}
			b.localIndex[key][art.Name] = id
		}

		return nil
	})
}

func qualifiedName(path []string, name string) string {
	if len(path) == 0 {
		return name
	}
	return strings.Join(path, ".") + "." + name
}

// resolveEdges walks every document's edges and collectors, resolving each
// reference and recording the resulting edge plus any newly discovered
// dimension symbols.
func (b *Builder) resolveEdges() error {
	return b.tree.Walk(func(path []string, doc *blueprint.Document) error {
		key := pathKeyOf(path)

		for _, e := range doc.Edges {
			fromRes, err := b.resolveReference(key, e.From)
			if err != nil {
				return err
			}
			toRes, err := b.resolveReference(key, e.To)
			if err != nil {
				return err
			}

			fromSel, err := b.materializeSelectors(fromRes)
			if err != nil {
				return err
			}
			toSel, err := b.materializeSelectors(toRes)
			if err != nil {
				return err
			}

			b.g.AddEdge(&Edge{
				From:          fromRes.nodeID,
				To:            toRes.nodeID,
				FromSelectors: fromSel,
				ToSelectors:   toSel,
				Conditions:    e.Conditions,
				GroupBy:       e.GroupBy,
				OrderBy:       e.OrderBy,
			})
		}

		for _, c := range doc.Collectors {
			fromRes, err := b.resolveReference(key, c.From)
			if err != nil {
				return err
			}
			toRes, err := b.resolveReference(key, c.Into)
			if err != nil {
				return err
			}
			fromSel, err := b.materializeSelectors(fromRes)
			if err != nil {
				return err
			}
			toSel, err := b.materializeSelectors(toRes)
			if err != nil {
				return err
			}
			b.g.AddEdge(&Edge{
				From:          fromRes.nodeID,
				To:            toRes.nodeID,
				FromSelectors: fromSel,
				ToSelectors:   toSel,
				GroupBy:       c.GroupBy,
				OrderBy:       c.OrderBy,
			})
		}

		return nil
	})
}

// resolution is the outcome of resolving one edge reference string.
type resolution struct {
	nodeID             string
	namespaceSelectors []ids.DimensionSelector
	namespaceScopeKeys []string
	localSelectors     []ids.DimensionSelector
}

func (b *Builder) resolveReference(startKey, raw string) (resolution, error) {
	segments, err := splitReference(raw)
	if err != nil {
		return resolution{}, err
	}
	return b.resolveInDoc(startKey, segments, nil, nil)
}

func (b *Builder) resolveInDoc(pathKey string, segments []refSegment, nsSelectors []ids.DimensionSelector, nsScopeKeys []string) (resolution, error) {
	if len(segments) == 0 {
		return resolution{}, errs.New(errs.CategoryParser, errs.InvalidReference, "empty reference in namespace %q", pathKey)
	}

	for length := len(segments); length >= 1; length-- {
		// Plain nodes are registered under their bare dotted name (brackets
		// on the reference are local-dimension selectors, not part of the
		// node's identity); decomposed artifact fields are registered under
		// a structural key with a literal "[]" placeholder where their
		// array index lives. Try the bare form first, then the bracketed
		// form, so both kinds of declared node are reachable.
		nodeID, ok := b.localIndex[pathKey][bareKeyFromSegments(segments[:length])]
		if !ok {
			nodeID, ok = b.localIndex[pathKey][buildStructuralKeyFromSegments(segments[:length])]
		}
		if !ok {
			continue
		}

		if length == len(segments) {
			var localSels []ids.DimensionSelector
			for _, seg := range segments[:length] {
				localSels = append(localSels, seg.Selectors...)
			}
			return resolution{
				nodeID:             nodeID,
				namespaceSelectors: nsSelectors,
				namespaceScopeKeys: nsScopeKeys,
				localSelectors:     localSels,
			}, nil
		}

		// A shorter-than-full structural match is only meaningful as a
		// disambiguating qualifier (e.g. "Compositor.Image[segment]" where
		// "Compositor" names the producer that owns the "Image" artifact):
		// it introduces no dimension of its own and resolution continues
		// against the remaining segments in the same document.
		node := b.g.Nodes[nodeID]
		if node.Kind != NodeProducer {
			return resolution{}, errs.New(errs.CategoryValidation, errs.InvalidReference,
				"reference %q: %q resolves to a non-producer node but is followed by further segments", rawJoin(segments), nodeID)
		}
		for _, seg := range segments[:length] {
			if len(seg.Selectors) > 0 {
				return resolution{}, errs.New(errs.CategoryValidation, errs.InvalidReference,
					"reference %q: a producer qualifier segment may not carry a selector", rawJoin(segments))
			}
		}
		return b.resolveInDoc(pathKey, segments[length:], nsSelectors, nsScopeKeys)
	}

	// No local match at any prefix length: the first segment must name a
	// child namespace to descend into.
	first := segments[0]
	doc, ok := b.docs[pathKey]
	if !ok {
		return resolution{}, errs.New(errs.CategoryValidation, errs.UnknownNamespace, "unknown namespace %q", pathKey)
	}
	if _, ok := doc.Children[first.Name]; !ok {
		return resolution{}, errs.New(errs.CategoryValidation, errs.UnknownNamespace,
			"reference %q: %q is neither a declared node in namespace %q nor a child namespace", rawJoin(segments), first.Name, pathKey)
	}

	childKey := first.Name
	if pathKey != "" {
		childKey = pathKey + "." + first.Name
	}

	newNsSelectors := append(append([]ids.DimensionSelector{}, nsSelectors...), first.Selectors...)
	newNsScopeKeys := append(append([]string{}, nsScopeKeys...), repeatString(childKey, len(first.Selectors))...)

	return b.resolveInDoc(childKey, segments[1:], newNsSelectors, newNsScopeKeys)
}

func buildStructuralKeyFromSegments(segs []refSegment) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = s.Name + strings.Repeat("[]", len(s.Selectors))
	}
	return strings.Join(parts, ".")
}

func bareKeyFromSegments(segs []refSegment) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = s.Name
	}
	return strings.Join(parts, ".")
}

func rawJoin(segs []refSegment) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = s.Name
	}
	return strings.Join(parts, ".")
}

func repeatString(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

// materializeSelectors turns a resolution into the edge's ordered
// DimensionSymbolSelector list, validating namespace/local dimension
// agreement and recording every discovered symbol against its node.
func (b *Builder) materializeSelectors(res resolution) ([]DimensionSymbolSelector, error) {
	var out []DimensionSymbolSelector

	for i, sel := range res.namespaceSelectors {
		scopeKey := res.namespaceScopeKeys[i]
		canonical, err := b.reconcileNamespaceSelector(scopeKey, sel)
		if err != nil {
			return nil, err
		}
		sym := DimensionSymbol{
			NodeID:   res.nodeID,
			Scope:    ScopeNamespace,
			ScopeKey: scopeKey,
			Ordinal:  i,
			RawLabel: selectorLabel(canonical),
		}
		b.recordNodeDim(res.nodeID, sym)
		out = append(out, DimensionSymbolSelector{Symbol: sym, Selector: sel})
	}

	for i, sel := range res.localSelectors {
		ordinal := len(res.namespaceSelectors) + i
		scopeKey := res.nodeID
		dimKey := scopeKey + "#" + strconv.Itoa(ordinal)
		canonical, err := b.reconcileLocalSelector(dimKey, sel)
		if err != nil {
			return nil, err
		}
		sym := DimensionSymbol{
			NodeID:   res.nodeID,
			Scope:    ScopeLocal,
			ScopeKey: scopeKey,
			Ordinal:  ordinal,
			RawLabel: selectorLabel(canonical),
		}
		b.recordNodeDim(res.nodeID, sym)
		out = append(out, DimensionSymbolSelector{Symbol: sym, Selector: sel})

		if sel.Kind == ids.SelectorLoop {
			b.recordLineage(res.nodeID, sym, sel.Symbol)
		}
	}

	return out, nil
}

// recordLineage looks for an enclosing namespace dimension labelled with the
// same loop symbol as a freshly discovered local dimension and, if found,
// records that the local dimension is the same axis as that outer loop
// rather than an independent fan-out (spec §4.2: "dimension lineage").
func (b *Builder) recordLineage(nodeID string, localSym DimensionSymbol, symbol string) {
	node, ok := b.g.Nodes[nodeID]
	if !ok {
		return
	}
	for depth := len(node.NamespacePath); depth > 0; depth-- {
		ancestorKey := pathKeyOf(node.NamespacePath[:depth])
		sel, ok := b.namespaceDimSymbol[ancestorKey]
		if ok && sel.Kind == ids.SelectorLoop && sel.Symbol == symbol {
			b.g.Lineage[localSym.String()] = ancestorKey + "::" + symbol
			return
		}
	}
}

func (b *Builder) reconcileNamespaceSelector(scopeKey string, sel ids.DimensionSelector) (ids.DimensionSelector, error) {
	existing, ok := b.namespaceDimSymbol[scopeKey]
	if !ok {
		b.namespaceDimSymbol[scopeKey] = sel
		return sel, nil
	}
	if existing.Kind != sel.Kind || (existing.Kind == ids.SelectorLoop && existing.Symbol != sel.Symbol) {
		return ids.DimensionSelector{}, errs.New(errs.CategoryRuntime, errs.GraphBuildError,
			"namespace %q is indexed with incompatible selectors: %v and %v", scopeKey, existing, sel)
	}
	return existing, nil
}

func (b *Builder) reconcileLocalSelector(dimKey string, sel ids.DimensionSelector) (ids.DimensionSelector, error) {
	existing, ok := b.localDimSymbol[dimKey]
	if !ok {
		b.localDimSymbol[dimKey] = sel
		return sel, nil
	}
	if existing.Kind != sel.Kind || (existing.Kind == ids.SelectorLoop && existing.Symbol != sel.Symbol) {
		return ids.DimensionSelector{}, errs.New(errs.CategoryRuntime, errs.GraphBuildError,
			"local dimension %q is indexed with incompatible selectors: %v and %v", dimKey, existing, sel)
	}
	return existing, nil
}

func selectorLabel(sel ids.DimensionSelector) string {
	if sel.Kind == ids.SelectorLoop {
		return sel.Symbol
	}
	return strconv.Itoa(sel.Value)
}

func (b *Builder) recordNodeDim(nodeID string, sym DimensionSymbol) {
	m, ok := b.nodeDims[nodeID]
	if !ok {
		m = make(map[string]DimensionSymbol)
		b.nodeDims[nodeID] = m
	}
	m[sym.String()] = sym
}

// finalizeDimensions assigns every accumulated DimensionSymbol to its node,
// ordered by Ordinal, and synthesizes a local dimension for any artifact
// node declared with a CountInput that was never indexed by an edge
// reference.
func (b *Builder) finalizeDimensions() {
	for id, node := range b.g.Nodes {
		if node.Kind == NodeArtifact && node.CountInput != "" {
			hasLocal := false
			for _, sym := range b.nodeDims[id] {
				if sym.Scope == ScopeLocal {
					hasLocal = true
					break
				}
			}
			if !hasLocal {
				nsCount := 0
				for _, sym := range b.nodeDims[id] {
					if sym.Scope == ScopeNamespace {
						nsCount++
					}
				}
				label := singularize(lastSegment(node.CountInput))
				sym := DimensionSymbol{NodeID: id, Scope: ScopeLocal, ScopeKey: id, Ordinal: nsCount, RawLabel: label}
				b.recordNodeDim(id, sym)
			}
		}
	}

	for id, node := range b.g.Nodes {
		syms := b.nodeDims[id]
		dims := make([]DimensionSymbol, 0, len(syms))
		for _, s := range syms {
			dims = append(dims, s)
		}
		sortDimensionsByOrdinal(dims)
		node.Dimensions = dims
	}
}

func sortDimensionsByOrdinal(dims []DimensionSymbol) {
	for i := 1; i < len(dims); i++ {
		for j := i; j > 0 && dims[j-1].Ordinal > dims[j].Ordinal; j-- {
			dims[j-1], dims[j] = dims[j], dims[j-1]
		}
	}
}

