package blueprint

import (
	"regexp"
	"strings"

	"github.com/renku/pipeline-engine/pkg/errs"
	"github.com/renku/pipeline-engine/pkg/ids"
)

// SystemInputs are implicitly declared in the root namespace whenever an edge
// references them without an explicit declaration (spec §9).
var SystemInputs = map[string]bool{
	"Duration":        true,
	"NumOfSegments":   true,
	"SegmentDuration": true,
	"MovieId":         true,
	"StorageRoot":     true,
	"StorageBasePath": true,
}

var decomposedPathRe = regexp.MustCompile(`\[\d+\]`)

// InputIdResolver computes, from a BlueprintTree, the set of declared
// canonical input ids and their qualified names, and resolves arbitrary
// lookup keys (canonical ids, qualified names, system inputs, decomposed
// artefact paths) to canonical ids (spec §4.1).
type InputIdResolver struct {
	// declaredIDs is the set of canonical Input: ids declared anywhere in
	// the tree.
	declaredIDs map[string]bool
	// byQualifiedName maps a dotted qualified name (namespace path + input
	// name) to its canonical Input: id.
	byQualifiedName map[string]string
}

// NewInputIdResolver walks tree and builds a resolver.
func NewInputIdResolver(tree *Tree) (*InputIdResolver, error) {
	r := &InputIdResolver{
		declaredIDs:     make(map[string]bool),
		byQualifiedName: make(map[string]string),
	}

	err := tree.Walk(func(path []string, doc *Document) error {
		for _, in := range doc.Inputs {
			qualified := qualifiedName(path, in.Name)
			id := ids.Format(ids.KindInput, qualified)
			r.declaredIDs[id] = true
			r.byQualifiedName[qualified] = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return r, nil
}

func qualifiedName(path []string, name string) string {
	if len(path) == 0 {
		return name
	}
	return strings.Join(path, ".") + "." + name
}

// DeclaredInputIDs returns every canonical Input: id declared in the tree.
func (r *InputIdResolver) DeclaredInputIDs() []string {
	out := make([]string, 0, len(r.declaredIDs))
	for id := range r.declaredIDs {
		out = append(out, id)
	}
	return out
}

// IsDeclared reports whether id was declared somewhere in the tree.
func (r *InputIdResolver) IsDeclared(id string) bool {
	return r.declaredIDs[id]
}

// ToCanonical resolves an arbitrary lookup key to a canonical id, following
// the precedence of spec §4.1:
//
//	(a) canonical Input: ids, validated for membership
//	(b) canonical Artifact: ids, passed through (artefact overrides)
//	(c) qualified names, mapped to their declared Input: id
//	(d) system inputs, mapped to Input:<name> without requiring declaration
//	(e) decomposed-artefact paths (heuristically containing "[<int>]"),
//	    mapped to Artifact:<key>
func (r *InputIdResolver) ToCanonical(key string) (string, error) {
	if ids.IsCanonicalInputID(key) {
		if !r.IsDeclared(key) {
			return "", errs.New(errs.CategoryValidation, errs.UnknownInput, "input %q is not declared in the blueprint", key)
		}
		return key, nil
	}

	if ids.IsCanonicalArtifactID(key) {
		return key, nil
	}

	if canonical, ok := r.byQualifiedName[key]; ok {
		return canonical, nil
	}

	if SystemInputs[key] {
		return ids.Format(ids.KindInput, key), nil
	}

	if decomposedPathRe.MatchString(key) {
		return ids.Format(ids.KindArtifact, key), nil
	}

	return "", errs.New(errs.CategoryValidation, errs.UnknownInput, "unknown input reference %q", key)
}
