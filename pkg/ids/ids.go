// Package ids implements the canonical id grammar shared by every stage of the
// pipeline: Input:/Artifact:/Producer: ids, dimension selectors, and producer
// aliases (spec §4.1).
//
//	id        := kind ":" dotted-path indices
//	kind      := "Input" | "Artifact" | "Producer"
//	dotted-path := segment ("." segment)*
//	indices   := ("[" non-negative-int "]")*
//
// Artifact ids may carry bracketed indices (either trailing, from the
// dimension cartesian product, or inline within a segment, from decomposed
// JSON-schema artefact names). Producer instance ids built by the expander
// also carry trailing indices (e.g. "Producer:AudioGen[0]"); Parse reports
// Indices only for Artifact ids. Input ids carry no indices.
package ids

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/renku/pipeline-engine/pkg/errs"
)

// Kind is one of the three canonical id kinds.
type Kind string

const (
	KindInput    Kind = "Input"
	KindArtifact Kind = "Artifact"
	KindProducer Kind = "Producer"
)

func (k Kind) valid() bool {
	return k == KindInput || k == KindArtifact || k == KindProducer
}

// ParsedID is the decomposed form of a canonical id.
type ParsedID struct {
	Kind Kind
	// Path is everything after "kind:", verbatim (it may itself contain
	// literal "[n]" substrings from decomposed artefact names).
	Path string
	// Name is the last dotted segment of Path, with any bracket suffix
	// stripped.
	Name string
	// Indices lists every bracketed integer found in Path, in left-to-right
	// (i.e. declaration) order.
	Indices []int
}

var bracketRe = regexp.MustCompile(`\[(\d+)\]`)

// Format joins a kind and a dotted path into a canonical id string.
func Format(kind Kind, path string) string {
	return string(kind) + ":" + path
}

// FormatIndexed appends bracketed indices, in order, to a base id.
func FormatIndexed(kind Kind, path string, indices ...int) string {
	var b strings.Builder
	b.WriteString(Format(kind, path))
	for _, i := range indices {
		fmt.Fprintf(&b, "[%d]", i)
	}
	return b.String()
}

// Parse decomposes a canonical id string.
func Parse(id string) (ParsedID, error) {
	colon := strings.IndexByte(id, ':')
	if colon < 0 {
		return ParsedID{}, errs.New(errs.CategoryParser, errs.InvalidReference, "id %q has no kind prefix", id)
	}

	kind := Kind(id[:colon])
	path := id[colon+1:]
	if !kind.valid() {
		return ParsedID{}, errs.New(errs.CategoryParser, errs.InvalidReference, "id %q has unknown kind %q", id, kind)
	}
	if path == "" {
		return ParsedID{}, errs.New(errs.CategoryParser, errs.InvalidReference, "id %q has an empty path", id)
	}

	// Only Artifact ids carry semantic indices from the dimension cartesian
	// product. A bracket group inside an Input or Producer id's name (e.g. a
	// constant-indexed input reference such as "Input:ReferenceImages[0]",
	// spec §4.2 third pass) is literal name text, not an index, and is left
	// out of Indices.
	var indices []int
	if kind == KindArtifact {
		matches := bracketRe.FindAllStringSubmatch(path, -1)
		indices = make([]int, 0, len(matches))
		for _, m := range matches {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return ParsedID{}, errs.Wrap(errs.CategoryParser, errs.InvalidReference, err, "id %q: invalid index", id)
			}
			indices = append(indices, n)
		}
	}

	segments := strings.Split(path, ".")
	last := segments[len(segments)-1]
	name := bracketRe.ReplaceAllString(last, "")

	return ParsedID{Kind: kind, Path: path, Name: name, Indices: indices}, nil
}

// IsCanonicalInputID reports whether id is a well-formed Input: id.
func IsCanonicalInputID(id string) bool {
	p, err := Parse(id)
	return err == nil && p.Kind == KindInput
}

// IsCanonicalArtifactID reports whether id is a well-formed Artifact: id.
func IsCanonicalArtifactID(id string) bool {
	p, err := Parse(id)
	return err == nil && p.Kind == KindArtifact
}

// IsCanonicalProducerID reports whether id is a well-formed Producer: id.
func IsCanonicalProducerID(id string) bool {
	p, err := Parse(id)
	return err == nil && p.Kind == KindProducer
}

// StripIndices removes every "[n]" group, trailing or inline, and returns the base id,
// e.g. "Artifact:Image[0][1]" -> "Artifact:Image". Used to map an indexed
// artefact reference back to its declaration-level base id.
func StripIndices(id string) string {
	return bracketRe.ReplaceAllString(id, "")
}

// FormatProducerAlias computes a producer's alias: the dot-joined namespace
// path if non-empty, otherwise the producer's own name. The alias is the
// identifier used for graph references and may shadow the producer's
// internal name (import-alias precedence, spec §4.1).
func FormatProducerAlias(namespacePath []string, producerName string) string {
	if len(namespacePath) > 0 {
		return strings.Join(namespacePath, ".")
	}
	return producerName
}

// SelectorKind distinguishes a loop-symbol selector from a numeric constant.
type SelectorKind string

const (
	SelectorLoop  SelectorKind = "loop"
	SelectorConst SelectorKind = "const"
)

// DimensionSelector is an edge endpoint's dimension coordinate: either a loop
// symbol with an integer offset, or a numeric constant.
type DimensionSelector struct {
	Kind   SelectorKind
	Symbol string // set when Kind == SelectorLoop
	Offset int    // set when Kind == SelectorLoop
	Value  int    // set when Kind == SelectorConst
}

var (
	constSelectorRe = regexp.MustCompile(`^\d+$`)
	loopSelectorRe  = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)([+-]\d+)?$`)
)

// ParseDimensionSelector parses a bracketed selector body: "i", "i+1", "i-1",
// or a bare non-negative integer constant.
func ParseDimensionSelector(s string) (DimensionSelector, error) {
	s = strings.TrimSpace(s)

	if constSelectorRe.MatchString(s) {
		v, err := strconv.Atoi(s)
		if err != nil {
			return DimensionSelector{}, errs.Wrap(errs.CategoryParser, errs.InvalidDimensionSelector, err, "invalid constant selector %q", s)
		}
		return DimensionSelector{Kind: SelectorConst, Value: v}, nil
	}

	m := loopSelectorRe.FindStringSubmatch(s)
	if m == nil {
		return DimensionSelector{}, errs.New(errs.CategoryParser, errs.InvalidDimensionSelector, "invalid dimension selector %q", s)
	}

	offset := 0
	if m[2] != "" {
		o, err := strconv.Atoi(m[2])
		if err != nil {
			return DimensionSelector{}, errs.Wrap(errs.CategoryParser, errs.InvalidDimensionSelector, err, "invalid offset in selector %q", s)
		}
		offset = o
	}

	return DimensionSelector{Kind: SelectorLoop, Symbol: m[1], Offset: offset}, nil
}

// Aligned reports whether a source index and a destination index satisfy the
// pairing of a source selector and a destination selector (spec §4.3 step 3):
// a const selector requires the corresponding index equal its value; two loop
// selectors require srcIdx-srcOffset == dstIdx-dstOffset.
func Aligned(srcSel, dstSel DimensionSelector, srcIdx, dstIdx int) bool {
	if srcSel.Kind == SelectorConst {
		if srcIdx != srcSel.Value {
			return false
		}
	}
	if dstSel.Kind == SelectorConst {
		if dstIdx != dstSel.Value {
			return false
		}
	}
	if srcSel.Kind == SelectorLoop && dstSel.Kind == SelectorLoop {
		if srcSel.Symbol != dstSel.Symbol {
			return true // different symbols: unconstrained relative to each other
		}
		return srcIdx-srcSel.Offset == dstIdx-dstSel.Offset
	}
	return true
}
