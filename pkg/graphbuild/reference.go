package graphbuild

import (
	"regexp"
	"strings"

	"github.com/renku/pipeline-engine/pkg/errs"
	"github.com/renku/pipeline-engine/pkg/ids"
)

// refSegmentRe splits one dotted segment into its bare name and its
// selector bodies, e.g. "scene[i]" -> name "scene", bodies ["i"].
var refSegmentRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)((?:\[[^\]]*\])*)$`)
var bracketBodyRe = regexp.MustCompile(`\[([^\]]*)\]`)

// refSegment is one "." delimited token of an edge reference string.
type refSegment struct {
	Name      string
	Selectors []ids.DimensionSelector
}

// splitReference parses a raw edge reference (spec §4.2/§4.1, e.g.
// "scene[i].Script" or "Compositor.Image[segment][variant]") into its
// dotted segments.
func splitReference(raw string) ([]refSegment, error) {
	parts := strings.Split(raw, ".")
	segments := make([]refSegment, 0, len(parts))
	for _, part := range parts {
		m := refSegmentRe.FindStringSubmatch(part)
		if m == nil {
			return nil, errs.New(errs.CategoryParser, errs.InvalidReference, "malformed reference segment %q in %q", part, raw)
		}
		var sels []ids.DimensionSelector
		for _, bm := range bracketBodyRe.FindAllStringSubmatch(m[2], -1) {
			sel, err := ids.ParseDimensionSelector(bm[1])
			if err != nil {
				return nil, errs.Wrap(errs.CategoryParser, errs.InvalidReference, err, "reference %q", raw)
			}
			sels = append(sels, sel)
		}
		segments = append(segments, refSegment{Name: m[1], Selectors: sels})
	}
	return segments, nil
}

// structuralKey reduces a raw dotted reference to a shape comparable against
// a node's declared name regardless of whether its brackets carry a loop
// symbol or a concrete constant, e.g. both "Segments[segment].Script" and
// "Segments[0].Script" normalize to "Segments[].Script".
func structuralKey(raw string) string {
	return bracketBodyRe.ReplaceAllString(raw, "[]")
}
