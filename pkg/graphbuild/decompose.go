package graphbuild

import (
	"strings"

	"github.com/renku/pipeline-engine/pkg/blueprint"
)

// decomposedField is one synthetic artefact-definition produced by
// decomposing a JSON-schema array field into its leaf properties (spec
// §3, §4.2).
type decomposedField struct {
	// Name is the flat declared name, e.g. "Segments[segment].Script": the
	// array's own name with a literal "[<label>]" placeholder, followed by
	// the dotted path to the leaf property.
	Name  string
	Label string
	// CountInput is the input that sizes this field's dimension, carried
	// through from the owning ArraySpec so the expander can size a
	// decomposed field exactly like any other countInput-bearing artifact.
	CountInput string
}

// decomposeSchema walks a JSON-schema-shaped definition (an object with a
// "properties" map) and returns one decomposedField per leaf property
// reachable under each declared array.
func decomposeSchema(schema *blueprint.Schema) []decomposedField {
	if schema == nil || len(schema.Arrays) == 0 {
		return nil
	}

	var out []decomposedField
	for _, arr := range schema.Arrays {
		label := singularize(lastSegment(arr.Path))
		leaves := leafPropertyPaths(schema.Definition, arr.Path)
		for _, leaf := range leaves {
			out = append(out, decomposedField{
				Name:       arr.Path + "[" + label + "]." + leaf,
				Label:      label,
				CountInput: arr.CountInput,
			})
		}
	}
	return out
}

// leafPropertyPaths navigates definition's "properties" tree down to
// arrayPath, then returns the dotted paths of every leaf (non-object)
// property beneath it. If the schema isn't well-formed enough to navigate,
// it returns a single-element slice so the array still gets one synthetic
// field rather than silently vanishing.
func leafPropertyPaths(definition map[string]interface{}, arrayPath string) []string {
	node := navigateToProperties(definition, arrayPath)
	if node == nil {
		// Definition may already describe a single array element directly
		// (no wrapper object nesting it under arrayPath) rather than the
		// full document schema; fall back to treating it as such.
		node, _ = propertiesOf(definition)
	}
	if node == nil {
		return []string{"value"}
	}

	leaves := collectLeaves(node, "")
	if len(leaves) == 0 {
		return []string{"value"}
	}
	return leaves
}

func navigateToProperties(definition map[string]interface{}, path string) map[string]interface{} {
	current := definition
	for _, seg := range strings.Split(path, ".") {
		props, ok := propertiesOf(current)
		if !ok {
			return nil
		}
		next, ok := props[seg].(map[string]interface{})
		if !ok {
			return nil
		}
		current = next
	}
	// current now describes the array field itself; its items' properties
	// are what get decomposed.
	if items, ok := current["items"].(map[string]interface{}); ok {
		current = items
	}
	props, ok := propertiesOf(current)
	if !ok {
		return nil
	}
	return props
}

func propertiesOf(node map[string]interface{}) (map[string]interface{}, bool) {
	props, ok := node["properties"].(map[string]interface{})
	return props, ok
}

func collectLeaves(props map[string]interface{}, prefix string) []string {
	var out []string
	for name, raw := range props {
		full := name
		if prefix != "" {
			full = prefix + "." + name
		}
		if nested, ok := raw.(map[string]interface{}); ok {
			if sub, ok := propertiesOf(nested); ok {
				out = append(out, collectLeaves(sub, full)...)
				continue
			}
		}
		out = append(out, full)
	}
	return out
}

func lastSegment(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

// singularize derives a dimension label from an array field name by
// stripping a trailing "s" and lower-casing the first letter, e.g.
// "Segments" -> "segment". Best-effort: names that don't end in "s" are
// just lower-cased.
func singularize(name string) string {
	if name == "" {
		return name
	}
	if strings.HasSuffix(name, "s") && len(name) > 1 {
		name = name[:len(name)-1]
	}
	return strings.ToLower(name[:1]) + name[1:]
}
