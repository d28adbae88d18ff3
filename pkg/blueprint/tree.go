// Package blueprint defines the user-declared typed pipeline graph: a tree of
// BlueprintDocuments (spec §3). Documents arrive at the engine boundary
// already parsed (YAML/TOML loading is explicitly out of scope, spec §6); this
// package only declares the shapes and the input-id resolution rules of §4.1.
package blueprint

// Meta identifies a single blueprint document.
type Meta struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// InputDef declares a typed input to a document.
type InputDef struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Required bool        `json:"required,omitempty"`
	Default  interface{} `json:"default,omitempty"`
	FanIn    bool        `json:"fanIn,omitempty"`
}

// ArraySpec describes one decomposable array field inside a JSON-schema
// artefact: the dotted path to the array within the schema, and the input
// that sizes it.
type ArraySpec struct {
	Path       string `json:"path"`
	CountInput string `json:"countInput"`
}

// Schema is the optional JSON-schema decomposition metadata for an artefact
// (spec §3, §4.2): the artefact's output schema plus the arrays within it
// that should be decomposed into one synthetic artefact-definition per leaf
// field.
type Schema struct {
	Definition map[string]interface{} `json:"schema"`
	Arrays     []ArraySpec             `json:"arrays,omitempty"`
}

// ArtifactDef declares a typed output of a producer.
type ArtifactDef struct {
	Name              string  `json:"name"`
	Type              string  `json:"type"`
	Required          bool    `json:"required,omitempty"`
	CountInput        string  `json:"countInput,omitempty"`
	CountInputOffset  int     `json:"countInputOffset,omitempty"`
	Schema            *Schema `json:"schema,omitempty"`
}

// ProducerDef declares a producer (an external model invocation).
type ProducerDef struct {
	Name       string                 `json:"name"`
	Provider   string                 `json:"provider,omitempty"`
	Model      string                 `json:"model,omitempty"`
	Config     map[string]interface{} `json:"config,omitempty"`
	Models     []string               `json:"models,omitempty"`
	SDKMapping map[string]string      `json:"sdkMapping,omitempty"`
}

// LoopDef declares a named dimension axis sized by an input.
type LoopDef struct {
	Name       string `json:"name"`
	CountInput string `json:"countInput"`
	Offset     int    `json:"offset,omitempty"`
}

// ConditionValue is the right-hand side of a clause: either a direct
// equality literal (Op == "") or a {op, value} comparison.
type ConditionValue struct {
	Op    string      `json:"op,omitempty"`
	Value interface{} `json:"value"`
}

// Condition is an EdgeConditionDefinition node: exactly one of a clause
// (When+Is), an All group, or an Any group is populated (spec §9).
type Condition struct {
	When string          `json:"when,omitempty"`
	Is   *ConditionValue `json:"is,omitempty"`
	All  []Condition     `json:"all,omitempty"`
	Any  []Condition     `json:"any,omitempty"`
}

// IsClause reports whether c is a leaf clause rather than an all/any group.
func (c Condition) IsClause() bool {
	return c.When != "" && c.Is != nil
}

// EdgeDef declares a dependency between two node references, optionally
// gated by conditions and optionally carrying explicit fan-in grouping.
type EdgeDef struct {
	From       string     `json:"from"`
	To         string     `json:"to"`
	Conditions *Condition `json:"conditions,omitempty"`
	GroupBy    string     `json:"groupBy,omitempty"`
	OrderBy    string     `json:"orderBy,omitempty"`
}

// CollectorDef is an explicit fan-in grouping declaration.
type CollectorDef struct {
	From    string `json:"from"`
	Into    string `json:"into"`
	GroupBy string `json:"groupBy"`
	OrderBy string `json:"orderBy,omitempty"`
}

// Document is one node of the BlueprintTree: a document plus any
// sub-blueprints nested under it, keyed by namespace name.
type Document struct {
	Meta       Meta                 `json:"meta"`
	Inputs     []InputDef           `json:"inputs,omitempty"`
	Artifacts  []ArtifactDef        `json:"artifacts,omitempty"`
	Producers  []ProducerDef        `json:"producers,omitempty"`
	Loops      []LoopDef            `json:"loops,omitempty"`
	Edges      []EdgeDef            `json:"edges,omitempty"`
	Collectors []CollectorDef       `json:"collectors,omitempty"`
	Children   map[string]*Document `json:"children,omitempty"`
}

// Tree is a rooted BlueprintTree.
type Tree struct {
	Root *Document
}

// Walk calls fn for the root document and every descendant, depth-first,
// passing the accumulated namespace path (empty for the root).
func (t *Tree) Walk(fn func(path []string, doc *Document) error) error {
	return walk(nil, t.Root, fn)
}

func walk(path []string, doc *Document, fn func([]string, *Document) error) error {
	if doc == nil {
		return nil
	}
	if err := fn(path, doc); err != nil {
		return err
	}
	for name, child := range doc.Children {
		if err := walk(append(append([]string{}, path...), name), child, fn); err != nil {
			return err
		}
	}
	return nil
}
