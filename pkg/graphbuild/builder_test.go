package graphbuild

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renku/pipeline-engine/pkg/blueprint"
)

func TestBuildGraph_SimpleEdge(t *testing.T) {
	tree := &blueprint.Tree{
		Root: &blueprint.Document{
			Inputs:    []blueprint.InputDef{{Name: "Topic", Type: "string", Required: true}},
			Producers: []blueprint.ProducerDef{{Name: "Script"}},
			Edges: []blueprint.EdgeDef{
				{From: "Topic", To: "Script"},
			},
		},
	}

	g, err := BuildGraph(tree)
	require.NoError(t, err)

	_, ok := g.GetNode("Input:Topic")
	assert.True(t, ok)
	_, ok = g.GetNode("Producer:Script")
	assert.True(t, ok)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, "Input:Topic", g.Edges[0].From)
	assert.Equal(t, "Producer:Script", g.Edges[0].To)
}

func TestBuildGraph_NamespaceFanOut(t *testing.T) {
	tree := &blueprint.Tree{
		Root: &blueprint.Document{
			Inputs: []blueprint.InputDef{{Name: "NumOfSegments", Type: "int", Required: true}},
			Children: map[string]*blueprint.Document{
				"scene": {
					Producers: []blueprint.ProducerDef{{Name: "Script"}},
				},
			},
			Edges: []blueprint.EdgeDef{
				{From: "NumOfSegments", To: "scene[i].Script"},
			},
		},
	}

	g, err := BuildGraph(tree)
	require.NoError(t, err)

	node, ok := g.GetNode("Producer:scene")
	require.True(t, ok)
	require.Len(t, node.Dimensions, 1)
	assert.Equal(t, ScopeNamespace, node.Dimensions[0].Scope)
	assert.Equal(t, "i", node.Dimensions[0].RawLabel)
	assert.Equal(t, "scene", node.Dimensions[0].ScopeKey)
}

func TestBuildGraph_NamespaceDimensionConflict(t *testing.T) {
	tree := &blueprint.Tree{
		Root: &blueprint.Document{
			Inputs: []blueprint.InputDef{{Name: "N", Type: "int"}},
			Children: map[string]*blueprint.Document{
				"scene": {
					Producers: []blueprint.ProducerDef{{Name: "Script"}},
					Artifacts: []blueprint.ArtifactDef{{Name: "Audio", Type: "audio"}},
				},
			},
			Edges: []blueprint.EdgeDef{
				{From: "N", To: "scene[i].Script"},
				{From: "N", To: "scene[j].Audio"},
			},
		},
	}

	_, err := BuildGraph(tree)
	require.Error(t, err)
}

func TestBuildGraph_LocalCountInputDimension(t *testing.T) {
	tree := &blueprint.Tree{
		Root: &blueprint.Document{
			Inputs:    []blueprint.InputDef{{Name: "NumVariants", Type: "int"}},
			Producers: []blueprint.ProducerDef{{Name: "ImageGen"}},
			Artifacts: []blueprint.ArtifactDef{{Name: "Image", Type: "image", CountInput: "NumVariants"}},
			Edges: []blueprint.EdgeDef{
				{From: "ImageGen", To: "Image[variant]"},
			},
		},
	}

	g, err := BuildGraph(tree)
	require.NoError(t, err)

	node, ok := g.GetNode("Artifact:Image")
	require.True(t, ok)
	require.Len(t, node.Dimensions, 1)
	assert.Equal(t, ScopeLocal, node.Dimensions[0].Scope)
	assert.Equal(t, "variant", node.Dimensions[0].RawLabel)
}

func TestBuildGraph_ProducerQualifiedReference(t *testing.T) {
	tree := &blueprint.Tree{
		Root: &blueprint.Document{
			Inputs:    []blueprint.InputDef{{Name: "NumSegments", Type: "int"}},
			Producers: []blueprint.ProducerDef{{Name: "Compositor"}},
			Artifacts: []blueprint.ArtifactDef{{Name: "Image", Type: "image", CountInput: "NumSegments"}},
			Edges: []blueprint.EdgeDef{
				{From: "NumSegments", To: "Compositor.Image[segment]"},
			},
		},
	}

	g, err := BuildGraph(tree)
	require.NoError(t, err)

	require.Len(t, g.Edges, 1)
	assert.Equal(t, "Artifact:Image", g.Edges[0].To)
}

func TestBuildGraph_DecomposedSchemaArtifact(t *testing.T) {
	tree := &blueprint.Tree{
		Root: &blueprint.Document{
			Inputs: []blueprint.InputDef{{Name: "NumOfSegments", Type: "int"}},
			Artifacts: []blueprint.ArtifactDef{
				{
					Name: "Segments",
					Type: "object",
					Schema: &blueprint.Schema{
						Definition: map[string]interface{}{
							"properties": map[string]interface{}{
								"Script": map[string]interface{}{"type": "string"},
								"Audio":  map[string]interface{}{"type": "string"},
							},
						},
						Arrays: []blueprint.ArraySpec{{Path: "Segments", CountInput: "NumOfSegments"}},
					},
				},
			},
		},
	}

	g, err := BuildGraph(tree)
	require.NoError(t, err)

	_, ok := g.GetNode("Artifact:Segments[segment].Script")
	assert.True(t, ok)
	_, ok = g.GetNode("Artifact:Segments[segment].Audio")
	assert.True(t, ok)
}

func TestBuildGraph_UnknownReferenceErrors(t *testing.T) {
	tree := &blueprint.Tree{
		Root: &blueprint.Document{
			Inputs: []blueprint.InputDef{{Name: "Topic", Type: "string"}},
			Edges: []blueprint.EdgeDef{
				{From: "Topic", To: "Nonexistent"},
			},
		},
	}

	_, err := BuildGraph(tree)
	require.Error(t, err)
}
