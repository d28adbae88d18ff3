package blueprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree() *Tree {
	return &Tree{
		Root: &Document{
			Meta:   Meta{ID: "root", Name: "root"},
			Inputs: []InputDef{{Name: "Topic", Type: "string", Required: true}},
			Children: map[string]*Document{
				"scene": {
					Meta:   Meta{ID: "scene", Name: "scene"},
					Inputs: []InputDef{{Name: "Prompt", Type: "string"}},
				},
			},
		},
	}
}

func TestInputIdResolver_DeclaredIDs(t *testing.T) {
	r, err := NewInputIdResolver(sampleTree())
	require.NoError(t, err)

	assert.True(t, r.IsDeclared("Input:Topic"))
	assert.True(t, r.IsDeclared("Input:scene.Prompt"))
	assert.False(t, r.IsDeclared("Input:Nope"))
}

func TestToCanonical_QualifiedName(t *testing.T) {
	r, err := NewInputIdResolver(sampleTree())
	require.NoError(t, err)

	id, err := r.ToCanonical("scene.Prompt")
	require.NoError(t, err)
	assert.Equal(t, "Input:scene.Prompt", id)
}

func TestToCanonical_SystemInput(t *testing.T) {
	r, err := NewInputIdResolver(sampleTree())
	require.NoError(t, err)

	id, err := r.ToCanonical("NumOfSegments")
	require.NoError(t, err)
	assert.Equal(t, "Input:NumOfSegments", id)
}

func TestToCanonical_ArtifactPassThrough(t *testing.T) {
	r, err := NewInputIdResolver(sampleTree())
	require.NoError(t, err)

	id, err := r.ToCanonical("Artifact:Script")
	require.NoError(t, err)
	assert.Equal(t, "Artifact:Script", id)
}

func TestToCanonical_DecomposedPath(t *testing.T) {
	r, err := NewInputIdResolver(sampleTree())
	require.NoError(t, err)

	id, err := r.ToCanonical("Segments[0].Script")
	require.NoError(t, err)
	assert.Equal(t, "Artifact:Segments[0].Script", id)
}

func TestToCanonical_Unknown(t *testing.T) {
	r, err := NewInputIdResolver(sampleTree())
	require.NoError(t, err)

	_, err = r.ToCanonical("nonsense-key")
	require.Error(t, err)
}

func TestToCanonical_UndeclaredCanonicalInput(t *testing.T) {
	r, err := NewInputIdResolver(sampleTree())
	require.NoError(t, err)

	_, err = r.ToCanonical("Input:Nope")
	require.Error(t, err)
}
