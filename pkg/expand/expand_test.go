package expand

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renku/pipeline-engine/pkg/blueprint"
	"github.com/renku/pipeline-engine/pkg/graphbuild"
)

// linearChainTree mirrors spec §8 Scenario A: Topic feeds a ScriptWriter
// producer, whose Script output feeds a per-segment AudioGen producer fanned
// out over NumOfSegments, each instance producing its own Audio[i].
func linearChainTree() *blueprint.Tree {
	return &blueprint.Tree{
		Root: &blueprint.Document{
			Meta:      blueprint.Meta{ID: "root", Name: "root"},
			Inputs:    []blueprint.InputDef{{Name: "Topic", Type: "string", Required: true}},
			Producers: []blueprint.ProducerDef{{Name: "ScriptWriter"}, {Name: "AudioGen"}},
			Artifacts: []blueprint.ArtifactDef{
				{Name: "Script"},
				{Name: "Audio", CountInput: "NumOfSegments"},
			},
			Edges: []blueprint.EdgeDef{
				{From: "Topic", To: "ScriptWriter"},
				{From: "ScriptWriter", To: "Script"},
				{From: "Script", To: "AudioGen[i]"},
				{From: "AudioGen[i]", To: "Audio[i]"},
			},
		},
	}
}

func TestExpand_LinearProducerChain(t *testing.T) {
	g, err := graphbuild.BuildGraph(linearChainTree())
	require.NoError(t, err)

	cb, err := Expand(g, map[string]interface{}{
		"Input:Topic":         "space",
		"Input:NumOfSegments": 3,
	})
	require.NoError(t, err)

	for _, id := range []string{
		"Input:Topic", "Producer:ScriptWriter", "Artifact:Script",
		"Producer:AudioGen[0]", "Producer:AudioGen[1]", "Producer:AudioGen[2]",
		"Artifact:Audio[0]", "Artifact:Audio[1]", "Artifact:Audio[2]",
	} {
		assert.Contains(t, cb.Nodes, id, "missing node instance %s", id)
	}
	assert.Len(t, cb.Nodes, 9)

	hasEdge := func(from, to string) bool {
		for _, e := range cb.Edges {
			if e.From == from && e.To == to {
				return true
			}
		}
		return false
	}

	assert.True(t, hasEdge("Input:Topic", "Producer:ScriptWriter"))
	assert.True(t, hasEdge("Producer:ScriptWriter", "Artifact:Script"))
	for i := 0; i < 3; i++ {
		assert.True(t, hasEdge("Artifact:Script", "Producer:AudioGen["+itoa(i)+"]"))
		assert.True(t, hasEdge("Producer:AudioGen["+itoa(i)+"]", "Artifact:Audio["+itoa(i)+"]"))
	}
	// AudioGen[0] must not be wired to Audio[1] or Audio[2] (alignment).
	assert.False(t, hasEdge("Producer:AudioGen[0]", "Artifact:Audio[1]"))

	assert.Equal(t, "Input:Topic", cb.InputBindings["Producer:ScriptWriter"]["Topic"])
	for i := 0; i < 3; i++ {
		assert.Equal(t, "Artifact:Script", cb.InputBindings["Producer:AudioGen["+itoa(i)+"]"]["Script"])
	}
}

func itoa(n int) string {
	digits := "0123456789"
	if n < 10 {
		return string(digits[n])
	}
	return string(digits[n/10]) + string(digits[n%10])
}

// fanInTree mirrors spec §8 Scenario F: a two-dimensional Image artefact
// (segment x variant) fans into a single grouped/ordered Compositor input.
func fanInTree() *blueprint.Tree {
	return &blueprint.Tree{
		Root: &blueprint.Document{
			Meta: blueprint.Meta{ID: "root", Name: "root"},
			Inputs: []blueprint.InputDef{
				{Name: "Images", FanIn: true},
			},
			Producers: []blueprint.ProducerDef{{Name: "ImageGen"}, {Name: "Compositor"}},
			Artifacts: []blueprint.ArtifactDef{
				{Name: "Image"},
			},
			Loops: []blueprint.LoopDef{
				{Name: "segment", CountInput: "NumOfSegments"},
				{Name: "variant", CountInput: "NumOfVariants"},
			},
			Edges: []blueprint.EdgeDef{
				{From: "ImageGen[segment][variant]", To: "Image[segment][variant]"},
				{From: "Image[segment][variant]", To: "Images", GroupBy: "segment", OrderBy: "variant"},
				{From: "Images", To: "Compositor"},
			},
		},
	}
}

func TestExpand_FanInGrouping(t *testing.T) {
	g, err := graphbuild.BuildGraph(fanInTree())
	require.NoError(t, err)

	cb, err := Expand(g, map[string]interface{}{
		"Input:NumOfSegments": 2,
		"Input:NumOfVariants": 3,
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			assert.Contains(t, cb.Nodes, "Artifact:Image["+itoa(i)+"]["+itoa(j)+"]")
		}
	}

	descriptor, ok := cb.FanIn["Input:Images"]
	require.True(t, ok, "expected a fan-in descriptor for Input:Images")
	assert.Equal(t, "segment", descriptor.GroupBy)
	assert.Equal(t, "variant", descriptor.OrderBy)
	require.Len(t, descriptor.Members, 6)

	// Group 0 (segment 0) members come before group 1, each ordered by variant.
	assert.Equal(t, 0, descriptor.Members[0].Group)
	assert.Equal(t, 0, descriptor.Members[0].Order)
	assert.Equal(t, "Artifact:Image[0][0]", descriptor.Members[0].ID)
	assert.Equal(t, "Artifact:Image[0][1]", descriptor.Members[1].ID)
	assert.Equal(t, "Artifact:Image[0][2]", descriptor.Members[2].ID)
	assert.Equal(t, 1, descriptor.Members[3].Group)
	assert.Equal(t, "Artifact:Image[1][0]", descriptor.Members[3].ID)
}
