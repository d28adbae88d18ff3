package condition_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renku/pipeline-engine/pkg/blueprint"
	"github.com/renku/pipeline-engine/pkg/condition"
	"github.com/renku/pipeline-engine/pkg/expand"
)

func clause(when, op string, value interface{}) *blueprint.Condition {
	return &blueprint.Condition{When: when, Is: &blueprint.ConditionValue{Op: op, Value: value}}
}

func TestEvaluate_NilConditionAlwaysSatisfied(t *testing.T) {
	ok, err := condition.Evaluate(nil, map[string]interface{}{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_EqClause(t *testing.T) {
	env := map[string]interface{}{"Artifact:script.mood": "upbeat"}
	cond := clause("Artifact:script.mood", "eq", "upbeat")

	ok, err := condition.Evaluate(cond, env)
	require.NoError(t, err)
	assert.True(t, ok)

	cond2 := clause("Artifact:script.mood", "eq", "somber")
	ok, err = condition.Evaluate(cond2, env)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluate_MissingPathIsUnsatisfied(t *testing.T) {
	ok, err := condition.Evaluate(clause("Artifact:script.mood", "eq", "upbeat"), map[string]interface{}{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluate_NumericComparisons(t *testing.T) {
	env := map[string]interface{}{"Artifact:script.score": float64(7)}

	cases := []struct {
		op   string
		val  interface{}
		want bool
	}{
		{"gt", float64(5), true},
		{"gt", float64(7), false},
		{"gte", float64(7), true},
		{"lt", float64(10), true},
		{"lte", float64(7), true},
		{"lte", float64(6), false},
	}
	for _, tc := range cases {
		ok, err := condition.Evaluate(clause("Artifact:script.score", tc.op, tc.val), env)
		require.NoError(t, err)
		assert.Equal(t, tc.want, ok, "op=%s val=%v", tc.op, tc.val)
	}
}

func TestEvaluate_InAndContains(t *testing.T) {
	env := map[string]interface{}{
		"Artifact:script.genre": "comedy",
		"Artifact:script.title": "The Great Escape",
	}

	ok, err := condition.Evaluate(clause("Artifact:script.genre", "in", []interface{}{"drama", "comedy"}), env)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = condition.Evaluate(clause("Artifact:script.title", "contains", "Escape"), env)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = condition.Evaluate(clause("Artifact:script.title", "contains", "Heist"), env)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluate_NeOperator(t *testing.T) {
	env := map[string]interface{}{"Artifact:script.mood": "upbeat"}
	ok, err := condition.Evaluate(clause("Artifact:script.mood", "ne", "somber"), env)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_AllGroup(t *testing.T) {
	env := map[string]interface{}{
		"Artifact:script.mood":  "upbeat",
		"Artifact:script.score": float64(8),
	}
	cond := &blueprint.Condition{All: []blueprint.Condition{
		*clause("Artifact:script.mood", "eq", "upbeat"),
		*clause("Artifact:script.score", "gte", float64(5)),
	}}
	ok, err := condition.Evaluate(cond, env)
	require.NoError(t, err)
	assert.True(t, ok)

	cond.All[1] = *clause("Artifact:script.score", "gte", float64(9))
	ok, err = condition.Evaluate(cond, env)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluate_AnyGroup(t *testing.T) {
	env := map[string]interface{}{"Artifact:script.mood": "somber"}
	cond := &blueprint.Condition{Any: []blueprint.Condition{
		*clause("Artifact:script.mood", "eq", "upbeat"),
		*clause("Artifact:script.mood", "eq", "somber"),
	}}
	ok, err := condition.Evaluate(cond, env)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_PathResolvesThroughNestedMap(t *testing.T) {
	env := map[string]interface{}{
		"Artifact:script": map[string]interface{}{
			"mood": "upbeat",
		},
	}
	ok, err := condition.Evaluate(clause("Artifact:script.mood", "eq", "upbeat"), env)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_PathResolvesThroughArrayIndex(t *testing.T) {
	env := map[string]interface{}{
		"Artifact:script.beats": []interface{}{
			map[string]interface{}{"tone": "calm"},
			map[string]interface{}{"tone": "tense"},
		},
	}
	ok, err := condition.Evaluate(clause("Artifact:script.beats.1.tone", "eq", "tense"), env)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_UnknownOperatorErrors(t *testing.T) {
	_, err := condition.Evaluate(clause("Artifact:script.mood", "between", "x"), map[string]interface{}{"Artifact:script.mood": "x"})
	assert.Error(t, err)
}

func TestMaterializeGroups_DenseWithEmptyGroups(t *testing.T) {
	fd := &expand.FanInDescriptor{
		GroupBy: "segment",
		OrderBy: "variant",
		Members: []expand.FanInMember{
			{ID: "Artifact:Image[0][1]", Group: 0, Order: 1},
			{ID: "Artifact:Image[0][0]", Group: 0, Order: 0},
			{ID: "Artifact:Image[2][0]", Group: 2, Order: 0},
		},
	}

	v := condition.MaterializeGroups(fd)
	require.Len(t, v.Groups, 3)
	assert.Equal(t, []string{"Artifact:Image[0][0]", "Artifact:Image[0][1]"}, v.Groups[0])
	assert.Equal(t, []string{}, v.Groups[1])
	assert.Equal(t, []string{"Artifact:Image[2][0]"}, v.Groups[2])
	assert.Equal(t, "segment", v.GroupBy)
	assert.Equal(t, "variant", v.OrderBy)
}

func TestMaterializeGroups_EmptyDescriptor(t *testing.T) {
	v := condition.MaterializeGroups(&expand.FanInDescriptor{})
	assert.Empty(t, v.Groups)
}
