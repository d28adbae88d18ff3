package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStableJSON_KeyOrderIndependent(t *testing.T) {
	a := map[string]interface{}{"b": 1, "a": 2, "c": map[string]interface{}{"y": 1, "x": 2}}
	b := map[string]interface{}{"c": map[string]interface{}{"x": 2, "y": 1}, "a": 2, "b": 1}

	rawA, err := StableJSON(a)
	require.NoError(t, err)
	rawB, err := StableJSON(b)
	require.NoError(t, err)

	assert.Equal(t, string(rawA), string(rawB))
	assert.Equal(t, `{"a":2,"b":1,"c":{"x":2,"y":1}}`, string(rawA))
}

func TestHashValue_Deterministic(t *testing.T) {
	v := map[string]interface{}{"topic": "space", "count": 3}

	h1, err := HashValue(v)
	require.NoError(t, err)
	h2, err := HashValue(v)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHashValue_DifferentValuesDifferentHashes(t *testing.T) {
	h1, err := HashValue(map[string]interface{}{"topic": "space"})
	require.NoError(t, err)
	h2, err := HashValue(map[string]interface{}{"topic": "ocean"})
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestHashBytes(t *testing.T) {
	h := HashBytes([]byte("hello"))
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", h)
}
