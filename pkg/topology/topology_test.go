package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearGraph() *Graph {
	g := NewGraph()
	g.AddEdge("A", "B")
	g.AddEdge("B", "C")
	return g
}

func TestTopologicalSort_Linear(t *testing.T) {
	order, err := linearGraph().TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, order)
}

func TestDetectCycles_NoCycle(t *testing.T) {
	require.NoError(t, linearGraph().DetectCycles())
}

func TestDetectCycles_Cycle(t *testing.T) {
	g := NewGraph()
	g.AddEdge("A", "B")
	g.AddEdge("B", "A")
	require.Error(t, g.DetectCycles())
}

func TestTopologicalSort_Cycle(t *testing.T) {
	g := NewGraph()
	g.AddEdge("A", "B")
	g.AddEdge("B", "A")
	_, err := g.TopologicalSort()
	require.Error(t, err)
}

func TestComputeLayers(t *testing.T) {
	g := NewGraph()
	g.AddEdge("A", "C")
	g.AddEdge("B", "C")
	g.AddEdge("C", "D")

	layers, err := g.ComputeLayers()
	require.NoError(t, err)
	require.Len(t, layers, 3)
	assert.Equal(t, []string{"A", "B"}, layers[0])
	assert.Equal(t, []string{"C"}, layers[1])
	assert.Equal(t, []string{"D"}, layers[2])
}

func TestComputeLayers_Cycle(t *testing.T) {
	g := NewGraph()
	g.AddEdge("A", "B")
	g.AddEdge("B", "A")
	_, err := g.ComputeLayers()
	require.Error(t, err)
}

func TestIsolatedNode(t *testing.T) {
	g := NewGraph()
	g.AddNode("Solo")
	order, err := g.TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, []string{"Solo"}, order)
}
