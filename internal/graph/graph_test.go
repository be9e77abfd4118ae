package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segmentcore/segmentcore/internal/graph"
)

func TestGraph_AddAndSearch(t *testing.T) {
	g, err := graph.New(graph.Config{Distance: graph.DistanceEuclidean})
	require.NoError(t, err)

	require.NoError(t, g.Add(1, []float32{0, 0}))
	require.NoError(t, g.Add(2, []float32{10, 10}))
	require.NoError(t, g.Add(3, []float32{0.1, 0.1}))

	results, err := g.Search([]float32{0, 0}, 2)
	require.NoError(t, err)
	assert.Contains(t, results, uint32(1))
}

func TestGraph_RemoveExcludesFromSearch(t *testing.T) {
	g, err := graph.New(graph.Config{Distance: graph.DistanceEuclidean})
	require.NoError(t, err)

	require.NoError(t, g.Add(1, []float32{0, 0}))
	require.NoError(t, g.Add(2, []float32{0.01, 0.01}))
	require.NoError(t, g.Remove(1))

	results, err := g.Search([]float32{0, 0}, 5)
	require.NoError(t, err)
	assert.NotContains(t, results, uint32(1))
}

func TestGraph_SearchOnEmptyGraph(t *testing.T) {
	g, err := graph.New(graph.Config{})
	require.NoError(t, err)

	results, err := g.Search([]float32{0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestGraph_Len(t *testing.T) {
	g, err := graph.New(graph.Config{})
	require.NoError(t, err)

	require.NoError(t, g.Add(1, []float32{0, 0}))
	require.NoError(t, g.Add(2, []float32{1, 1}))
	assert.Equal(t, 2, g.Len())

	require.NoError(t, g.Remove(1))
	assert.Equal(t, 1, g.Len())
}
