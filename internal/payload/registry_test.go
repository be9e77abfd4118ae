package payload_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segmentcore/segmentcore/internal/config"
	"github.com/segmentcore/segmentcore/internal/payload"
	"github.com/segmentcore/segmentcore/internal/payload/indexapi"
	"github.com/segmentcore/segmentcore/internal/planner"
)

func TestRegistry_SetIndexedAndFilter_Keyword(t *testing.T) {
	reg := payload.Open(t.TempDir(), 10)
	defer func() { _ = reg.Close() }()

	err := reg.SetIndexed("color", config.FieldSchema{Name: "color", Kind: config.FieldKindKeyword}, map[uint32]any{
		1: "red",
		2: "blue",
		3: "red",
	})
	require.NoError(t, err)

	it, err := reg.Filter(indexapi.Condition{Kind: indexapi.ConditionMatch, Path: "color", MatchValue: "red"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint32{1, 3}, indexapi.Drain(it))
}

func TestRegistry_EstimateCardinality_UnindexedIsUnknown(t *testing.T) {
	reg := payload.Open(t.TempDir(), 100)
	defer func() { _ = reg.Close() }()

	card, err := reg.EstimateCardinality(indexapi.Condition{Kind: indexapi.ConditionMatch, Path: "missing", MatchValue: "x"})
	require.NoError(t, err)
	assert.Equal(t, indexapi.Unknown(100), card)
}

func TestRegistry_Filter_UnindexedReturnsNotIndexed(t *testing.T) {
	reg := payload.Open(t.TempDir(), 100)
	defer func() { _ = reg.Close() }()

	_, err := reg.Filter(indexapi.Condition{Kind: indexapi.ConditionMatch, Path: "missing"})
	require.Error(t, err)
}

func TestRegistry_QueryPoints_S1NestedFilter(t *testing.T) {
	reg := payload.Open(t.TempDir(), 200)
	defer func() { _ = reg.Close() }()

	a, c, d := map[uint32]any{}, map[uint32]any{}, map[uint32]any{}
	for i := uint32(0); i < 200; i++ {
		a[i] = float64((i % 5) + 1)
		c[i] = float64((i % 2) + 1)
		d[i] = float64(i % 3)
	}
	require.NoError(t, reg.SetIndexed("a", config.FieldSchema{Kind: config.FieldKindInteger}, a))
	require.NoError(t, reg.SetIndexed("c", config.FieldSchema{Kind: config.FieldKindInteger}, c))
	require.NoError(t, reg.SetIndexed("d", config.FieldSchema{Kind: config.FieldKindInteger}, d))

	it, err := reg.QueryPoints(planner.Query{Must: []indexapi.Condition{
		{Kind: indexapi.ConditionMatch, Path: "a", MatchValue: float64(1)},
		{Kind: indexapi.ConditionMatch, Path: "c", MatchValue: float64(1)},
		{Kind: indexapi.ConditionMatch, Path: "d", MatchValue: float64(0)},
	}})
	require.NoError(t, err)
	offsets := indexapi.Drain(it)
	assert.NotEmpty(t, offsets)
	for _, offset := range offsets {
		assert.Equal(t, float64(1), a[offset])
		assert.Equal(t, float64(1), c[offset])
		assert.Equal(t, float64(0), d[offset])
	}
}

func TestRegistry_PayloadBlocks(t *testing.T) {
	reg := payload.Open(t.TempDir(), 10)
	defer func() { _ = reg.Close() }()

	require.NoError(t, reg.SetIndexed("tag", config.FieldSchema{Kind: config.FieldKindKeyword}, map[uint32]any{
		1: "a", 2: "a", 3: "a", 4: "b",
	}))

	blocks := reg.PayloadBlocks(3)
	require.Len(t, blocks, 1)
	assert.Equal(t, uint64(3), blocks[0].Cardinality.Exp)
	assert.Equal(t, "a", blocks[0].Condition.MatchValue, "block condition must carry the raw value, not an encoded posting key")

	it, err := reg.Filter(blocks[0].Condition)
	require.NoError(t, err, "a block's own condition must be filterable")
	assert.Equal(t, []uint32{1, 2, 3}, indexapi.Drain(it))
}
