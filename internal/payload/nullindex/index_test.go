package nullindex_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segmentcore/segmentcore/internal/payload/indexapi"
	"github.com/segmentcore/segmentcore/internal/payload/nullindex"
)

func TestIndex_AddAndFilter_S2Scenario(t *testing.T) {
	ix, err := nullindex.Open(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = ix.Close() }()

	// payload pattern alternating: null, [null,"x"], absent, true (spec S2)
	for i := uint32(0); i < 100; i++ {
		switch i % 4 {
		case 0: // null
			require.NoError(t, ix.Add(i, false, true))
		case 1: // [null, "x"]
			require.NoError(t, ix.Add(i, true, true))
		case 2: // absent -> treated as removal
			require.NoError(t, ix.Remove(i))
		case 3: // true
			require.NoError(t, ix.Add(i, true, false))
		}
	}

	assert.Equal(t, uint64(100), ix.TotalPointCount())

	nullTrue, err := ix.Filter(indexapi.Condition{Kind: indexapi.ConditionIsNull, Want: true})
	require.NoError(t, err)
	nullOffsets := indexapi.Drain(nullTrue)
	assert.Contains(t, nullOffsets, uint32(0))
	assert.Contains(t, nullOffsets, uint32(1))
	assert.NotContains(t, nullOffsets, uint32(3))

	emptyTrue, err := ix.Filter(indexapi.Condition{Kind: indexapi.ConditionIsEmpty, Want: true})
	require.NoError(t, err)
	emptyOffsets := indexapi.Drain(emptyTrue)
	assert.Contains(t, emptyOffsets, uint32(0))
	assert.Contains(t, emptyOffsets, uint32(2))
	assert.NotContains(t, emptyOffsets, uint32(1))
}

func TestIndex_EstimateCardinality_TrueCasesAreExact(t *testing.T) {
	ix, err := nullindex.Open(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = ix.Close() }()

	for i := uint32(0); i < 10; i++ {
		require.NoError(t, ix.Add(i, i%2 == 0, i%3 == 0))
	}

	card, err := ix.EstimateCardinality(indexapi.Condition{Kind: indexapi.ConditionIsNull, Want: true})
	require.NoError(t, err)
	assert.Equal(t, card.Min, card.Exp)
	assert.Equal(t, card.Exp, card.Max)
}

func TestIndex_EstimateCardinality_FalseCasesBracket(t *testing.T) {
	ix, err := nullindex.Open(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = ix.Close() }()

	for i := uint32(0); i < 10; i++ {
		require.NoError(t, ix.Add(i, i < 3, false))
	}

	card, err := ix.EstimateCardinality(indexapi.Condition{Kind: indexapi.ConditionIsEmpty, Want: false})
	require.NoError(t, err)
	assert.LessOrEqual(t, card.Min, card.Exp)
	assert.LessOrEqual(t, card.Exp, card.Max)
}

func TestIndex_Remove_BumpsTotalPointCount(t *testing.T) {
	ix, err := nullindex.Open(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = ix.Close() }()

	require.NoError(t, ix.Remove(5))
	assert.Equal(t, uint64(6), ix.TotalPointCount())
}

func TestIndex_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ix, err := nullindex.Open(dir)
	require.NoError(t, err)
	require.NoError(t, ix.Add(3, true, false))
	require.NoError(t, ix.Flush())
	require.NoError(t, ix.Close())

	reopened, err := nullindex.Open(dir)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	assert.Equal(t, uint64(4), reopened.TotalPointCount())
}
