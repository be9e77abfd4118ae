package fulltext_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segmentcore/segmentcore/internal/payload/indexapi"
	"github.com/segmentcore/segmentcore/internal/payload/fulltext"
)

func defaultConfig() fulltext.TokenizerConfig {
	return fulltext.TokenizerConfig{
		Lowercase: true,
		StopWords: fulltext.DefaultEnglishStopWords(),
	}
}

func TestTokenize_StopWordsExcluded_S3Scenario(t *testing.T) {
	terms := fulltext.Tokenize("the quick fox and the lazy dog", defaultConfig())
	assert.NotContains(t, terms, "the")
	assert.NotContains(t, terms, "and")
	assert.Contains(t, terms, "quick")
	assert.Contains(t, terms, "fox")
	assert.Contains(t, terms, "lazy")
	assert.Contains(t, terms, "dog")
}

func TestTokenize_CustomStopWords(t *testing.T) {
	cfg := fulltext.TokenizerConfig{
		Lowercase: true,
		StopWords: map[string]struct{}{"programming": {}},
	}
	terms := fulltext.Tokenize("programming languages are fun", cfg)
	assert.NotContains(t, terms, "programming")
	assert.Contains(t, terms, "languages")
}

func TestTokenize_Stemming(t *testing.T) {
	cfg := fulltext.TokenizerConfig{Lowercase: true, Stem: true}
	terms := fulltext.Tokenize("running runner ran", cfg)
	assert.Contains(t, terms, "run")
}

func TestIndex_AddDocumentAndMatchAll(t *testing.T) {
	ix, loaded, err := fulltext.Open(t.TempDir(), defaultConfig(), true)
	require.NoError(t, err)
	require.True(t, loaded)
	defer func() { _ = ix.Close() }()

	require.NoError(t, ix.AddDocument(1, "the quick brown fox"))
	require.NoError(t, ix.AddDocument(2, "the lazy dog"))

	it, err := ix.MatchAll([]string{"quick", "fox"})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, indexapi.Drain(it))
}

func TestIndex_MatchAny(t *testing.T) {
	ix, _, err := fulltext.Open(t.TempDir(), defaultConfig(), true)
	require.NoError(t, err)
	defer func() { _ = ix.Close() }()

	require.NoError(t, ix.AddDocument(1, "apples and oranges"))
	require.NoError(t, ix.AddDocument(2, "bananas only"))

	it, err := ix.MatchAny([]string{"apples", "bananas"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint32{1, 2}, indexapi.Drain(it))
}

func TestIndex_PhraseContains(t *testing.T) {
	ix, _, err := fulltext.Open(t.TempDir(), defaultConfig(), true)
	require.NoError(t, err)
	defer func() { _ = ix.Close() }()

	require.NoError(t, ix.AddDocument(1, "quick brown fox jumps"))

	assert.True(t, ix.PhraseContains(1, []string{"brown", "fox"}))
	assert.False(t, ix.PhraseContains(1, []string{"fox", "brown"}))
	assert.False(t, ix.PhraseContains(1, []string{"quick", "fox"}))
}

func TestIndex_MatchPrefix(t *testing.T) {
	ix, _, err := fulltext.Open(t.TempDir(), defaultConfig(), true)
	require.NoError(t, err)
	defer func() { _ = ix.Close() }()

	require.NoError(t, ix.AddDocument(1, "segment segmentation segmented"))
	require.NoError(t, ix.AddDocument(2, "unrelated text"))

	it, err := ix.MatchPrefix("segment")
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, indexapi.Drain(it))
}

func TestIndex_Filter_ConditionText(t *testing.T) {
	ix, _, err := fulltext.Open(t.TempDir(), defaultConfig(), true)
	require.NoError(t, err)
	defer func() { _ = ix.Close() }()

	require.NoError(t, ix.AddDocument(1, "database indexing engine"))
	require.NoError(t, ix.AddDocument(2, "unrelated content"))

	it, err := ix.Filter(indexapi.Condition{Kind: indexapi.ConditionText, TextQuery: "database engine"})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, indexapi.Drain(it))
}

func TestIndex_EstimateCardinality(t *testing.T) {
	ix, _, err := fulltext.Open(t.TempDir(), defaultConfig(), true)
	require.NoError(t, err)
	defer func() { _ = ix.Close() }()

	require.NoError(t, ix.AddDocument(1, "alpha beta"))
	require.NoError(t, ix.AddDocument(2, "alpha gamma"))

	card, err := ix.EstimateCardinality(indexapi.Condition{Kind: indexapi.ConditionText, TextQuery: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), card.Max)
}

func TestIndex_RemoveDocument(t *testing.T) {
	ix, _, err := fulltext.Open(t.TempDir(), defaultConfig(), true)
	require.NoError(t, err)
	defer func() { _ = ix.Close() }()

	require.NoError(t, ix.AddDocument(1, "temporary content"))
	require.NoError(t, ix.RemoveDocument(1))

	it, err := ix.MatchAll([]string{"temporary"})
	require.NoError(t, err)
	assert.Empty(t, indexapi.Drain(it))
}
