// Package fulltext implements the full-text field index (spec §4.7):
// tokenize, stem, and stop-word filter a document into terms, then
// reuse the map index's posting-list machinery with value = term.
package fulltext

import (
	"strings"

	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/snowballstem"
	"github.com/blevesearch/snowballstem/english"
)

var wordTokenizer = unicode.NewUnicodeTokenizer()

// TokenizerConfig controls the analysis pipeline applied to a document
// before its terms reach the posting-list machinery (spec §4.7).
type TokenizerConfig struct {
	Lowercase bool
	Stem      bool
	StopWords map[string]struct{} // language table ∪ user-supplied set, both unioned
}

// DefaultEnglishStopWords returns the small, fixed set of English
// function words excluded from indexing when no custom list is given.
func DefaultEnglishStopWords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "of", "at", "by",
		"for", "with", "about", "against", "between", "into", "through",
		"is", "are", "was", "were", "be", "been", "being", "to", "in",
		"on", "it", "this", "that", "as", "from",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Tokenize splits text into terms using a unicode word-boundary
// tokenizer, then applies lowercasing, stemming, and stop-word removal
// per cfg (spec §4.7 pipeline, S3 scenario).
func Tokenize(text string, cfg TokenizerConfig) []string {
	stream := wordTokenizer.Tokenize([]byte(text))
	terms := make([]string, 0, len(stream))
	for _, tok := range stream {
		term := string(tok.Term)
		if cfg.Lowercase {
			term = strings.ToLower(term)
		}
		if _, stop := cfg.StopWords[strings.ToLower(term)]; stop {
			continue
		}
		if cfg.Stem {
			term = stemEnglish(term)
		}
		if term == "" {
			continue
		}
		terms = append(terms, term)
	}
	return terms
}

func stemEnglish(term string) string {
	env := snowballstem.NewEnv(term)
	english.Stem(env)
	return env.Current()
}
