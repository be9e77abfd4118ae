package fulltext

import (
	"bytes"
	"strings"

	"github.com/blevesearch/vellum"

	"github.com/RoaringBitmap/roaring/v2"
	segerrors "github.com/segmentcore/segmentcore/internal/errors"
	"github.com/segmentcore/segmentcore/internal/payload/indexapi"
	"github.com/segmentcore/segmentcore/internal/payload/mapindex"
)

// Index is the full-text field index: a TokenizerConfig-driven analysis
// pipeline in front of a map index whose values are terms.
type Index struct {
	terms  *mapindex.Index
	config TokenizerConfig
}

// Open opens or creates a full-text index under dir, backed by a map
// index with value = term.
func Open(dir string, cfg TokenizerConfig, createIfMissing bool) (*Index, bool, error) {
	terms, loaded, err := mapindex.Open(dir, mapindex.BackendKV, createIfMissing)
	if err != nil {
		return nil, false, err
	}
	return &Index{terms: terms, config: cfg}, loaded, nil
}

// AddDocument tokenizes text and indexes its terms under offset,
// preserving token order so phrase checks can later scan it.
func (ix *Index) AddDocument(offset uint32, text string) error {
	tokens := Tokenize(text, ix.config)
	values := make([]any, len(tokens))
	for i, t := range tokens {
		values[i] = t
	}
	return ix.terms.AddManyToMap(offset, values)
}

func (ix *Index) RemoveDocument(offset uint32) error {
	return ix.terms.RemovePoint(offset)
}

// MatchAll returns offsets whose document contains every term (AND).
func (ix *Index) MatchAll(terms []string) (indexapi.OffsetIterator, error) {
	if len(terms) == 0 {
		return indexapi.NewSliceIterator(nil), nil
	}
	result, err := ix.postingBitmap(terms[0])
	if err != nil {
		return nil, err
	}
	for _, t := range terms[1:] {
		bm, err := ix.postingBitmap(t)
		if err != nil {
			return nil, err
		}
		result.And(bm)
	}
	return indexapi.NewSliceIterator(result.ToArray()), nil
}

// MatchAny returns offsets whose document contains at least one term (OR).
func (ix *Index) MatchAny(terms []string) (indexapi.OffsetIterator, error) {
	result := roaring.New()
	for _, t := range terms {
		bm, err := ix.postingBitmap(t)
		if err != nil {
			return nil, err
		}
		result.Or(bm)
	}
	return indexapi.NewSliceIterator(result.ToArray()), nil
}

func (ix *Index) postingBitmap(term string) (*roaring.Bitmap, error) {
	it, err := ix.terms.GetIterator(term)
	if err != nil {
		return nil, err
	}
	bm := roaring.New()
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		bm.Add(v)
	}
	return bm, nil
}

// MatchPrefix returns offsets of documents containing any term with the
// given prefix, using an ephemeral vellum FST built over the index's
// current vocabulary for the ordered-scan property spec §4.7 requires.
func (ix *Index) MatchPrefix(prefix string) (indexapi.OffsetIterator, error) {
	counts := ix.terms.IterCountsPerValue()
	vocabulary := make([]string, 0, len(counts))
	for k := range counts {
		if strings.HasPrefix(k, "s:") {
			vocabulary = append(vocabulary, strings.TrimPrefix(k, "s:"))
		}
	}
	matches, err := vellumPrefixMatch(vocabulary, prefix)
	if err != nil {
		return nil, err
	}
	return ix.MatchAny(matches)
}

// PhraseContains checks whether offset's document contains terms as a
// consecutive run, in order (spec §4.7 phrase containment).
func (ix *Index) PhraseContains(offset uint32, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	doc := ix.terms.GetValues(offset)
	for start := 0; start+len(terms) <= len(doc); start++ {
		match := true
		for i, term := range terms {
			v, ok := doc[start+i].(string)
			if !ok || v != term {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// Filter implements indexapi.FieldIndex for text conditions. TextQuery
// is a space-separated term list, matched as an AND.
func (ix *Index) Filter(cond indexapi.Condition) (indexapi.OffsetIterator, error) {
	if cond.Kind != indexapi.ConditionText {
		return nil, segerrors.Arguments(segerrors.CodeInvalidCondition, "full-text index only filters text conditions")
	}
	terms := Tokenize(cond.TextQuery, ix.config)
	return ix.MatchAll(terms)
}

func (ix *Index) EstimateCardinality(cond indexapi.Condition) (indexapi.Cardinality, error) {
	if cond.Kind != indexapi.ConditionText {
		return indexapi.Cardinality{}, segerrors.Arguments(segerrors.CodeInvalidCondition, "full-text index only estimates text conditions")
	}
	terms := Tokenize(cond.TextQuery, ix.config)
	if len(terms) == 0 {
		return indexapi.Cardinality{}, nil
	}
	// the rarest term bounds the AND's result size from above.
	var minCount uint64 = ^uint64(0)
	for _, t := range terms {
		c, err := ix.terms.GetCountForValue(t)
		if err != nil {
			return indexapi.Cardinality{}, err
		}
		if c < minCount {
			minCount = c
		}
	}
	return indexapi.Cardinality{Min: 0, Exp: minCount / uint64(len(terms)), Max: minCount}, nil
}

func (ix *Index) IndexedPoints() uint64 { return ix.terms.IndexedPoints() }
func (ix *Index) Files() []string       { return ix.terms.Files() }
func (ix *Index) Flush() error          { return ix.terms.Flush() }
func (ix *Index) Close() error          { return ix.terms.Close() }

func vellumPrefixMatch(vocabulary []string, prefix string) ([]string, error) {
	sorted := append([]string{}, vocabulary...)
	sortStrings(sorted)

	var buf bytes.Buffer
	builder, err := vellum.New(&buf, nil)
	if err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "create prefix match fst builder", err)
	}
	for i, term := range sorted {
		if i > 0 && term == sorted[i-1] {
			continue
		}
		if err := builder.Insert([]byte(term), uint64(i)); err != nil {
			return nil, segerrors.Service(segerrors.CodeStorageIO, "insert term into prefix fst", err)
		}
	}
	if err := builder.Close(); err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "close prefix fst builder", err)
	}

	fst, err := vellum.Load(buf.Bytes())
	if err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageCorrupt, "load prefix fst", err)
	}
	defer fst.Close()

	upperBound := prefixUpperBound(prefix)
	itr, err := fst.Iterator([]byte(prefix), upperBound)
	if err == vellum.ErrIteratorDone {
		return nil, nil
	}
	if err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "iterate prefix fst", err)
	}
	var matches []string
	for err == nil {
		key, _ := itr.Current()
		matches = append(matches, string(key))
		err = itr.Next()
	}
	if err != nil && err != vellum.ErrIteratorDone {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "advance prefix fst iterator", err)
	}
	return matches, nil
}

// prefixUpperBound returns the smallest key lexicographically greater
// than every string starting with prefix, or nil for "no upper bound".
func prefixUpperBound(prefix string) []byte {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return b[:i+1]
		}
	}
	return nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
