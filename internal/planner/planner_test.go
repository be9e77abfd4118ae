package planner_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	segerrors "github.com/segmentcore/segmentcore/internal/errors"
	"github.com/segmentcore/segmentcore/internal/payload/indexapi"
	"github.com/segmentcore/segmentcore/internal/planner"
)

// fakeIndex is a minimal FieldResolver keyed by condition path, used to
// exercise the planner's primary-clause selection and residual checks
// without wiring a real field index.
type fakeIndex struct {
	matches    map[string][]uint32
	calls      map[string]int
	notIndexed map[string]bool
	total      uint64
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{matches: map[string][]uint32{}, calls: map[string]int{}, notIndexed: map[string]bool{}}
}

func (f *fakeIndex) set(path string, offsets []uint32) {
	f.matches[path] = offsets
}

// markNotIndexed makes path behave like a registry field with no index:
// Filter returns NotIndexed and EstimateCardinality returns Unknown.
func (f *fakeIndex) markNotIndexed(path string) {
	f.notIndexed[path] = true
}

func (f *fakeIndex) Filter(cond indexapi.Condition) (indexapi.OffsetIterator, error) {
	f.calls[cond.Path]++
	if f.notIndexed[cond.Path] {
		return nil, segerrors.NotIndexed(cond.Path)
	}
	return indexapi.NewSliceIterator(f.matches[cond.Path]), nil
}

func (f *fakeIndex) EstimateCardinality(cond indexapi.Condition) (indexapi.Cardinality, error) {
	if f.notIndexed[cond.Path] {
		return indexapi.Unknown(f.total), nil
	}
	n := uint64(len(f.matches[cond.Path]))
	return indexapi.Cardinality{Min: n, Exp: n, Max: n}, nil
}

func cond(path string) indexapi.Condition {
	return indexapi.Condition{Kind: indexapi.ConditionMatch, Path: path}
}

func TestExecute_MustIntersection(t *testing.T) {
	idx := newFakeIndex()
	idx.set("a", []uint32{1, 2, 3, 4})
	idx.set("b", []uint32{2, 3})

	it, err := planner.Execute(idx, planner.Query{Must: []indexapi.Condition{cond("a"), cond("b")}}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint32{2, 3}, indexapi.Drain(it))
}

func TestExecute_ShouldUnion(t *testing.T) {
	idx := newFakeIndex()
	idx.set("a", []uint32{1, 2})
	idx.set("b", []uint32{3, 4})

	it, err := planner.Execute(idx, planner.Query{Should: []indexapi.Condition{cond("a"), cond("b")}}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint32{1, 2, 3, 4}, indexapi.Drain(it))
}

func TestExecute_MustNotExcludes(t *testing.T) {
	idx := newFakeIndex()
	idx.set("a", []uint32{1, 2, 3})
	idx.set("b", []uint32{2})

	it, err := planner.Execute(idx, planner.Query{
		Must:    []indexapi.Condition{cond("a")},
		MustNot: []indexapi.Condition{cond("b")},
	}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint32{1, 3}, indexapi.Drain(it))
}

// TestExecute_PicksCheaperClauseAsPrimary is spec §8 scenario S5: given
// two conditions with very different cardinalities, the planner drives
// iteration from the cheap one and checks the expensive one only as a
// residual — observable as fewer residual checks than the size of the
// expensive clause.
func TestExecute_PicksCheaperClauseAsPrimary(t *testing.T) {
	idx := newFakeIndex()
	cheap := make([]uint32, 10)
	for i := range cheap {
		cheap[i] = uint32(i)
	}
	expensive := make([]uint32, 1000)
	for i := range expensive {
		expensive[i] = uint32(i)
	}
	idx.set("cheap", cheap)
	idx.set("expensive", expensive)

	counter := &planner.ResidualCounter{}
	it, err := planner.Execute(idx, planner.Query{
		Must: []indexapi.Condition{cond("cheap"), cond("expensive")},
	}, counter)
	require.NoError(t, err)
	assert.ElementsMatch(t, cheap, indexapi.Drain(it))
	assert.LessOrEqual(t, counter.Count(), uint64(len(cheap)))
}

func TestExecute_EmptyQueryReturnsEmpty(t *testing.T) {
	idx := newFakeIndex()
	it, err := planner.Execute(idx, planner.Query{}, nil)
	require.NoError(t, err)
	assert.Empty(t, indexapi.Drain(it))
}

// TestExecute_UnindexedMustClauseIsNonDrivingResidual covers the spec §7
// downgrade: an unindexed must clause must not be chosen as the primary
// driver (its unknown cardinality can look artificially cheap) and must
// not fail the query when checked as a residual.
func TestExecute_UnindexedMustClauseIsNonDrivingResidual(t *testing.T) {
	idx := newFakeIndex()
	idx.set("a", []uint32{1, 2, 3})
	idx.markNotIndexed("b")
	idx.total = 2 // Unknown(2).Exp == 1, cheaper-looking than len(a) == 3

	it, err := planner.Execute(idx, planner.Query{
		Must: []indexapi.Condition{cond("a"), cond("b")},
	}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint32{1, 2, 3}, indexapi.Drain(it))
}

// TestExecute_UnindexedMustNotIsIgnored covers the same downgrade on the
// MustNot side: an unindexed exclusion can't be enforced via the index,
// so it must not fail the query.
func TestExecute_UnindexedMustNotIsIgnored(t *testing.T) {
	idx := newFakeIndex()
	idx.set("a", []uint32{1, 2, 3})
	idx.markNotIndexed("b")

	it, err := planner.Execute(idx, planner.Query{
		Must:    []indexapi.Condition{cond("a")},
		MustNot: []indexapi.Condition{cond("b")},
	}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint32{1, 2, 3}, indexapi.Drain(it))
}

// TestExecute_AllMustClausesUnindexedReturnsNotIndexed covers the
// irreducible case: with no index-backed must clause at all, the
// planner has no bitmap to drive iteration from and surfaces the error
// instead of silently matching everything.
func TestExecute_AllMustClausesUnindexedReturnsNotIndexed(t *testing.T) {
	idx := newFakeIndex()
	idx.markNotIndexed("a")

	_, err := planner.Execute(idx, planner.Query{Must: []indexapi.Condition{cond("a")}}, nil)
	require.Error(t, err)
	assert.True(t, segerrors.IsKind(err, segerrors.KindNotIndexed))
}
