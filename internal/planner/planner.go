// Package planner implements the query planner (spec §4.9): given a
// boolean combination of conditions it produces the exact set of
// matching offsets, driving iteration from whichever atomic condition
// has the lowest estimated cardinality and checking the rest as cheap
// per-offset residuals.
package planner

import (
	"context"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	segerrors "github.com/segmentcore/segmentcore/internal/errors"
	"github.com/segmentcore/segmentcore/internal/payload/indexapi"
)

// FieldResolver is the narrow surface the planner needs from a payload
// index registry: per-condition filtering and cardinality estimation.
// Defined here (rather than imported from the registry package) so the
// registry can depend on the planner without a cycle back.
type FieldResolver interface {
	Filter(cond indexapi.Condition) (indexapi.OffsetIterator, error)
	EstimateCardinality(cond indexapi.Condition) (indexapi.Cardinality, error)
}

// Query is a boolean combination of conditions (spec §4.9): all of Must
// hold, at least one of Should holds (when Should is non-empty), none of
// MustNot hold.
type Query struct {
	Must    []indexapi.Condition
	Should  []indexapi.Condition
	MustNot []indexapi.Condition
}

// ResidualCounter tallies residual per-offset checks performed during a
// single Execute call, observable by tests asserting the planner chose
// the cheap clause as primary (spec §8 scenario S5).
type ResidualCounter struct {
	mu    sync.Mutex
	count uint64
}

func (c *ResidualCounter) add(n uint64) {
	c.mu.Lock()
	c.count += n
	c.mu.Unlock()
}

func (c *ResidualCounter) Count() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Execute runs the 5-step algorithm from spec §4.9 and returns the exact
// set of matching offsets: no false positives, no false negatives, order
// unspecified.
func Execute(resolver FieldResolver, q Query, counter *ResidualCounter) (indexapi.OffsetIterator, error) {
	if counter == nil {
		counter = &ResidualCounter{}
	}
	if len(q.Must) == 0 && len(q.Should) == 0 {
		return indexapi.NewSliceIterator(nil), nil
	}

	mustNotSet, err := unionFilter(resolver, q.MustNot)
	if err != nil {
		return nil, err
	}

	if len(q.Must) == 0 {
		union, err := unionFilter(resolver, q.Should)
		if err != nil {
			return nil, err
		}
		var out []uint32
		it := union.Iterator()
		for it.HasNext() {
			offset := it.Next()
			counter.add(1)
			if mustNotSet.Contains(offset) {
				continue
			}
			out = append(out, offset)
		}
		return indexapi.NewSliceIterator(out), nil
	}

	// Step 1: estimate cardinality of every must clause in parallel.
	estimates := make([]indexapi.Cardinality, len(q.Must))
	g, _ := errgroup.WithContext(context.Background())
	for i, cond := range q.Must {
		i, cond := i, cond
		g.Go(func() error {
			est, err := resolver.EstimateCardinality(cond)
			if err != nil {
				return err
			}
			estimates[i] = est
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Step 2: pick the cheapest clause as the primary driver, trying
	// candidates in ascending estimate order and skipping any that turn
	// out to be unindexed. An unknown-cardinality clause still carries
	// exp=total/2 (cheap-looking) but Filter can't drive iteration from
	// it, so it must lose to a real index rather than fail the query
	// (spec §7: NotIndexed downgrades to an unknown cardinality, not a
	// hard error).
	order := make([]int, len(estimates))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return estimates[order[a]].Exp < estimates[order[b]].Exp })

	primary := -1
	var primaryIter indexapi.OffsetIterator
	for _, i := range order {
		it, indexed, ferr := tryFilter(resolver, q.Must[i])
		if ferr != nil {
			return nil, ferr
		}
		if !indexed {
			continue
		}
		primary, primaryIter = i, it
		break
	}

	if primary < 0 {
		// No must clause is backed by an index. There is no bitmap to
		// drive iteration from without a full scan, which is outside
		// what a FieldResolver can provide; the only must-have clauses
		// left are residual-only and can't narrow anything on their
		// own, so surface this to the caller instead of silently
		// returning every point.
		return nil, segerrors.NotIndexed(q.Must[order[0]].Path)
	}

	// Step 3: build a filter context (membership bitmap) for every other
	// must clause. A clause on an unindexed path is downgraded to a
	// non-driving residual that always passes, rather than failing the
	// whole query (spec §7).
	residuals := make([]*roaring.Bitmap, 0, len(q.Must)-1)
	for i, cond := range q.Must {
		if i == primary {
			continue
		}
		bm, indexed, err := materialize(resolver, cond)
		if err != nil {
			return nil, err
		}
		if !indexed {
			continue
		}
		residuals = append(residuals, bm)
	}

	var shouldUnion *roaring.Bitmap
	if len(q.Should) > 0 {
		shouldUnion, err = unionFilter(resolver, q.Should)
		if err != nil {
			return nil, err
		}
	}

	// Step 4/5: stream the primary iterator, short-circuiting residuals.
	var out []uint32
	for {
		offset, ok := primaryIter.Next()
		if !ok {
			break
		}
		matched := true
		for _, bm := range residuals {
			counter.add(1)
			if !bm.Contains(offset) {
				matched = false
				break
			}
		}
		if matched && shouldUnion != nil {
			counter.add(1)
			if !shouldUnion.Contains(offset) {
				matched = false
			}
		}
		if matched && mustNotSet.Contains(offset) {
			matched = false
		}
		if matched {
			out = append(out, offset)
		}
	}
	return indexapi.NewSliceIterator(out), nil
}

// tryFilter runs cond through resolver.Filter, distinguishing a genuine
// NotIndexed condition (indexed=false, err=nil) from a real failure. spec
// §7 assigns the planner, not the caller, the job of downgrading
// NotIndexed rather than propagating it as a hard error.
func tryFilter(resolver FieldResolver, cond indexapi.Condition) (indexapi.OffsetIterator, bool, error) {
	it, err := resolver.Filter(cond)
	if err != nil {
		if segerrors.IsKind(err, segerrors.KindNotIndexed) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return it, true, nil
}

// materialize drains cond's matches into a bitmap. A NotIndexed path
// yields an empty bitmap with indexed=false rather than an error, so
// callers can treat it as a non-driving residual (spec §7).
func materialize(resolver FieldResolver, cond indexapi.Condition) (*roaring.Bitmap, bool, error) {
	it, indexed, err := tryFilter(resolver, cond)
	if err != nil {
		return nil, false, err
	}
	if !indexed {
		return roaring.New(), false, nil
	}
	bm := roaring.New()
	for {
		offset, ok := it.Next()
		if !ok {
			break
		}
		bm.Add(offset)
	}
	return bm, true, nil
}

// unionFilter unions every indexed condition in conds. Unindexed
// conditions are skipped rather than failing the union (spec §7); they
// can't assert membership, so they simply contribute nothing.
func unionFilter(resolver FieldResolver, conds []indexapi.Condition) (*roaring.Bitmap, error) {
	union := roaring.New()
	for _, cond := range conds {
		bm, indexed, err := materialize(resolver, cond)
		if err != nil {
			return nil, err
		}
		if !indexed {
			continue
		}
		union.Or(bm)
	}
	return union, nil
}
