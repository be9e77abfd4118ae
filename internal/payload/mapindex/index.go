// Package mapindex implements the map (keyword) index (spec §4.6): an
// in-memory value -> ordered offset set plus offset -> value list,
// backed by one of two persistent representations.
package mapindex

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	jsoniter "github.com/json-iterator/go"

	segerrors "github.com/segmentcore/segmentcore/internal/errors"
	"github.com/segmentcore/segmentcore/internal/payload/indexapi"
)

// Index is the map (keyword) field index.
type Index struct {
	mu sync.RWMutex

	dir     string
	backend backend
	loaded  bool

	postings      map[string]*roaring.Bitmap // encoded value -> offsets
	pointToValues map[uint32][]any

	indexedPoints uint64
	valuesCount   uint64
}

// Open opens or creates a map index under dir using the given backend
// kind. If createIfMissing is false and dir has no existing backend
// files, the index opens empty with loaded=false (spec §4.6).
func Open(dir string, kind Backend, createIfMissing bool) (*Index, bool, error) {
	exists, err := backendExists(dir, kind)
	if err != nil {
		return nil, false, err
	}
	if !exists && !createIfMissing {
		return &Index{
			dir:           dir,
			postings:      map[string]*roaring.Bitmap{},
			pointToValues: map[uint32][]any{},
		}, false, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, false, segerrors.Service(segerrors.CodeStorageIO, "create map index dir", err)
	}

	b, err := openBackend(dir, kind)
	if err != nil {
		return nil, false, err
	}
	ix := &Index{
		dir:           dir,
		backend:       b,
		postings:      map[string]*roaring.Bitmap{},
		pointToValues: map[uint32][]any{},
	}
	if err := ix.rebuild(); err != nil {
		_ = b.Close()
		return nil, false, err
	}
	ix.loaded = true
	return ix, true, nil
}

func openBackend(dir string, kind Backend) (backend, error) {
	switch kind {
	case BackendKV:
		return openKV(dir)
	case BackendBlock:
		return openBlock(dir)
	default:
		return nil, segerrors.Arguments(segerrors.CodeInvalidConfig, "unknown map index backend kind")
	}
}

func (ix *Index) rebuild() error {
	records, err := ix.backend.Load()
	if err != nil {
		return err
	}
	for offset, values := range records {
		if len(values) == 0 {
			continue
		}
		ix.pointToValues[offset] = values
		ix.indexedPoints++
		for _, v := range values {
			k, err := encodeValue(v)
			if err != nil {
				return err
			}
			ix.valuesCount++
			bm, ok := ix.postings[k]
			if !ok {
				bm = roaring.New()
				ix.postings[k] = bm
			}
			bm.Add(offset)
		}
	}
	return nil
}

// AddManyToMap unions values into offset's posting sets and writes the
// new record to the backend (spec §4.6).
func (ix *Index) AddManyToMap(offset uint32, values []any) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	wasEmpty := len(ix.pointToValues[offset]) == 0
	if prior := ix.pointToValues[offset]; len(prior) > 0 {
		ix.removeFromPostingsLocked(offset, prior)
	}

	ix.pointToValues[offset] = values
	for _, v := range values {
		k, err := encodeValue(v)
		if err != nil {
			return err
		}
		bm, ok := ix.postings[k]
		if !ok {
			bm = roaring.New()
			ix.postings[k] = bm
		}
		bm.Add(offset)
		ix.valuesCount++
	}
	if ix.backend != nil {
		if err := ix.backend.Put(offset, values); err != nil {
			return err
		}
	}
	if wasEmpty && len(values) > 0 {
		ix.indexedPoints++
	}
	return nil
}

// RemovePoint clears offset from every posting set of its prior values
// and writes a tombstone to the backend.
func (ix *Index) RemovePoint(offset uint32) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	prior, ok := ix.pointToValues[offset]
	if !ok || len(prior) == 0 {
		return nil
	}
	ix.removeFromPostingsLocked(offset, prior)
	delete(ix.pointToValues, offset)
	ix.indexedPoints--

	if ix.backend != nil {
		return ix.backend.Delete(offset)
	}
	return nil
}

func (ix *Index) removeFromPostingsLocked(offset uint32, prior []any) {
	seen := map[string]bool{}
	for _, v := range prior {
		k, err := encodeValue(v)
		if err != nil {
			continue
		}
		if seen[k] {
			continue // spec: duplicate values within one offset collapse in the posting
		}
		seen[k] = true
		if bm, ok := ix.postings[k]; ok {
			bm.Remove(offset)
			if ix.valuesCount > 0 {
				ix.valuesCount--
			}
			if bm.IsEmpty() {
				delete(ix.postings, k)
			}
		}
	}
}

// GetIterator returns the ascending offset stream for value.
func (ix *Index) GetIterator(value any) (indexapi.OffsetIterator, error) {
	k, err := encodeValue(value)
	if err != nil {
		return nil, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	bm, ok := ix.postings[k]
	if !ok {
		return indexapi.NewSliceIterator(nil), nil
	}
	return indexapi.NewSliceIterator(bm.ToArray()), nil
}

// IterCountsPerValue returns, for every distinct indexed value, its
// posting set size, keyed by value; the map carries no order.
func (ix *Index) IterCountsPerValue() map[string]uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make(map[string]uint64, len(ix.postings))
	for k, bm := range ix.postings {
		out[k] = bm.GetCardinality()
	}
	return out
}

func (ix *Index) GetUniqueValuesCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.postings)
}

func (ix *Index) GetCountForValue(value any) (uint64, error) {
	k, err := encodeValue(value)
	if err != nil {
		return 0, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	bm, ok := ix.postings[k]
	if !ok {
		return 0, nil
	}
	return bm.GetCardinality(), nil
}

func (ix *Index) ValuesCountAt(offset uint32) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.pointToValues[offset])
}

func (ix *Index) GetValues(offset uint32) []any {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return append([]any{}, ix.pointToValues[offset]...)
}

// CheckValuesAny reports whether any of offset's values satisfy pred,
// used for the residual check after the planner picked a primary clause.
func (ix *Index) CheckValuesAny(offset uint32, pred func(any) bool) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	for _, v := range ix.pointToValues[offset] {
		if pred(v) {
			return true
		}
	}
	return false
}

// Filter implements indexapi.FieldIndex for match and range conditions.
// Range support reuses the same numeric-tagged postings a map index
// already holds; spec.md names no separate sorted structure for it.
func (ix *Index) Filter(cond indexapi.Condition) (indexapi.OffsetIterator, error) {
	switch cond.Kind {
	case indexapi.ConditionMatch:
		return ix.GetIterator(cond.MatchValue)
	case indexapi.ConditionRange:
		bm, err := ix.rangeBitmap(cond)
		if err != nil {
			return nil, err
		}
		return indexapi.NewSliceIterator(bm.ToArray()), nil
	default:
		return nil, segerrors.Arguments(segerrors.CodeInvalidCondition, "map index only filters match and range conditions")
	}
}

// EstimateCardinality is exact for match (the posting set size is known
// without scanning) and for range (the union of matching postings).
func (ix *Index) EstimateCardinality(cond indexapi.Condition) (indexapi.Cardinality, error) {
	switch cond.Kind {
	case indexapi.ConditionMatch:
		count, err := ix.GetCountForValue(cond.MatchValue)
		if err != nil {
			return indexapi.Cardinality{}, err
		}
		return indexapi.Cardinality{Min: count, Exp: count, Max: count}, nil
	case indexapi.ConditionRange:
		bm, err := ix.rangeBitmap(cond)
		if err != nil {
			return indexapi.Cardinality{}, err
		}
		count := bm.GetCardinality()
		return indexapi.Cardinality{Min: count, Exp: count, Max: count}, nil
	default:
		return indexapi.Cardinality{}, segerrors.Arguments(segerrors.CodeInvalidCondition, "map index only estimates match and range conditions")
	}
}

// rangeBitmap unions postings for every numeric-tagged key within
// [Gte, Lte] (either bound optional).
func (ix *Index) rangeBitmap(cond indexapi.Condition) (*roaring.Bitmap, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	result := roaring.New()
	for k, bm := range ix.postings {
		if !strings.HasPrefix(k, "n:") {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimPrefix(k, "n:"), 64)
		if err != nil {
			continue
		}
		if cond.Gte != nil && v < *cond.Gte {
			continue
		}
		if cond.Lte != nil && v > *cond.Lte {
			continue
		}
		result.Or(bm)
	}
	return result, nil
}

func (ix *Index) IndexedPoints() uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.indexedPoints
}

func (ix *Index) ValuesCount() uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.valuesCount
}

func (ix *Index) Loaded() bool { return ix.loaded }

func (ix *Index) Files() []string {
	if ix.backend == nil {
		return nil
	}
	return ix.backend.Files()
}

func (ix *Index) Flush() error {
	if ix.backend == nil {
		return nil
	}
	return ix.backend.Flush()
}

func (ix *Index) Close() error {
	if ix.backend == nil {
		return nil
	}
	return ix.backend.Close()
}

// encodeValue produces the canonical posting-list key for a payload
// value. Scalars render as a type-tagged string so "1" (string) and 1
// (number) never collide.
func encodeValue(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return "s:" + t, nil
	case bool:
		return fmt.Sprintf("b:%t", t), nil
	case float64:
		return fmt.Sprintf("n:%v", t), nil
	case int:
		return fmt.Sprintf("n:%v", float64(t)), nil
	case nil:
		return "", segerrors.Arguments(segerrors.CodeInvalidCondition, "map index does not index null values")
	default:
		buf, err := jsoniter.Marshal(v)
		if err != nil {
			return "", segerrors.Arguments(segerrors.CodeInvalidCondition, "unsupported map index value type")
		}
		return "j:" + string(buf), nil
	}
}

// DecodeValue reverses encodeValue, recovering the raw payload value a
// posting-list key stands for. Callers that hand a key from
// IterCountsPerValue back into Filter/GetIterator (which re-encode their
// argument) must decode it first or the key gets encoded twice.
func DecodeValue(key string) (any, error) {
	switch {
	case strings.HasPrefix(key, "s:"):
		return strings.TrimPrefix(key, "s:"), nil
	case strings.HasPrefix(key, "b:"):
		return strings.TrimPrefix(key, "b:") == "true", nil
	case strings.HasPrefix(key, "n:"):
		f, err := strconv.ParseFloat(strings.TrimPrefix(key, "n:"), 64)
		if err != nil {
			return nil, segerrors.Arguments(segerrors.CodeInvalidCondition, "malformed numeric posting key: "+key)
		}
		return f, nil
	case strings.HasPrefix(key, "j:"):
		var v any
		if err := jsoniter.Unmarshal([]byte(strings.TrimPrefix(key, "j:")), &v); err != nil {
			return nil, segerrors.Arguments(segerrors.CodeInvalidCondition, "malformed JSON posting key: "+key)
		}
		return v, nil
	default:
		return nil, segerrors.Arguments(segerrors.CodeInvalidCondition, "unrecognized posting key: "+key)
	}
}

func backendExists(dir string, kind Backend) (bool, error) {
	var name string
	switch kind {
	case BackendKV:
		name = kvFileName
	case BackendBlock:
		name = blockFileName
	default:
		return false, segerrors.Arguments(segerrors.CodeInvalidConfig, "unknown map index backend kind")
	}
	return fileExists(dir, name)
}
