// Package nullindex implements the null/empty satellite index (spec
// §4.5): two dynamic mmap flag vectors answering IsEmpty/IsNull filters
// without touching the main field index.
package nullindex

import (
	"os"
	"path/filepath"

	segerrors "github.com/segmentcore/segmentcore/internal/errors"
	"github.com/segmentcore/segmentcore/internal/hwcounter"
	"github.com/segmentcore/segmentcore/internal/mmapflags"
	"github.com/segmentcore/segmentcore/internal/payload/indexapi"
)

const (
	hasValuesDir = "has_values"
	isNullDir    = "is_null"
	countFile    = "total_point_count"
)

// Index holds has_values/is_null bit-vectors plus the high-water mark
// of offsets ever added or removed (spec §4.5: bumped on remove too,
// since absent-field upserts are signalled as removals).
type Index struct {
	dir             string
	hasValues       *mmapflags.Vector
	isNull          *mmapflags.Vector
	totalPointCount uint64
	countPath       string
}

func Open(dir string) (*Index, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "create null index dir", err)
	}
	hv, err := mmapflags.Open(filepath.Join(dir, hasValuesDir))
	if err != nil {
		return nil, err
	}
	in, err := mmapflags.Open(filepath.Join(dir, isNullDir))
	if err != nil {
		return nil, err
	}
	countPath := filepath.Join(dir, countFile)
	count, err := readCount(countPath)
	if err != nil {
		return nil, err
	}
	return &Index{dir: dir, hasValues: hv, isNull: in, totalPointCount: count, countPath: countPath}, nil
}

func readCount(path string) (uint64, error) {
	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, segerrors.Service(segerrors.CodeStorageIO, "read null index point count", err)
	}
	if len(buf) != 8 {
		return 0, segerrors.Service(segerrors.CodeStorageCorrupt, "corrupt null index point count", nil)
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return v, nil
}

func writeCount(path string, v uint64) error {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return segerrors.Service(segerrors.CodeStorageIO, "write null index point count", err)
	}
	return nil
}

func (ix *Index) bump(offset uint32) {
	if uint64(offset)+1 > ix.totalPointCount {
		ix.totalPointCount = uint64(offset) + 1
	}
}

// Add records whether offset's indexed field has a value and/or is null
// (spec invariants 3-4). hasValue and isNull are not mutually exclusive.
func (ix *Index) Add(offset uint32, hasValue, isNull bool) error {
	if _, err := ix.hasValues.SetWithResize(uint64(offset), hasValue); err != nil {
		return err
	}
	if _, err := ix.isNull.SetWithResize(uint64(offset), isNull); err != nil {
		return err
	}
	ix.bump(offset)
	return nil
}

// Remove clears both flags for offset. Per spec §4.5 this still bumps
// total_point_count: absent-field upserts are signalled as removals,
// and the is_empty=true scan must visit every offset ever seen.
func (ix *Index) Remove(offset uint32) error {
	if _, err := ix.hasValues.SetWithResize(uint64(offset), false); err != nil {
		return err
	}
	if _, err := ix.isNull.SetWithResize(uint64(offset), false); err != nil {
		return err
	}
	ix.bump(offset)
	return nil
}

func (ix *Index) TotalPointCount() uint64 { return ix.totalPointCount }

// Filter implements indexapi.FieldIndex for IsEmpty/IsNull conditions.
func (ix *Index) Filter(cond indexapi.Condition) (indexapi.OffsetIterator, error) {
	switch cond.Kind {
	case indexapi.ConditionIsEmpty:
		return ix.isEmpty(cond.Want, nil), nil
	case indexapi.ConditionIsNull:
		return ix.isNullFilter(cond.Want, nil), nil
	default:
		return nil, segerrors.Arguments(segerrors.CodeInvalidCondition, "null index only filters is_empty/is_null conditions")
	}
}

// IsEmpty returns the offset stream for is_empty=want (spec §4.5),
// charging scanned bits to cell when non-nil.
func (ix *Index) isEmpty(want bool, cell *hwcounter.Cell) indexapi.OffsetIterator {
	if !want {
		return newTrueIterator(ix.hasValues.IterTrues(cell))
	}
	return newComplementIterator(ix.totalPointCount, ix.hasValues, cell)
}

func (ix *Index) isNullFilter(want bool, cell *hwcounter.Cell) indexapi.OffsetIterator {
	if want {
		return newTrueIterator(ix.isNull.IterTrues(cell))
	}
	return newComplementIterator(ix.totalPointCount, ix.isNull, cell)
}

// EstimateCardinality implements spec §4.5's exact-for-true,
// bracketed-for-false cardinality formulas.
func (ix *Index) EstimateCardinality(cond indexapi.Condition) (indexapi.Cardinality, error) {
	var flagCount uint64
	switch cond.Kind {
	case indexapi.ConditionIsEmpty:
		flagCount = ix.hasValues.CountFlags()
	case indexapi.ConditionIsNull:
		flagCount = ix.isNull.CountFlags()
	default:
		return indexapi.Cardinality{}, segerrors.Arguments(segerrors.CodeInvalidCondition, "null index only estimates is_empty/is_null conditions")
	}

	if cond.Kind == indexapi.ConditionIsNull && cond.Want {
		return indexapi.Cardinality{Min: flagCount, Exp: flagCount, Max: flagCount}, nil
	}
	if cond.Kind == indexapi.ConditionIsEmpty && !cond.Want {
		return indexapi.Cardinality{Min: flagCount, Exp: flagCount, Max: flagCount}, nil
	}

	// the "false" cases: estimated = total - popcount(flag); exp = 2/3 of that.
	estimated := ix.totalPointCount - flagCount
	return indexapi.Cardinality{
		Min: 0,
		Exp: estimated * 2 / 3,
		Max: estimated,
	}, nil
}

func (ix *Index) IndexedPoints() uint64 { return ix.hasValues.CountFlags() }

func (ix *Index) Files() []string {
	files := append([]string{}, ix.hasValues.Files()...)
	files = append(files, ix.isNull.Files()...)
	files = append(files, ix.countPath)
	return files
}

func (ix *Index) Flush() error {
	if err := ix.hasValues.Flush(); err != nil {
		return err
	}
	if err := ix.isNull.Flush(); err != nil {
		return err
	}
	return writeCount(ix.countPath, ix.totalPointCount)
}

func (ix *Index) Close() error {
	if err := ix.hasValues.Close(); err != nil {
		return err
	}
	return ix.isNull.Close()
}

type trueIterator struct {
	it interface{ Next() (uint64, bool) }
}

func newTrueIterator(it *mmapflags.Iterator) indexapi.OffsetIterator {
	return &trueIterator{it: it}
}

func (t *trueIterator) Next() (uint32, bool) {
	v, ok := t.it.Next()
	return uint32(v), ok
}

// complementIterator enumerates [0, total) minus the set bits of flag,
// used by is_empty=true and is_null=false (spec §4.5).
type complementIterator struct {
	total uint64
	flag  *mmapflags.Vector
	cell  *hwcounter.Cell
	pos   uint64
}

func newComplementIterator(total uint64, flag *mmapflags.Vector, cell *hwcounter.Cell) *complementIterator {
	return &complementIterator{total: total, flag: flag, cell: cell}
}

func (c *complementIterator) Next() (uint32, bool) {
	for c.pos < c.total {
		i := c.pos
		c.pos++
		if c.cell != nil {
			c.cell.IncrRead(1)
		}
		if !c.flag.Get(i) {
			return uint32(i), true
		}
	}
	return 0, false
}
