// Package mmapflags implements a resizable bit-vector backed by a
// memory-mapped file: flags.bin holds the packed bits, flags.len holds
// the number of valid bits. The backing file grows by power-of-two
// doubling; growth beyond the current length writes zeros.
package mmapflags

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/mmap-go"
	"golang.org/x/sys/unix"

	"github.com/segmentcore/segmentcore/internal/hwcounter"
)

const (
	binFileName = "flags.bin"
	lenFileName = "flags.len"

	initialCapacityBytes = 64
)

// Vector is a dynamic, mmap-backed bit-vector.
type Vector struct {
	mu sync.RWMutex

	binPath string
	lenPath string

	file    *os.File
	region  mmap.MMap
	lenBits uint64 // number of addressable bits
	capByte uint64 // bytes currently mapped
}

// Open opens or creates the flag vector pair under dir.
func Open(dir string) (*Vector, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mmapflags: create dir %s: %w", dir, err)
	}

	binPath := filepath.Join(dir, binFileName)
	lenPath := filepath.Join(dir, lenFileName)

	f, err := os.OpenFile(binPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("mmapflags: open %s: %w", binPath, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmapflags: stat %s: %w", binPath, err)
	}

	capByte := uint64(info.Size())
	if capByte == 0 {
		capByte = initialCapacityBytes
		if err := f.Truncate(int64(capByte)); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("mmapflags: truncate %s: %w", binPath, err)
		}
	}

	region, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmapflags: mmap %s: %w", binPath, err)
	}

	v := &Vector{
		binPath: binPath,
		lenPath: lenPath,
		file:    f,
		region:  region,
		capByte: capByte,
	}

	if lenBits, err := readLen(lenPath); err == nil {
		v.lenBits = lenBits
	} else if !os.IsNotExist(err) {
		_ = region.Unmap()
		_ = f.Close()
		return nil, fmt.Errorf("mmapflags: read %s: %w", lenPath, err)
	}

	return v, nil
}

func readLen(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if len(data) < 8 {
		return 0, nil
	}
	return binary.LittleEndian.Uint64(data), nil
}

func writeLen(path string, n uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], n)
	return os.WriteFile(path, buf[:], 0o644)
}

// Files returns the backing file paths, for relocation or manifest listing.
func (v *Vector) Files() []string {
	return []string{v.binPath, v.lenPath}
}

// Len returns the number of addressable bits.
func (v *Vector) Len() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lenBits
}

// Get returns the value of bit i. Bits beyond the current length are false.
func (v *Vector) Get(i uint64) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.get(i)
}

func (v *Vector) get(i uint64) bool {
	if i >= v.lenBits {
		return false
	}
	byteIdx := i / 8
	bit := uint(i % 8)
	return v.region[byteIdx]&(1<<bit) != 0
}

// SetWithResize sets bit i to val, growing the backing file if needed,
// and returns the previous value.
func (v *Vector) SetWithResize(i uint64, val bool) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	byteIdx := i / 8
	if byteIdx >= v.capByte {
		if err := v.grow(byteIdx + 1); err != nil {
			return false, err
		}
	}

	prev := v.get(i)
	bit := uint(i % 8)
	if val {
		v.region[byteIdx] |= 1 << bit
	} else {
		v.region[byteIdx] &^= 1 << bit
	}

	if i+1 > v.lenBits {
		v.lenBits = i + 1
		if err := writeLen(v.lenPath, v.lenBits); err != nil {
			return prev, fmt.Errorf("mmapflags: persist length: %w", err)
		}
	}

	return prev, nil
}

// grow doubles capByte until it covers needBytes, remapping the file.
func (v *Vector) grow(needBytes uint64) error {
	newCap := v.capByte
	if newCap == 0 {
		newCap = initialCapacityBytes
	}
	for newCap < needBytes {
		newCap *= 2
	}

	if err := v.region.Unmap(); err != nil {
		return fmt.Errorf("mmapflags: unmap for growth: %w", err)
	}
	if err := v.file.Truncate(int64(newCap)); err != nil {
		return fmt.Errorf("mmapflags: grow %s: %w", v.binPath, err)
	}
	region, err := mmap.Map(v.file, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("mmapflags: remap %s: %w", v.binPath, err)
	}
	v.region = region
	v.capByte = newCap
	return nil
}

// CountFlags returns the number of set bits within [0, Len).
func (v *Vector) CountFlags() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.lenBits == 0 {
		return 0
	}

	fullBytes := v.lenBits / 8
	remBits := v.lenBits % 8

	var count uint64
	for i := uint64(0); i < fullBytes; i++ {
		count += uint64(bits.OnesCount8(v.region[i]))
	}
	if remBits > 0 {
		mask := byte(1<<remBits) - 1
		count += uint64(bits.OnesCount8(v.region[fullBytes] & mask))
	}
	return count
}

// Iterator yields set bit offsets in ascending order. It is stateless
// with respect to the vector (holds only its own cursor) and may be
// restarted at any time by calling IterTrues again.
type Iterator struct {
	v        *Vector
	pos      uint64
	cell     *hwcounter.Cell
	lastWord uint64
	hasWord  bool
}

// IterTrues returns a restartable iterator over set bit offsets. Cost is
// charged to cell per 8-byte word scanned.
func (v *Vector) IterTrues(cell *hwcounter.Cell) *Iterator {
	return &Iterator{v: v, cell: cell}
}

// Next returns the next set bit offset, or ok=false when exhausted.
func (it *Iterator) Next() (uint64, bool) {
	it.v.mu.RLock()
	defer it.v.mu.RUnlock()

	for it.pos < it.v.lenBits {
		byteIdx := it.pos / 8
		wordIdx := byteIdx / 8
		if it.cell != nil && (!it.hasWord || wordIdx != it.lastWord) {
			it.cell.IncrRead(8)
			it.lastWord = wordIdx
			it.hasWord = true
		}

		bit := uint(it.pos % 8)
		set := it.v.region[byteIdx]&(1<<bit) != 0
		pos := it.pos
		it.pos++
		if set {
			return pos, true
		}
	}
	return 0, false
}

// Flush syncs the mapped region and length file to disk.
func (v *Vector) Flush() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.region.Flush(); err != nil {
		return fmt.Errorf("mmapflags: flush %s: %w", v.binPath, err)
	}
	if err := writeLen(v.lenPath, v.lenBits); err != nil {
		return fmt.Errorf("mmapflags: flush length: %w", err)
	}
	return nil
}

// Populate advises the kernel to fault in all pages now (MADV_WILLNEED).
func (v *Vector) Populate() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return unix.Madvise(v.region, unix.MADV_WILLNEED)
}

// ClearCache advises the kernel the pages are not needed soon (MADV_DONTNEED).
func (v *Vector) ClearCache() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return unix.Madvise(v.region, unix.MADV_DONTNEED)
}

// Close unmaps and closes the backing file.
func (v *Vector) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.region.Unmap(); err != nil {
		return fmt.Errorf("mmapflags: unmap %s: %w", v.binPath, err)
	}
	return v.file.Close()
}
