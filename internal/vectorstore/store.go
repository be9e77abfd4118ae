// Package vectorstore implements the chunked mmap vector store (spec
// §4.2) and the appendable vector storage that composes it with a
// deletion bitmap and an optional quantized scorer (spec §4.4).
package vectorstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unsafe"

	"github.com/blevesearch/mmap-go"

	segerrors "github.com/segmentcore/segmentcore/internal/errors"
)

const defaultChunkSizeBytes = 32 * 1024 * 1024

const float32Size = 4

// chunk is one fixed-capacity page of vectors, backed by one mmap file.
type chunk struct {
	path     string
	file     *os.File
	region   mmap.MMap
	capacity int // vectors
	count    int // vectors written so far
}

// ChunkStore is an append-only array of fixed-dimension float32 vectors
// packed into equally-sized mmap pages. Pages are never rewritten;
// growth allocates a new page.
type ChunkStore struct {
	mu sync.RWMutex

	dir            string
	dim            int
	chunkSizeBytes int
	vectorsPerPage int

	chunks []*chunk
	length uint32
}

// OpenChunkStore opens or creates a chunk store directory. chunkSizeBytes
// of 0 uses the default (32MiB pages).
func OpenChunkStore(dir string, dim int, chunkSizeBytes int) (*ChunkStore, error) {
	if dim <= 0 {
		return nil, segerrors.Arguments(segerrors.CodeDimensionMismatch, "vector dimension must be positive")
	}
	if chunkSizeBytes <= 0 {
		chunkSizeBytes = defaultChunkSizeBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, fmt.Sprintf("create vector dir %s", dir), err)
	}

	vectorsPerPage := chunkSizeBytes / (dim * float32Size)
	if vectorsPerPage < 1 {
		vectorsPerPage = 1
	}

	cs := &ChunkStore{
		dir:            dir,
		dim:            dim,
		chunkSizeBytes: vectorsPerPage * dim * float32Size,
		vectorsPerPage: vectorsPerPage,
	}

	if err := cs.loadExisting(); err != nil {
		return nil, err
	}

	return cs, nil
}

func (cs *ChunkStore) loadExisting() error {
	entries, err := os.ReadDir(cs.dir)
	if err != nil {
		return segerrors.Service(segerrors.CodeStorageIO, "list vector pages", err)
	}

	var indices []int
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".bin") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(e.Name(), ".bin"))
		if err != nil {
			continue
		}
		indices = append(indices, n)
	}
	sort.Ints(indices)

	for _, idx := range indices {
		path := filepath.Join(cs.dir, fmt.Sprintf("%d.bin", idx))
		f, err := os.OpenFile(path, os.O_RDWR, 0o644)
		if err != nil {
			return segerrors.Service(segerrors.CodeStorageIO, fmt.Sprintf("open page %s", path), err)
		}
		region, err := mmap.Map(f, mmap.RDWR, 0)
		if err != nil {
			_ = f.Close()
			return segerrors.Service(segerrors.CodeStorageCorrupt, fmt.Sprintf("mmap page %s", path), err)
		}
		c := &chunk{path: path, file: f, region: region, capacity: cs.vectorsPerPage}
		cs.chunks = append(cs.chunks, c)
	}

	// Recompute length/last-page occupancy from the manifest-free layout:
	// every page but the last is assumed full; the last page's count is
	// unknown without a separate record, so a fresh store (no existing
	// pages) starts empty and callers rebuild length from the registry
	// manifest on open. For a store with existing pages and no manifest
	// available, treat all but the last as full and the last as full too
	// (append-only stores are expected to be paired with a manifest that
	// records the true length; see internal/segment).
	for i, c := range cs.chunks {
		if i < len(cs.chunks)-1 {
			c.count = c.capacity
			cs.length += uint32(c.capacity)
		} else {
			c.count = c.capacity
			cs.length += uint32(c.capacity)
		}
	}

	return nil
}

// SetLength overrides the known vector count and the last page's
// occupancy, used by the segment directory manager when restoring state
// from its manifest (the chunk layout alone cannot recover an exact
// count for the final, possibly-partial page).
func (cs *ChunkStore) SetLength(n uint32) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.length = n
	remaining := int(n)
	for _, c := range cs.chunks {
		if remaining >= c.capacity {
			c.count = c.capacity
			remaining -= c.capacity
		} else {
			c.count = remaining
			remaining = 0
		}
	}
}

// Dim returns the vector dimension.
func (cs *ChunkStore) Dim() int { return cs.dim }

// Len returns the number of vectors pushed so far.
func (cs *ChunkStore) Len() uint32 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.length
}

// Files returns the ordered list of page files.
func (cs *ChunkStore) Files() []string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	files := make([]string, len(cs.chunks))
	for i, c := range cs.chunks {
		files[i] = c.path
	}
	return files
}

// Push appends v and returns its new offset.
func (cs *ChunkStore) Push(v []float32) (uint32, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.push(v)
}

func (cs *ChunkStore) push(v []float32) (uint32, error) {
	if len(v) != cs.dim {
		return 0, segerrors.Arguments(segerrors.CodeDimensionMismatch,
			fmt.Sprintf("vector length %d does not match dimension %d", len(v), cs.dim))
	}

	c, err := cs.writableChunk()
	if err != nil {
		return 0, err
	}

	dst := chunkFloats(c)[c.count*cs.dim : (c.count+1)*cs.dim]
	copy(dst, v)
	c.count++

	offset := cs.length
	cs.length++
	return offset, nil
}

// InsertAt writes v at key. key must equal the current length (append)
// or address an already-allocated slot (in-place overwrite); sparse
// holes beyond the current length are refused.
func (cs *ChunkStore) InsertAt(key uint32, v []float32) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if len(v) != cs.dim {
		return segerrors.Arguments(segerrors.CodeDimensionMismatch,
			fmt.Sprintf("vector length %d does not match dimension %d", len(v), cs.dim))
	}
	if key > cs.length {
		return segerrors.Arguments(segerrors.CodeInvalidOffset,
			fmt.Sprintf("insert at %d beyond current length %d", key, cs.length))
	}
	if key == cs.length {
		_, err := cs.push(v)
		return err
	}

	pageIdx := int(key) / cs.vectorsPerPage
	localIdx := int(key) % cs.vectorsPerPage
	c := cs.chunks[pageIdx]
	dst := chunkFloats(c)[localIdx*cs.dim : (localIdx+1)*cs.dim]
	copy(dst, v)
	return nil
}

// Get returns a zero-copy view of the vector at offset.
func (cs *ChunkStore) Get(offset uint32) ([]float32, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	if offset >= cs.length {
		return nil, segerrors.Arguments(segerrors.CodeInvalidOffset,
			fmt.Sprintf("offset %d out of range (length %d)", offset, cs.length))
	}

	pageIdx := int(offset) / cs.vectorsPerPage
	localIdx := int(offset) % cs.vectorsPerPage
	c := cs.chunks[pageIdx]
	return chunkFloats(c)[localIdx*cs.dim : (localIdx+1)*cs.dim], nil
}

func (cs *ChunkStore) writableChunk() (*chunk, error) {
	if len(cs.chunks) > 0 {
		last := cs.chunks[len(cs.chunks)-1]
		if last.count < last.capacity {
			return last, nil
		}
	}

	idx := len(cs.chunks)
	path := filepath.Join(cs.dir, fmt.Sprintf("%d.bin", idx))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, fmt.Sprintf("create page %s", path), err)
	}
	if err := f.Truncate(int64(cs.chunkSizeBytes)); err != nil {
		_ = f.Close()
		return nil, segerrors.Service(segerrors.CodeStorageIO, fmt.Sprintf("allocate page %s", path), err)
	}
	region, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		_ = f.Close()
		return nil, segerrors.Service(segerrors.CodeStorageIO, fmt.Sprintf("mmap page %s", path), err)
	}

	c := &chunk{path: path, file: f, region: region, capacity: cs.vectorsPerPage}
	cs.chunks = append(cs.chunks, c)
	return c, nil
}

// Flush syncs every page to disk.
func (cs *ChunkStore) Flush() error {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	for _, c := range cs.chunks {
		if err := c.region.Flush(); err != nil {
			return segerrors.Service(segerrors.CodeStorageIO, fmt.Sprintf("flush page %s", c.path), err)
		}
	}
	return nil
}

// Close unmaps and closes every page.
func (cs *ChunkStore) Close() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for _, c := range cs.chunks {
		if err := c.region.Unmap(); err != nil {
			return err
		}
		if err := c.file.Close(); err != nil {
			return err
		}
	}
	return nil
}

// chunkFloats reinterprets a page's mmap'd bytes as a float32 slice.
// The page is allocated as a whole number of float32-sized vectors so
// alignment and length are always exact multiples of 4 bytes.
func chunkFloats(c *chunk) []float32 {
	n := len(c.region) / float32Size
	return unsafe.Slice((*float32)(unsafe.Pointer(&c.region[0])), n)
}
