package vectorstore

import (
	"fmt"
	"path/filepath"

	segerrors "github.com/segmentcore/segmentcore/internal/errors"
	"github.com/segmentcore/segmentcore/internal/mmapflags"
)

// VectorSource exposes read-only access to a vector collection, the
// seam a quantization builder reads raw vectors through without this
// package needing to import the quantizer.
type VectorSource interface {
	Dim() int
	Len() uint32
	Get(offset uint32) ([]float32, error)
	IsDeleted(offset uint32) bool
}

// QuantizedScorer is the subset of a quantized store's contract the
// appendable store needs once quantization has been built elsewhere
// (internal/vectorstore/quantized, wired by internal/segment).
type QuantizedScorer interface {
	QuantizedVectorSize() int
}

// AppendableStore composes a chunked vector store, a deletion bitmap,
// and an optional quantized scorer — the mutable vector face of a
// segment (spec §4.4).
type AppendableStore struct {
	chunks  *ChunkStore
	deleted *mmapflags.Vector
	quant   QuantizedScorer
}

// OpenAppendableStore opens (or creates) the chunk store and deletion
// bitmap under dir/vectors and dir/deleted respectively.
func OpenAppendableStore(dir string, dim int, chunkSizeBytes int) (*AppendableStore, error) {
	chunks, err := OpenChunkStore(filepath.Join(dir, "vectors"), dim, chunkSizeBytes)
	if err != nil {
		return nil, err
	}
	deleted, err := mmapflags.Open(filepath.Join(dir, "deleted"))
	if err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "open deletion bitmap", err)
	}
	return &AppendableStore{chunks: chunks, deleted: deleted}, nil
}

// Dim returns the vector dimension.
func (s *AppendableStore) Dim() int { return s.chunks.Dim() }

// Len returns the number of vectors ever inserted (including deleted ones).
func (s *AppendableStore) Len() uint32 { return s.chunks.Len() }

// DeletedCount returns popcount(deleted[0..len]).
func (s *AppendableStore) DeletedCount() uint64 { return s.deleted.CountFlags() }

// InsertVector writes v at key. key must equal the current length
// (append) or overwrite an existing, possibly-deleted slot.
func (s *AppendableStore) InsertVector(key uint32, v []float32) error {
	if err := s.chunks.InsertAt(key, v); err != nil {
		return err
	}
	if key < s.chunks.Len() {
		if _, err := s.deleted.SetWithResize(uint64(key), false); err != nil {
			return segerrors.Service(segerrors.CodeStorageIO, "clear deletion flag on insert", err)
		}
	}
	return nil
}

// DeleteVector marks key deleted and returns its previous deletion state.
func (s *AppendableStore) DeleteVector(key uint32) (bool, error) {
	if key >= s.chunks.Len() {
		return false, segerrors.Arguments(segerrors.CodeInvalidOffset,
			fmt.Sprintf("delete offset %d out of range (length %d)", key, s.chunks.Len()))
	}
	prev, err := s.deleted.SetWithResize(uint64(key), true)
	if err != nil {
		return false, segerrors.Service(segerrors.CodeStorageIO, "set deletion flag", err)
	}
	return prev, nil
}

// IsDeleted reports whether key is marked deleted.
func (s *AppendableStore) IsDeleted(key uint32) bool {
	return s.deleted.Get(uint64(key))
}

// IsDeletedVector is an alias for IsDeleted, named to match spec §4.4.
func (s *AppendableStore) IsDeletedVector(key uint32) bool { return s.IsDeleted(key) }

// Get returns a zero-copy view of the live or deleted vector at offset.
// Deletion does not zero storage; callers check IsDeleted separately.
func (s *AppendableStore) Get(offset uint32) ([]float32, error) {
	return s.chunks.Get(offset)
}

// SetQuantized attaches a previously built quantized scorer.
func (s *AppendableStore) SetQuantized(q QuantizedScorer) { s.quant = q }

// Quantized returns the attached quantized scorer, or nil if none.
func (s *AppendableStore) Quantized() QuantizedScorer { return s.quant }

// QuantizeBuilder builds a quantized scorer from a vector source. The
// concrete builder lives in internal/vectorstore/quantized; injecting it
// here avoids an import cycle between the two packages.
type QuantizeBuilder func(src VectorSource, dir string) (QuantizedScorer, error)

// Quantize builds an encoded copy of the live vectors under dir and
// attaches it as the store's quantized scorer.
func (s *AppendableStore) Quantize(dir string, build QuantizeBuilder) error {
	q, err := build(s, dir)
	if err != nil {
		return err
	}
	s.quant = q
	return nil
}

// Flusher returns a deferred closure that flushes vectors, then the
// deletion bitmap — ordered so a crash cannot leave a live pointer into
// an unflushed page (spec §4.4, §5).
func (s *AppendableStore) Flusher() func() error {
	return func() error {
		if err := s.chunks.Flush(); err != nil {
			return err
		}
		if err := s.deleted.Flush(); err != nil {
			return err
		}
		return nil
	}
}

// UpdateFrom bulk-copies ids from other into s, preserving deletion
// state, polling stopped between vectors.
func (s *AppendableStore) UpdateFrom(other *AppendableStore, ids []uint32, stopped func() bool) error {
	for _, id := range ids {
		if stopped != nil && stopped() {
			return segerrors.Cancelled()
		}
		v, err := other.Get(id)
		if err != nil {
			return err
		}
		if err := s.InsertVector(id, v); err != nil {
			return err
		}
		if other.IsDeleted(id) {
			if _, err := s.DeleteVector(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Files returns every backing file, vectors then deletion bitmap.
func (s *AppendableStore) Files() []string {
	files := append([]string{}, s.chunks.Files()...)
	return append(files, s.deleted.Files()...)
}

// Close releases the chunk store and deletion bitmap.
func (s *AppendableStore) Close() error {
	if err := s.chunks.Close(); err != nil {
		return err
	}
	return s.deleted.Close()
}
