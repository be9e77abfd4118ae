// Package segment owns the on-disk layout and concurrency model of one
// segment directory (spec §5, §6, SPEC_FULL §4.12): vector storage,
// quantization, field indices, and the manifest that ties them
// together, all behind one read-write lock.
package segment

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/segmentcore/segmentcore/internal/config"
	segerrors "github.com/segmentcore/segmentcore/internal/errors"
	"github.com/segmentcore/segmentcore/internal/graph"
	"github.com/segmentcore/segmentcore/internal/hwcounter"
	"github.com/segmentcore/segmentcore/internal/payload"
	"github.com/segmentcore/segmentcore/internal/payload/indexapi"
	"github.com/segmentcore/segmentcore/internal/planner"
	"github.com/segmentcore/segmentcore/internal/vectorstore"
	"github.com/segmentcore/segmentcore/internal/vectorstore/quantized"
)

const lockFileName = ".segment.lock"

// Segment is a segment-level index: the mutable vector face, quantized
// scoring, payload field indices, the ANN graph, and the manifest.
// mu is the read-write lock named in spec §5: filter/estimate/score/get
// take the read side and run concurrently; add/delete/set_indexed take
// the write side and run exclusively. An fLock additionally keeps two
// separate processes from opening the same directory at once.
type Segment struct {
	mu     sync.RWMutex
	dir    string
	cfg    *config.Config
	fLock  *flock.Flock
	vecs   *vectorstore.AppendableStore
	reg    *payload.Registry
	anng   *graph.Graph
	acc    *hwcounter.Accumulator
	closed bool
}

// Open creates (if absent) or opens the segment directory under dir,
// taking an exclusive cross-process file lock for the lifetime of the
// returned handle.
func Open(dir string, cfg *config.Config) (*Segment, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "create segment dir", err)
	}

	fLock := flock.New(filepath.Join(dir, lockFileName))
	acquired, err := fLock.TryLock()
	if err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "acquire segment lock", err)
	}
	if !acquired {
		return nil, segerrors.New(segerrors.CodeLockHeld, "segment directory is locked by another process", nil)
	}

	vecs, err := vectorstore.OpenAppendableStore(dir, cfg.VectorDim, cfg.Storage.ChunkSizeBytes)
	if err != nil {
		_ = fLock.Unlock()
		return nil, err
	}

	anng, err := graph.New(graph.Config{Distance: distanceFor(cfg.Distance)})
	if err != nil {
		_ = vecs.Close()
		_ = fLock.Unlock()
		return nil, err
	}

	reg := payload.Open(dir, uint64(vecs.Len()))
	seg := &Segment{
		dir: dir, cfg: cfg, fLock: fLock,
		vecs: vecs, reg: reg, anng: anng,
		acc: hwcounter.NewAccumulator(),
	}

	for _, fs := range cfg.Fields {
		if err := reg.SetIndexed(fs.Name, fs, nil); err != nil {
			_ = seg.Close()
			return nil, err
		}
	}

	if _, _, err := readManifest(filepath.Join(dir, manifestFileName)); err != nil {
		_ = seg.Close()
		return nil, err
	}
	if err := seg.writeManifestLocked(); err != nil {
		_ = seg.Close()
		return nil, err
	}
	return seg, nil
}

func distanceFor(d string) graph.Distance {
	if d == "l2" || d == "euclidean" {
		return graph.DistanceEuclidean
	}
	return graph.DistanceCosine
}

// InsertVector adds or overwrites the vector at offset, and mirrors it
// into the ANN graph (spec §4.4, §4.11). Exclusive: blocks readers.
// cell, if non-nil, is charged the bytes written; callers that don't
// care about per-operation cost accounting may pass nil.
func (s *Segment) InsertVector(offset uint32, v []float32, cell *hwcounter.Cell) error {
	if len(v) != s.vecs.Dim() {
		return segerrors.Arguments(segerrors.CodeDimensionMismatch, "vector length does not match segment dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.vecs.InsertVector(offset, v); err != nil {
		return err
	}
	if err := s.anng.Add(offset, v); err != nil {
		return err
	}
	if cell != nil {
		cell.IncrWrite(int64(len(v)) * 4)
	}
	return nil
}

// DeleteVector marks offset deleted in both the vector store and the
// ANN graph. Exclusive: blocks readers.
func (s *Segment) DeleteVector(offset uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.vecs.DeleteVector(offset); err != nil {
		return err
	}
	return s.anng.Remove(offset)
}

// GetVector returns the raw vector at offset. Shared: runs concurrently
// with other readers and with SearchANN/Filter/EstimateCardinality.
func (s *Segment) GetVector(offset uint32, cell *hwcounter.Cell) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, err := s.vecs.Get(offset)
	if err != nil {
		return nil, err
	}
	if cell != nil {
		cell.IncrRead(int64(len(v)) * 4)
	}
	return v, nil
}

// SearchANN runs an approximate nearest-neighbor search over the ANN
// graph (SPEC_FULL §4.11); the query planner does not call it. Shared.
func (s *Segment) SearchANN(q []float32, ef int) ([]uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.anng.Search(q, ef)
}

// Quantize builds a quantized scoring copy of the live vectors under
// dir/quantized, wiring the concrete quantized.Build function through
// the vectorstore.QuantizeBuilder injection seam (spec §4.3/§4.4).
// Exclusive: the quantized snapshot must see a stable vector set.
func (s *Segment) Quantize(stopped func() bool) error {
	if s.cfg.Quantization.Kind == "" || s.cfg.Quantization.Kind == config.QuantizationNone {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := quantized.FromStorageConfig(s.cfg.Quantization, s.cfg.Distance)
	dir := filepath.Join(s.dir, "quantized")
	build := func(src vectorstore.VectorSource, dir string) (vectorstore.QuantizedScorer, error) {
		return quantized.Build(src, dir, cfg, stopped)
	}
	return s.vecs.Quantize(dir, build)
}

// SetIndexed creates a field index for path and streams values into it
// (spec §4.8). Exclusive.
func (s *Segment) SetIndexed(path string, schema config.FieldSchema, values map[uint32]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reg.SetTotal(uint64(s.vecs.Len()))
	return s.reg.SetIndexed(path, schema, values)
}

// Filter dispatches a single condition to its field index. Shared.
func (s *Segment) Filter(cond indexapi.Condition) (indexapi.OffsetIterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reg.Filter(cond)
}

// EstimateCardinality brackets the size of Filter(cond) without
// materializing it. Shared.
func (s *Segment) EstimateCardinality(cond indexapi.Condition) (indexapi.Cardinality, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reg.EstimateCardinality(cond)
}

// QueryPoints runs the query planner over this segment's field indices
// (spec §4.9). Shared.
func (s *Segment) QueryPoints(q planner.Query) (indexapi.OffsetIterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reg.QueryPoints(q)
}

// Stats returns the cumulative I/O of every cell merged in through Charge
// (SPEC_FULL §5); operations do not merge their cells themselves.
func (s *Segment) Stats() hwcounter.Snapshot {
	return s.acc.Snapshot()
}

// Charge merges a completed operation's cell into the segment's shared
// accumulator. Callers own the cell's lifetime; Charge does not reset it.
func (s *Segment) Charge(cell *hwcounter.Cell) {
	if cell == nil {
		return
	}
	s.acc.Merge(cell)
}

// Flush persists every backing structure in the crash-safe order spec §5
// mandates: vector pages, then the deletion bitmap (both via the
// vector store's own flusher), then field indices, then the manifest.
// Exclusive: no writer may observe a partially flushed segment.
func (s *Segment) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.vecs.Flusher()(); err != nil {
		return err
	}
	if err := s.reg.Flush(); err != nil {
		return err
	}
	return s.writeManifestLocked()
}

func (s *Segment) writeManifestLocked() error {
	m := manifest{
		Version:    s.cfg.Version,
		VectorDim:  s.cfg.VectorDim,
		Distance:   s.cfg.Distance,
		Fields:     s.cfg.Fields,
		PointCount: uint64(s.vecs.Len()),
	}
	return writeManifest(filepath.Join(s.dir, manifestFileName), m)
}

// Files lists the vector store's backing files and the manifest. Field
// index files under the registry are not included.
func (s *Segment) Files() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	files := append([]string{}, s.vecs.Files()...)
	files = append(files, filepath.Join(s.dir, manifestFileName))
	return files
}

// Close closes the vector store and field indices and drops the exclusive
// lock. It does not call Flush or rewrite the manifest.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var firstErr error
	if err := s.vecs.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.reg.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.fLock.Unlock(); err != nil && firstErr == nil {
		firstErr = segerrors.Service(segerrors.CodeStorageIO, "release segment lock", err)
	}
	return firstErr
}
