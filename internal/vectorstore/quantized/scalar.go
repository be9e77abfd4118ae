package quantized

import (
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/blevesearch/mmap-go"
	jsoniter "github.com/json-iterator/go"

	segerrors "github.com/segmentcore/segmentcore/internal/errors"
	"github.com/segmentcore/segmentcore/internal/vectorstore"
)

const (
	scalarCodesFile  = "codes.bin"
	headerFileName = "header.bin"
	scalarMetaFile   = "meta.json"
)

// scalarMeta holds the per-dimension affine map applied before encoding
// to int8: code = round(clip(x, Min, Max) affine-scaled to [-127,127]).
type scalarMeta struct {
	Min []float32 `json:"min"`
	Max []float32 `json:"max"`
}

func (m scalarMeta) scaleOf(dim int) (offset, scale float32) {
	lo, hi := m.Min[dim], m.Max[dim]
	if hi <= lo {
		return lo, 0
	}
	return lo, 254.0 / (hi - lo)
}

func (m scalarMeta) encodeValue(dim int, x float32) int8 {
	lo, hi := m.Min[dim], m.Max[dim]
	if x < lo {
		x = lo
	}
	if x > hi {
		x = hi
	}
	offset, scale := m.scaleOf(dim)
	if scale == 0 {
		return -127
	}
	return int8(math.Round(float64((x-offset)*scale - 127)))
}

func (m scalarMeta) decodeValue(dim int, code int8) float32 {
	offset, scale := m.scaleOf(dim)
	if scale == 0 {
		return offset
	}
	return (float32(code)+127)/scale + offset
}

// ScalarStore quantizes each dimension independently to a signed byte
// using a clipped-quantile range (spec §4.3, scalar method).
type ScalarStore struct {
	dir      string
	header   header
	meta     scalarMeta
	file     *os.File
	region   mmap.MMap
	onDisk   bool // true once codes are mmap'd from disk rather than held only as an empty store
	distance string
}

func buildScalar(src vectorstore.VectorSource, dir string, cfg Config, stopped func() bool) (Store, error) {
	dim := src.Dim()
	ids, vecs, err := liveVectors(src, stopped)
	if err != nil {
		return nil, err
	}

	quantile := cfg.ScalarQuantile
	if quantile <= 0 {
		quantile = defaultScalarQuantile
	}

	meta := scalarMeta{Min: make([]float32, dim), Max: make([]float32, dim)}
	column := make([]float32, len(vecs))
	for d := 0; d < dim; d++ {
		for i, v := range vecs {
			column[i] = v[d]
		}
		lo, hi := clippedRange(column, quantile)
		meta.Min[d] = lo
		meta.Max[d] = hi
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "create quantized store dir", err)
	}

	count := uint32(0)
	if len(ids) > 0 {
		count = ids[len(ids)-1] + 1
	}

	codesPath := filepath.Join(dir, scalarCodesFile)
	buf := make([]byte, int(count)*dim)
	for i, id := range ids {
		base := int(id) * dim
		for d := 0; d < dim; d++ {
			buf[base+d] = byte(meta.encodeValue(d, vecs[i][d]))
		}
	}
	if err := os.WriteFile(codesPath, buf, 0o644); err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "write scalar codes", err)
	}

	h := header{Method: MethodScalar, Dim: uint32(dim), Count: count, Distance: cfg.Distance, Invert: cfg.Invert}
	if err := os.WriteFile(filepath.Join(dir, headerFileName), h.encode(), 0o644); err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "write quantized header", err)
	}
	metaBytes, err := jsoniter.Marshal(meta)
	if err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "marshal scalar meta", err)
	}
	if err := os.WriteFile(filepath.Join(dir, scalarMetaFile), metaBytes, 0o644); err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "write scalar meta", err)
	}

	return loadScalar(dir)
}

func loadScalar(dir string) (Store, error) {
	hdrBytes, err := os.ReadFile(filepath.Join(dir, headerFileName))
	if err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "read quantized header", err)
	}
	h, err := decodeHeader(hdrBytes)
	if err != nil {
		return nil, err
	}

	metaBytes, err := os.ReadFile(filepath.Join(dir, scalarMetaFile))
	if err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "read scalar meta", err)
	}
	var meta scalarMeta
	if err := jsoniter.Unmarshal(metaBytes, &meta); err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageCorrupt, "unmarshal scalar meta", err)
	}

	s := &ScalarStore{dir: dir, header: h, meta: meta, distance: h.Distance}

	if h.Count > 0 {
		f, err := os.OpenFile(filepath.Join(dir, scalarCodesFile), os.O_RDWR, 0o644)
		if err != nil {
			return nil, segerrors.Service(segerrors.CodeStorageIO, "open scalar codes", err)
		}
		region, err := mmap.Map(f, mmap.RDWR, 0)
		if err != nil {
			_ = f.Close()
			return nil, segerrors.Service(segerrors.CodeMmapFailure, "mmap scalar codes", err)
		}
		s.file = f
		s.region = region
	}
	s.onDisk = s.region != nil
	return s, nil
}

func (s *ScalarStore) codeRow(i uint32) []int8 {
	dim := int(s.header.Dim)
	base := int(i) * dim
	row := make([]int8, dim)
	for d := 0; d < dim; d++ {
		row[d] = int8(s.region[base+d])
	}
	return row
}

func (s *ScalarStore) decodeRow(i uint32) []float32 {
	dim := int(s.header.Dim)
	row := s.codeRow(i)
	out := make([]float32, dim)
	for d := 0; d < dim; d++ {
		out[d] = s.meta.decodeValue(d, row[d])
	}
	return out
}

func (s *ScalarStore) EncodeQuery(q []float32) (any, error) {
	if len(q) != int(s.header.Dim) {
		return nil, segerrors.Arguments(segerrors.CodeDimensionMismatch, "query dimension does not match quantized store")
	}
	cp := make([]float32, len(q))
	copy(cp, q)
	return cp, nil
}

func (s *ScalarStore) ScorePoint(eq any, i uint32) (float32, error) {
	q, ok := eq.([]float32)
	if !ok {
		return 0, segerrors.Arguments(segerrors.CodeInvalidCondition, "encoded query is not a scalar query")
	}
	if i >= s.header.Count {
		return 0, segerrors.Arguments(segerrors.CodeInvalidOffset, "point offset out of range")
	}
	decoded := s.decodeRow(i)
	raw := RawDistance(decoded, q, s.distance)
	return invertIfNeeded(raw, s.header.Invert), nil
}

func (s *ScalarStore) ScoreInternal(i, j uint32) (float32, error) {
	if i >= s.header.Count || j >= s.header.Count {
		return 0, segerrors.Arguments(segerrors.CodeInvalidOffset, "point offset out of range")
	}
	raw := RawDistance(s.decodeRow(i), s.decodeRow(j), s.distance)
	return invertIfNeeded(raw, s.header.Invert), nil
}

func (s *ScalarStore) QuantizedVectorSize() int { return int(s.header.Dim) }

func (s *ScalarStore) IsOnDisk() bool { return s.onDisk }

func (s *ScalarStore) Save(dir string) error {
	if dir == s.dir {
		if s.region != nil {
			if err := s.region.Flush(); err != nil {
				return segerrors.Service(segerrors.CodeStorageIO, "flush scalar codes", err)
			}
		}
		return nil
	}
	return segerrors.Service(segerrors.CodeStorageIO, "scalar store Save to a different directory is not supported", nil)
}

func (s *ScalarStore) Files() []string {
	return []string{
		filepath.Join(s.dir, headerFileName),
		filepath.Join(s.dir, scalarMetaFile),
		filepath.Join(s.dir, scalarCodesFile),
	}
}

func (s *ScalarStore) Close() error {
	if s.region != nil {
		if err := s.region.Unmap(); err != nil {
			return segerrors.Service(segerrors.CodeMmapFailure, "unmap scalar codes", err)
		}
	}
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// clippedRange returns the [quantile, 1-quantile] symmetric clip range
// of values, matching the scalar method's default 0.99 clip.
func clippedRange(values []float32, quantile float64) (float32, float32) {
	if len(values) == 0 {
		return 0, 0
	}
	sorted := make([]float32, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	lowFrac := 1 - quantile
	loIdx := int(float64(len(sorted)-1) * lowFrac)
	hiIdx := int(float64(len(sorted)-1) * quantile)
	if loIdx < 0 {
		loIdx = 0
	}
	if hiIdx >= len(sorted) {
		hiIdx = len(sorted) - 1
	}
	lo, hi := sorted[loIdx], sorted[hiIdx]
	if hi <= lo {
		hi = lo + 1
	}
	return lo, hi
}

// peekMethod reads just enough of a quantized store's header to learn
// its method tag, without knowing which concrete layout it uses.
func peekMethod(dir string) (Method, error) {
	hdrBytes, err := os.ReadFile(filepath.Join(dir, headerFileName))
	if err != nil {
		return 0, segerrors.Service(segerrors.CodeStorageIO, "read quantized header", err)
	}
	h, err := decodeHeader(hdrBytes)
	if err != nil {
		return 0, err
	}
	return h.Method, nil
}
