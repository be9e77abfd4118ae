package quantized

import (
	"math"
	"os"
	"path/filepath"

	"github.com/bits-and-blooms/bitset"
	jsoniter "github.com/json-iterator/go"

	"github.com/segmentcore/segmentcore/internal/config"
	segerrors "github.com/segmentcore/segmentcore/internal/errors"
	"github.com/segmentcore/segmentcore/internal/vectorstore"
)

const (
	binaryCodesFile = "codes.bin"
	binaryMetaFile  = "meta.json"
)

// binaryMeta holds the per-plane, per-dimension thresholds and plane
// weights for a binary quantization store (spec §4.3, binary method).
// Plane k's bit is set when a dimension exceeds Thresholds[k][dim].
type binaryMeta struct {
	Thresholds [][]float32 `json:"thresholds"`
	Weights    []float32   `json:"weights"`
}

func planesForEncoding(enc config.BinaryEncoding) ([]float64, error) {
	switch enc {
	case "", config.BinaryOneBit:
		return []float64{1.0}, nil
	case config.BinaryOneAndHalfBits:
		return []float64{1.0, 0.5}, nil
	case config.BinaryTwoBits:
		return []float64{1.0, 1.0}, nil
	default:
		return nil, segerrors.Arguments(segerrors.CodeInvalidConfig, "unknown binary encoding")
	}
}

// BinaryStore encodes each dimension against one or more thresholds and
// scores by a weighted popcount-hamming agreement across planes.
type BinaryStore struct {
	dir      string
	header   header
	meta     binaryMeta
	planeLen int // bytes per plane per point
	codes    []byte
	distance string
}

func buildBinary(src vectorstore.VectorSource, dir string, cfg Config, stopped func() bool) (Store, error) {
	dim := src.Dim()
	weights, err := planesForEncoding(cfg.BinaryEncoding)
	if err != nil {
		return nil, err
	}
	ids, vecs, err := liveVectors(src, stopped)
	if err != nil {
		return nil, err
	}

	thresholds := make([][]float32, len(weights))
	for k := range thresholds {
		thresholds[k] = make([]float32, dim)
	}
	for d := 0; d < dim; d++ {
		mean, std := meanStd(vecs, d)
		for k := range weights {
			spread := float32(k+1) * std
			if len(weights) == 1 {
				thresholds[k][d] = mean
			} else {
				thresholds[k][d] = mean + spread
			}
		}
	}

	meta := binaryMeta{Thresholds: thresholds, Weights: float32Slice(weights)}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "create quantized store dir", err)
	}

	count := uint32(0)
	if len(ids) > 0 {
		count = ids[len(ids)-1] + 1
	}
	planeLen := (dim + 7) / 8
	perPoint := planeLen * len(weights)
	codes := make([]byte, int(count)*perPoint)
	for i, id := range ids {
		base := int(id) * perPoint
		for k := range weights {
			packRow(codes[base+k*planeLen:base+(k+1)*planeLen], vecs[i], thresholds[k])
		}
	}
	if err := os.WriteFile(filepath.Join(dir, binaryCodesFile), codes, 0o644); err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "write binary codes", err)
	}

	h := header{Method: MethodBinary, Dim: uint32(dim), Count: count, Distance: cfg.Distance, Invert: cfg.Invert}
	if err := os.WriteFile(filepath.Join(dir, headerFileName), h.encode(), 0o644); err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "write quantized header", err)
	}
	metaBytes, err := jsoniter.Marshal(meta)
	if err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "marshal binary meta", err)
	}
	if err := os.WriteFile(filepath.Join(dir, binaryMetaFile), metaBytes, 0o644); err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "write binary meta", err)
	}

	return loadBinary(dir)
}

func loadBinary(dir string) (Store, error) {
	hdrBytes, err := os.ReadFile(filepath.Join(dir, headerFileName))
	if err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "read quantized header", err)
	}
	h, err := decodeHeader(hdrBytes)
	if err != nil {
		return nil, err
	}
	metaBytes, err := os.ReadFile(filepath.Join(dir, binaryMetaFile))
	if err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "read binary meta", err)
	}
	var meta binaryMeta
	if err := jsoniter.Unmarshal(metaBytes, &meta); err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageCorrupt, "unmarshal binary meta", err)
	}
	var codes []byte
	if h.Count > 0 {
		codes, err = os.ReadFile(filepath.Join(dir, binaryCodesFile))
		if err != nil {
			return nil, segerrors.Service(segerrors.CodeStorageIO, "read binary codes", err)
		}
	}
	planeLen := (int(h.Dim) + 7) / 8
	return &BinaryStore{
		dir: dir, header: h, meta: meta, planeLen: planeLen, codes: codes, distance: h.Distance,
	}, nil
}

func (s *BinaryStore) perPoint() int { return s.planeLen * len(s.meta.Weights) }

func (s *BinaryStore) planeBitset(point uint32, plane int) *bitset.BitSet {
	base := int(point)*s.perPoint() + plane*s.planeLen
	row := s.codes[base : base+s.planeLen]
	bs := bitset.New(uint(s.header.Dim))
	for d := uint(0); d < uint(s.header.Dim); d++ {
		if row[d/8]&(1<<(d%8)) != 0 {
			bs.Set(d)
		}
	}
	return bs
}

type binaryQuery struct {
	planes []*bitset.BitSet
}

func (s *BinaryStore) EncodeQuery(q []float32) (any, error) {
	if len(q) != int(s.header.Dim) {
		return nil, segerrors.Arguments(segerrors.CodeDimensionMismatch, "query dimension does not match quantized store")
	}
	planes := make([]*bitset.BitSet, len(s.meta.Weights))
	for k := range planes {
		bs := bitset.New(uint(s.header.Dim))
		for d := 0; d < len(q); d++ {
			if q[d] > s.meta.Thresholds[k][d] {
				bs.Set(uint(d))
			}
		}
		planes[k] = bs
	}
	return binaryQuery{planes: planes}, nil
}

func (s *BinaryStore) scorePlanes(a, b []*bitset.BitSet) float32 {
	var score float32
	for k, weight := range s.meta.Weights {
		xor := a[k].SymmetricDifference(b[k])
		agree := float32(s.header.Dim) - float32(xor.Count())
		score += weight * agree
	}
	return score
}

func (s *BinaryStore) ScorePoint(eq any, i uint32) (float32, error) {
	bq, ok := eq.(binaryQuery)
	if !ok {
		return 0, segerrors.Arguments(segerrors.CodeInvalidCondition, "encoded query is not a binary query")
	}
	if i >= s.header.Count {
		return 0, segerrors.Arguments(segerrors.CodeInvalidOffset, "point offset out of range")
	}
	planes := make([]*bitset.BitSet, len(s.meta.Weights))
	for k := range planes {
		planes[k] = s.planeBitset(i, k)
	}
	return invertIfNeeded(s.scorePlanes(bq.planes, planes), s.header.Invert), nil
}

func (s *BinaryStore) ScoreInternal(i, j uint32) (float32, error) {
	if i >= s.header.Count || j >= s.header.Count {
		return 0, segerrors.Arguments(segerrors.CodeInvalidOffset, "point offset out of range")
	}
	pi := make([]*bitset.BitSet, len(s.meta.Weights))
	pj := make([]*bitset.BitSet, len(s.meta.Weights))
	for k := range pi {
		pi[k] = s.planeBitset(i, k)
		pj[k] = s.planeBitset(j, k)
	}
	return invertIfNeeded(s.scorePlanes(pi, pj), s.header.Invert), nil
}

func (s *BinaryStore) QuantizedVectorSize() int { return s.perPoint() }

func (s *BinaryStore) IsOnDisk() bool { return false }

func (s *BinaryStore) Save(dir string) error {
	if dir != s.dir {
		return segerrors.Service(segerrors.CodeStorageIO, "binary store Save to a different directory is not supported", nil)
	}
	return nil
}

func (s *BinaryStore) Files() []string {
	return []string{
		filepath.Join(s.dir, headerFileName),
		filepath.Join(s.dir, binaryMetaFile),
		filepath.Join(s.dir, binaryCodesFile),
	}
}

func (s *BinaryStore) Close() error { return nil }

func packRow(dst []byte, v []float32, thresholds []float32) {
	for d, x := range v {
		if x > thresholds[d] {
			dst[d/8] |= 1 << (uint(d) % 8)
		}
	}
}

func meanStd(vecs [][]float32, dim int) (mean, std float32) {
	if len(vecs) == 0 {
		return 0, 1
	}
	var sum float64
	for _, v := range vecs {
		sum += float64(v[dim])
	}
	m := sum / float64(len(vecs))
	var variance float64
	for _, v := range vecs {
		d := float64(v[dim]) - m
		variance += d * d
	}
	variance /= float64(len(vecs))
	sd := math.Sqrt(variance)
	if sd == 0 {
		sd = 1
	}
	return float32(m), float32(sd)
}

func float32Slice(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
