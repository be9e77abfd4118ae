package quantized

import (
	"math"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/viterin/vek"

	segerrors "github.com/segmentcore/segmentcore/internal/errors"
	"github.com/segmentcore/segmentcore/internal/vectorstore"
)

const (
	productCodesFile = "codes.bin"
	productMetaFile  = "meta.json"

	defaultProductSubVectors = 8
	defaultProductCentroids  = 256 // 2^8 (compression=8 bits per sub-vector code)
	kmeansIterations         = 12
	lutCacheSize             = 64
)

// productMeta holds the k-means centroids trained independently per
// sub-vector (spec §4.3, product method).
type productMeta struct {
	SubVectors int         `json:"sub_vectors"`
	SubDim     int         `json:"sub_dim"`
	Centroids  [][][]float32 `json:"centroids"` // [subVector][centroidIdx][subDim]
}

// ProductStore partitions each vector into equal sub-vectors and encodes
// each sub-vector as the index of its nearest trained centroid, scoring
// via a precomputed query-to-centroid lookup table per sub-vector.
type ProductStore struct {
	dir        string
	header     header
	meta       productMeta
	codes      []byte // count * subVectors bytes (one centroid index per sub-vector, byte-encoded)
	distance   string
	lutCache   *lru.Cache[int, [][]float32]
}

func buildProduct(src vectorstore.VectorSource, dir string, cfg Config, stopped func() bool) (Store, error) {
	dim := src.Dim()
	subVectors := cfg.ProductSubVectors
	if subVectors <= 0 {
		subVectors = defaultProductSubVectors
	}
	if dim%subVectors != 0 {
		for subVectors > 1 && dim%subVectors != 0 {
			subVectors--
		}
	}
	subDim := dim / subVectors
	centroidCount := cfg.ProductCentroids
	if centroidCount <= 0 {
		centroidCount = defaultProductCentroids
	}

	ids, vecs, err := liveVectors(src, stopped)
	if err != nil {
		return nil, err
	}
	if centroidCount > len(vecs) && len(vecs) > 0 {
		centroidCount = len(vecs)
	}

	centroids := make([][][]float32, subVectors)
	assignments := make([][]int, subVectors)
	for sv := 0; sv < subVectors; sv++ {
		if stopped != nil && stopped() {
			return nil, segerrors.Cancelled()
		}
		sub := make([][]float32, len(vecs))
		for i, v := range vecs {
			sub[i] = v[sv*subDim : (sv+1)*subDim]
		}
		c, a := kmeans(sub, centroidCount, subDim)
		centroids[sv] = c
		assignments[sv] = a
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "create quantized store dir", err)
	}

	count := uint32(0)
	if len(ids) > 0 {
		count = ids[len(ids)-1] + 1
	}
	codes := make([]byte, int(count)*subVectors)
	for i, id := range ids {
		base := int(id) * subVectors
		for sv := 0; sv < subVectors; sv++ {
			codes[base+sv] = byte(assignments[sv][i])
		}
	}
	if err := os.WriteFile(filepath.Join(dir, productCodesFile), codes, 0o644); err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "write product codes", err)
	}

	meta := productMeta{SubVectors: subVectors, SubDim: subDim, Centroids: centroids}
	h := header{Method: MethodProduct, Dim: uint32(dim), Count: count, Distance: cfg.Distance, Invert: cfg.Invert}
	if err := os.WriteFile(filepath.Join(dir, headerFileName), h.encode(), 0o644); err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "write quantized header", err)
	}
	metaBytes, err := jsoniter.Marshal(meta)
	if err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "marshal product meta", err)
	}
	if err := os.WriteFile(filepath.Join(dir, productMetaFile), metaBytes, 0o644); err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "write product meta", err)
	}

	return loadProduct(dir)
}

func loadProduct(dir string) (Store, error) {
	hdrBytes, err := os.ReadFile(filepath.Join(dir, headerFileName))
	if err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "read quantized header", err)
	}
	h, err := decodeHeader(hdrBytes)
	if err != nil {
		return nil, err
	}
	metaBytes, err := os.ReadFile(filepath.Join(dir, productMetaFile))
	if err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "read product meta", err)
	}
	var meta productMeta
	if err := jsoniter.Unmarshal(metaBytes, &meta); err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageCorrupt, "unmarshal product meta", err)
	}
	var codes []byte
	if h.Count > 0 {
		codes, err = os.ReadFile(filepath.Join(dir, productCodesFile))
		if err != nil {
			return nil, segerrors.Service(segerrors.CodeStorageIO, "read product codes", err)
		}
	}
	cache, err := lru.New[int, [][]float32](lutCacheSize)
	if err != nil {
		return nil, segerrors.Service(segerrors.CodeInvalidConfig, "create product lookup table cache", err)
	}
	return &ProductStore{dir: dir, header: h, meta: meta, codes: codes, distance: h.Distance, lutCache: cache}, nil
}

// lookupTable returns, for a given query, one row per sub-vector of
// per-centroid raw distances, caching on a hash of the query's bit
// pattern so repeated scoring against the same query reuses it.
func (s *ProductStore) lookupTable(q []float32) [][]float32 {
	key := queryCacheKey(q)
	if lut, ok := s.lutCache.Get(key); ok {
		return lut
	}
	lut := make([][]float32, s.meta.SubVectors)
	for sv := 0; sv < s.meta.SubVectors; sv++ {
		sub := q[sv*s.meta.SubDim : (sv+1)*s.meta.SubDim]
		row := make([]float32, len(s.meta.Centroids[sv]))
		for c, centroid := range s.meta.Centroids[sv] {
			row[c] = RawDistance(sub, centroid, s.distance)
		}
		lut[sv] = row
	}
	s.lutCache.Add(key, lut)
	return lut
}

func queryCacheKey(q []float32) int {
	h := 0
	for _, v := range q {
		h = h*31 + int(math.Float32bits(v))
	}
	return h
}

type productQuery struct {
	lut [][]float32
}

func (s *ProductStore) EncodeQuery(q []float32) (any, error) {
	if len(q) != int(s.header.Dim) {
		return nil, segerrors.Arguments(segerrors.CodeDimensionMismatch, "query dimension does not match quantized store")
	}
	return productQuery{lut: s.lookupTable(q)}, nil
}

func (s *ProductStore) ScorePoint(eq any, i uint32) (float32, error) {
	pq, ok := eq.(productQuery)
	if !ok {
		return 0, segerrors.Arguments(segerrors.CodeInvalidCondition, "encoded query is not a product query")
	}
	if i >= s.header.Count {
		return 0, segerrors.Arguments(segerrors.CodeInvalidOffset, "point offset out of range")
	}
	base := int(i) * s.meta.SubVectors
	var score float32
	for sv := 0; sv < s.meta.SubVectors; sv++ {
		code := s.codes[base+sv]
		score += pq.lut[sv][code]
	}
	return invertIfNeeded(score, s.header.Invert), nil
}

func (s *ProductStore) ScoreInternal(i, j uint32) (float32, error) {
	if i >= s.header.Count || j >= s.header.Count {
		return 0, segerrors.Arguments(segerrors.CodeInvalidOffset, "point offset out of range")
	}
	bi := int(i) * s.meta.SubVectors
	bj := int(j) * s.meta.SubVectors
	var score float32
	for sv := 0; sv < s.meta.SubVectors; sv++ {
		ci := s.codes[bi+sv]
		cj := s.codes[bj+sv]
		score += RawDistance(s.meta.Centroids[sv][ci], s.meta.Centroids[sv][cj], s.distance)
	}
	return invertIfNeeded(score, s.header.Invert), nil
}

func (s *ProductStore) QuantizedVectorSize() int { return s.meta.SubVectors }

func (s *ProductStore) IsOnDisk() bool { return false }

func (s *ProductStore) Save(dir string) error {
	if dir != s.dir {
		return segerrors.Service(segerrors.CodeStorageIO, "product store Save to a different directory is not supported", nil)
	}
	return nil
}

func (s *ProductStore) Files() []string {
	return []string{
		filepath.Join(s.dir, headerFileName),
		filepath.Join(s.dir, productMetaFile),
		filepath.Join(s.dir, productCodesFile),
	}
}

func (s *ProductStore) Close() error { return nil }

// kmeans trains centroidCount centroids over sub-vectors of dimension
// subDim using Lloyd's algorithm with a fixed iteration budget, seeded
// deterministically from the input order rather than randomly so builds
// are reproducible.
func kmeans(vecs [][]float32, centroidCount, subDim int) ([][]float32, []int) {
	if len(vecs) == 0 {
		return [][]float32{make([]float32, subDim)}, nil
	}
	if centroidCount < 1 {
		centroidCount = 1
	}
	centroids := make([][]float32, centroidCount)
	step := len(vecs) / centroidCount
	if step < 1 {
		step = 1
	}
	for c := 0; c < centroidCount; c++ {
		idx := (c * step) % len(vecs)
		cp := make([]float32, subDim)
		copy(cp, vecs[idx])
		centroids[c] = cp
	}

	assignments := make([]int, len(vecs))
	for iter := 0; iter < kmeansIterations; iter++ {
		for i, v := range vecs {
			assignments[i] = nearestCentroid(v, centroids)
		}
		sums := make([][]float32, centroidCount)
		counts := make([]int, centroidCount)
		for c := range sums {
			sums[c] = make([]float32, subDim)
		}
		for i, v := range vecs {
			c := assignments[i]
			counts[c]++
			sums[c] = vek.Add(sums[c], v)
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			scale := float32(1) / float32(counts[c])
			for d := range centroids[c] {
				centroids[c][d] = sums[c][d] * scale
			}
		}
	}
	return centroids, assignments
}

func nearestCentroid(v []float32, centroids [][]float32) int {
	best := 0
	var bestDist float32
	for c, centroid := range centroids {
		diff := vek.Sub(v, centroid)
		sq := vek.Mul(diff, diff)
		d := vek.Sum(sq)
		if c == 0 || d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}
