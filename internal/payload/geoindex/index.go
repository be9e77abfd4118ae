// Package geoindex implements the geo field index (spec §4.10): points
// are bucketed by a fixed-precision geohash prefix, reusing the map
// index's posting-list machinery with value = prefix. Bounding-box
// queries resolve exactly from the covered buckets; radius queries use
// the bucket set as a coarse prefilter and a haversine residual check
// for the circle's true boundary.
package geoindex

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/blevesearch/geo"
	jsoniter "github.com/json-iterator/go"

	segerrors "github.com/segmentcore/segmentcore/internal/errors"
	"github.com/segmentcore/segmentcore/internal/payload/indexapi"
	"github.com/segmentcore/segmentcore/internal/payload/mapindex"
)

const defaultPrecision = 7

const pointsFileName = "points.json"

// Index is the geo field index.
type Index struct {
	mu sync.RWMutex

	dir        string
	precision  int
	buckets    *mapindex.Index
	points     map[uint32]point
	pointsPath string
}

type point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Open opens or creates a geo index under dir. precision <= 0 uses the
// spec-default geohash length of 7 characters.
func Open(dir string, precision int, createIfMissing bool) (*Index, bool, error) {
	if precision <= 0 {
		precision = defaultPrecision
	}
	buckets, loaded, err := mapindex.Open(filepath.Join(dir, "buckets"), mapindex.BackendKV, createIfMissing)
	if err != nil {
		return nil, false, err
	}
	ix := &Index{
		dir:        dir,
		precision:  precision,
		buckets:    buckets,
		points:     map[uint32]point{},
		pointsPath: filepath.Join(dir, pointsFileName),
	}
	if loaded {
		if err := ix.loadPoints(); err != nil {
			return nil, false, err
		}
	}
	return ix, loaded, nil
}

func (ix *Index) loadPoints() error {
	data, err := os.ReadFile(ix.pointsPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return segerrors.Service(segerrors.CodeStorageIO, "read geo index points file", err)
	}
	if err := jsoniter.Unmarshal(data, &ix.points); err != nil {
		return segerrors.Service(segerrors.CodeStorageCorrupt, "decode geo index points file", err)
	}
	return nil
}

func (ix *Index) savePoints() error {
	data, err := jsoniter.Marshal(ix.points)
	if err != nil {
		return segerrors.Service(segerrors.CodeStorageIO, "encode geo index points file", err)
	}
	if err := os.MkdirAll(ix.dir, 0o755); err != nil {
		return segerrors.Service(segerrors.CodeStorageIO, "create geo index dir", err)
	}
	if err := os.WriteFile(ix.pointsPath, data, 0o644); err != nil {
		return segerrors.Service(segerrors.CodeStorageIO, "write geo index points file", err)
	}
	return nil
}

// Add indexes offset at (lat, lon), replacing any prior location.
func (ix *Index) Add(offset uint32, lat, lon float64) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	prefix := encode(lat, lon, ix.precision)
	if err := ix.buckets.AddManyToMap(offset, []any{prefix}); err != nil {
		return err
	}
	ix.points[offset] = point{Lat: lat, Lon: lon}
	return ix.savePoints()
}

func (ix *Index) Remove(offset uint32) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.buckets.RemovePoint(offset); err != nil {
		return err
	}
	delete(ix.points, offset)
	return ix.savePoints()
}

// Filter implements indexapi.FieldIndex for geo conditions.
func (ix *Index) Filter(cond indexapi.Condition) (indexapi.OffsetIterator, error) {
	if cond.Kind != indexapi.ConditionGeo {
		return nil, segerrors.Arguments(segerrors.CodeInvalidCondition, "geo index only filters geo conditions")
	}
	candidates, err := ix.bucketCandidates(cond)
	if err != nil {
		return nil, err
	}
	if cond.GeoRadiusMeters <= 0 {
		return indexapi.NewSliceIterator(candidates.ToArray()), nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var matched []uint32
	it := candidates.Iterator()
	for it.HasNext() {
		offset := it.Next()
		p, ok := ix.points[offset]
		if !ok {
			continue
		}
		if haversineMeters(cond.GeoLat, cond.GeoLon, p.Lat, p.Lon) <= cond.GeoRadiusMeters {
			matched = append(matched, offset)
		}
	}
	return indexapi.NewSliceIterator(matched), nil
}

// EstimateCardinality is exact for a bounding box (the union of covered
// buckets is the exact answer since buckets are aligned to the box edges
// at prefix granularity) and approximate for a radius query, since the
// bucket prefilter over-counts near the circle's corners.
func (ix *Index) EstimateCardinality(cond indexapi.Condition) (indexapi.Cardinality, error) {
	if cond.Kind != indexapi.ConditionGeo {
		return indexapi.Cardinality{}, segerrors.Arguments(segerrors.CodeInvalidCondition, "geo index only estimates geo conditions")
	}
	candidates, err := ix.bucketCandidates(cond)
	if err != nil {
		return indexapi.Cardinality{}, err
	}
	count := candidates.GetCardinality()
	if cond.GeoRadiusMeters <= 0 {
		return indexapi.Cardinality{Min: count, Exp: count, Max: count}, nil
	}
	// radius queries straddling a bucket boundary cannot be bounded
	// exactly from bucket membership alone (spec §4.10).
	return indexapi.Cardinality{Min: 0, Exp: count / 2, Max: count}, nil
}

func (ix *Index) bucketCandidates(cond indexapi.Condition) (*roaring.Bitmap, error) {
	minLat, minLon, maxLat, maxLon := cond.GeoBoxMinLat, cond.GeoBoxMinLon, cond.GeoBoxMaxLat, cond.GeoBoxMaxLon
	if cond.GeoRadiusMeters > 0 {
		var err error
		minLon, minLat, maxLon, maxLat, err = geo.RectFromPointDistance(cond.GeoLon, cond.GeoLat, cond.GeoRadiusMeters/1000)
		if err != nil {
			return nil, segerrors.Arguments(segerrors.CodeInvalidCondition, "invalid geo radius condition")
		}
	}

	result := roaring.New()
	for _, prefix := range coveringPrefixes(minLat, minLon, maxLat, maxLon, ix.precision) {
		it, err := ix.buckets.GetIterator(prefix)
		if err != nil {
			return nil, err
		}
		for {
			offset, ok := it.Next()
			if !ok {
				break
			}
			result.Add(offset)
		}
	}
	return result, nil
}

// haversineMeters reports the great-circle distance between two
// lat/lon pairs in meters, via blevesearch/geo's haversine in km.
func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	return geo.Haversin(lon1, lat1, lon2, lat2) * 1000
}

func (ix *Index) IndexedPoints() uint64 { return ix.buckets.IndexedPoints() }

func (ix *Index) Files() []string {
	files := ix.buckets.Files()
	return append(files, ix.pointsPath)
}

func (ix *Index) Flush() error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if err := ix.savePoints(); err != nil {
		return err
	}
	return ix.buckets.Flush()
}

func (ix *Index) Close() error { return ix.buckets.Close() }
