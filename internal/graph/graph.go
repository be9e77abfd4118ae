// Package graph adapts github.com/coder/hnsw behind the small ANNIndex
// seam the query planner calls through when no filter, or only a
// low-selectivity one, applies (spec §6(b), SPEC_FULL §4.11). Graph
// construction itself is consumed infrastructure, not built here.
package graph

import (
	"sync"

	"github.com/coder/hnsw"

	segerrors "github.com/segmentcore/segmentcore/internal/errors"
)

// Distance selects the graph's similarity function.
type Distance string

const (
	DistanceCosine    Distance = "cosine"
	DistanceEuclidean Distance = "l2"
)

// Config tunes the underlying HNSW graph.
type Config struct {
	Distance Distance
	M        int
	EfSearch int
}

// ANNIndex is the seam Segment.SearchANN searches through.
type ANNIndex interface {
	Search(q []float32, ef int) ([]uint32, error)
	Add(offset uint32, vec []float32) error
	Remove(offset uint32) error
	Len() int
}

// Graph wraps a coder/hnsw graph keyed by point offset, using lazy
// deletion: a removed offset is filtered from results rather than
// deleted from the underlying graph, since deleting the graph's last
// node is known to corrupt the structure (mirrored from the teacher's
// HNSWStore).
type Graph struct {
	mu      sync.RWMutex
	g       *hnsw.Graph[uint64]
	removed map[uint64]struct{}
}

// New builds an empty graph for vectors of the given distance.
func New(cfg Config) (*Graph, error) {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}
	g := hnsw.NewGraph[uint64]()
	switch cfg.Distance {
	case DistanceCosine, "":
		g.Distance = hnsw.CosineDistance
	case DistanceEuclidean:
		g.Distance = hnsw.EuclideanDistance
	default:
		return nil, segerrors.Arguments(segerrors.CodeInvalidConfig, "unknown graph distance")
	}
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return &Graph{g: g, removed: map[uint64]struct{}{}}, nil
}

// Add inserts or replaces the vector for offset.
func (gr *Graph) Add(offset uint32, vec []float32) error {
	gr.mu.Lock()
	defer gr.mu.Unlock()
	key := uint64(offset)
	delete(gr.removed, key)
	gr.g.Add(hnsw.MakeNode(key, vec))
	return nil
}

// Remove lazily deletes offset: later Search calls filter it out.
func (gr *Graph) Remove(offset uint32) error {
	gr.mu.Lock()
	defer gr.mu.Unlock()
	gr.removed[uint64(offset)] = struct{}{}
	return nil
}

// Search returns up to ef approximate nearest-neighbor offsets to q,
// excluding offsets removed since their insertion.
func (gr *Graph) Search(q []float32, ef int) ([]uint32, error) {
	gr.mu.RLock()
	defer gr.mu.RUnlock()
	if gr.g.Len() == 0 {
		return nil, nil
	}
	nodes := gr.g.Search(q, ef)
	out := make([]uint32, 0, len(nodes))
	for _, node := range nodes {
		if _, dead := gr.removed[node.Key]; dead {
			continue
		}
		out = append(out, uint32(node.Key))
	}
	return out, nil
}

func (gr *Graph) Len() int {
	gr.mu.RLock()
	defer gr.mu.RUnlock()
	return gr.g.Len() - len(gr.removed)
}
