package quantized

import (
	"fmt"

	segerrors "github.com/segmentcore/segmentcore/internal/errors"
	"github.com/segmentcore/segmentcore/internal/vectorstore"
)

// Store is the quantized vector store contract (spec §4.3).
type Store interface {
	// EncodeQuery prepares a raw query vector for scoring; the result is
	// method-specific and only meaningful passed back into ScorePoint.
	EncodeQuery(q []float32) (any, error)

	// ScorePoint scores an encoded query against stored point i. The
	// result is monotone with the true distance under the store's
	// configured metric; inverted when Invert is set, so larger is
	// always better.
	ScorePoint(eq any, i uint32) (float32, error)

	// ScoreInternal scores two stored points against each other.
	ScoreInternal(i, j uint32) (float32, error)

	// QuantizedVectorSize returns the per-vector encoded size in bytes.
	QuantizedVectorSize() int

	// IsOnDisk reports whether the store keeps its codes memory-mapped
	// rather than resident; the AlwaysRAM setting is not consulted.
	IsOnDisk() bool

	// Save persists the store under dir (header.bin plus the method's
	// codes and meta files).
	Save(dir string) error

	// Files lists the store's backing files for relocation.
	Files() []string

	// Close releases any mapped resources.
	Close() error
}

// Build constructs a quantized store over every live vector in src,
// polling stopped (if non-nil) between points.
func Build(src vectorstore.VectorSource, dir string, cfg Config, stopped func() bool) (Store, error) {
	switch cfg.Kind {
	case "", "none":
		return nil, segerrors.Arguments(segerrors.CodeInvalidConfig, "quantization.kind must not be none to build a store")
	case "scalar":
		return buildScalar(src, dir, cfg, stopped)
	case "binary":
		return buildBinary(src, dir, cfg, stopped)
	case "product":
		return buildProduct(src, dir, cfg, stopped)
	default:
		return nil, segerrors.Arguments(segerrors.CodeInvalidConfig, fmt.Sprintf("unknown quantization kind %q", cfg.Kind))
	}
}

// Load opens a previously saved store, dispatching on the persisted
// method tag. Dim and distance come from the persisted header; Load takes
// no caller-supplied vector parameters and does not check any.
func Load(dir string) (Store, error) {
	method, err := peekMethod(dir)
	if err != nil {
		return nil, err
	}
	switch method {
	case MethodScalar:
		return loadScalar(dir)
	case MethodBinary:
		return loadBinary(dir)
	case MethodProduct:
		return loadProduct(dir)
	default:
		return nil, segerrors.Service(segerrors.CodeStorageCorrupt, fmt.Sprintf("unknown quantization method tag %d", method), nil)
	}
}

func liveVectors(src vectorstore.VectorSource, stopped func() bool) ([]uint32, [][]float32, error) {
	n := src.Len()
	ids := make([]uint32, 0, n)
	vecs := make([][]float32, 0, n)
	for i := uint32(0); i < n; i++ {
		if stopped != nil && stopped() {
			return nil, nil, segerrors.Cancelled()
		}
		if src.IsDeleted(i) {
			continue
		}
		v, err := src.Get(i)
		if err != nil {
			return nil, nil, err
		}
		cp := make([]float32, len(v))
		copy(cp, v)
		ids = append(ids, i)
		vecs = append(vecs, cp)
	}
	return ids, vecs, nil
}
