// Package quantized implements the quantized vector store contract
// (spec §4.3): scalar int8, binary 1/1.5/2-bit, and product (k-means)
// quantization, each exposing encode_query/score_point/score_internal
// over a persisted, self-describing on-disk format.
package quantized

import (
	"github.com/segmentcore/segmentcore/internal/config"
)

// Method identifies a quantization scheme, persisted as a one-byte tag
// in the storage file header.
type Method uint8

const (
	MethodScalar Method = iota + 1
	MethodBinary
	MethodProduct
)

// Config enumerates the parameters a quantization build needs, mirroring
// internal/config.QuantizationConfig plus the vector distance and
// whether the store should invert scores (so that "larger is better").
type Config struct {
	Kind     config.QuantizationKind
	Distance string
	Invert   bool
	AlwaysRAM bool

	ScalarQuantile float64

	BinaryEncoding config.BinaryEncoding

	ProductSubVectors int
	ProductCentroids  int
}

// FromStorageConfig builds a quantized Config from the schema's
// quantization and distance settings.
func FromStorageConfig(qc config.QuantizationConfig, distance string) Config {
	return Config{
		Kind:              qc.Kind,
		Distance:          distance,
		AlwaysRAM:         qc.AlwaysRam,
		ScalarQuantile:    qc.ScalarQuantile,
		BinaryEncoding:    qc.BinaryEncoding,
		ProductSubVectors: qc.ProductSubVectors,
		ProductCentroids:  qc.ProductCentroids,
	}
}

const defaultScalarQuantile = 0.99

const magic = "SQVS"
const formatVersion = uint32(1)
