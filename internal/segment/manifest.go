package segment

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/google/renameio"

	"github.com/segmentcore/segmentcore/internal/config"
	segerrors "github.com/segmentcore/segmentcore/internal/errors"
)

const manifestFileName = "segment.json"

// manifest enumerates open indices and their kinds (spec §6).
type manifest struct {
	Version    int                 `json:"version"`
	VectorDim  int                 `json:"vector_dim"`
	Distance   string              `json:"distance"`
	Fields     []config.FieldSchema `json:"fields"`
	PointCount uint64              `json:"point_count"`
}

func readManifest(path string) (manifest, bool, error) {
	var m manifest
	data, err := readFileIfExists(path)
	if err != nil {
		return m, false, err
	}
	if data == nil {
		return m, false, nil
	}
	if err := jsoniter.Unmarshal(data, &m); err != nil {
		return m, false, segerrors.Service(segerrors.CodeStorageCorrupt, "decode segment.json", err)
	}
	return m, true, nil
}

// writeManifest crash-safely replaces segment.json via rename-into-place.
func writeManifest(path string, m manifest) error {
	data, err := jsoniter.Marshal(m)
	if err != nil {
		return segerrors.Service(segerrors.CodeStorageIO, "encode segment.json", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return segerrors.Service(segerrors.CodeStorageIO, "write segment.json", err)
	}
	return nil
}
