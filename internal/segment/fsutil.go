package segment

import (
	"os"

	segerrors "github.com/segmentcore/segmentcore/internal/errors"
)

func readFileIfExists(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "read "+path, err)
	}
	return data, nil
}
