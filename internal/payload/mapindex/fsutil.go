package mapindex

import (
	"os"
	"path/filepath"
)

func fileExists(dir, name string) (bool, error) {
	_, err := os.Stat(filepath.Join(dir, name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
