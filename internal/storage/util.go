package storage

import (
	"os"
	"path/filepath"
)

// EnsureParentDir creates the directory holding a file-backed store.
func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
