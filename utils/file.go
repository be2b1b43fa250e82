package utils

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// DirStore writes objects below a local directory. Used for archives when no
// bucket is configured.
type DirStore struct {
	root string
}

// NewDirStore creates root if it doesn't exist.
func NewDirStore(root string) (*DirStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &DirStore{root: root}, nil
}

// Put saves body at root/key, creating parent directories.
func (d *DirStore) Put(_ context.Context, key string, body []byte, _ string) error {
	dest := d.Path(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, body, 0o644)
}

// Path returns the file path of key. Keys cannot escape root.
func (d *DirStore) Path(key string) string {
	clean := filepath.Clean("/" + strings.TrimPrefix(filepath.ToSlash(key), "/"))
	return filepath.Join(d.root, filepath.FromSlash(clean))
}
