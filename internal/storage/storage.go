// Package storage places uploaded files on disk and hands back the local
// path used for parsing and hashing. Raw files are stored as opaque blobs
// under the configured root, keeping the client file name.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Store writes uploads under a single root directory.
type Store struct {
	root string
}

// New creates a Store rooted at dir.
func New(dir string) *Store {
	return &Store{root: dir}
}

// Save persists the upload under the client file name and returns the local
// path. File names with path separators or traversal segments are rejected.
func (s *Store) Save(name string, r io.Reader) (string, error) {
	safe := filepath.Base(name)
	if safe != name || strings.Contains(name, "..") || safe == "." || safe == string(filepath.Separator) {
		return "", fmt.Errorf("invalid file name: %q", name)
	}

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	path := filepath.Join(s.root, safe)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
