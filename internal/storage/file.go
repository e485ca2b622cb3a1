// Package storage provides slot-addressed durable byte storage. A slot
// is a short name holding one opaque record; callers own their record
// layouts. Two backends exist: one file per slot for simple
// deployments, and a SQLite table for nodes that already carry a
// database. Both report a missing slot as ok == false, not an error.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps one file per slot under a root directory. Slashes in
// slot names become subdirectories.
type FileStore struct {
	root string
}

// NewFileStore returns a store rooted at dir. The directory is created
// lazily on first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: dir}
}

func (f *FileStore) path(slot string) string {
	return filepath.Join(f.root, filepath.FromSlash(slot))
}

// Read returns the bytes stored in slot, or ok == false when the slot
// has never been written.
func (f *FileStore) Read(slot string) ([]byte, bool, error) {
	data, err := os.ReadFile(f.path(slot))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read slot %s: %w", slot, err)
	}
	return data, true, nil
}

// Write stores data in slot, replacing any previous record.
func (f *FileStore) Write(slot string, data []byte) error {
	path := f.path(slot)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create slot directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write slot %s: %w", slot, err)
	}
	return nil
}
