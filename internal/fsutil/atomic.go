// Package fsutil writes files through a temporary sibling that is renamed
// over the final path, so readers never see a partial file.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// AtomicFile is a temporary file that replaces path on Commit.
type AtomicFile struct {
	*os.File
	path string
}

// Create opens a temporary file next to path. The directory must exist.
func Create(path string) (*AtomicFile, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &AtomicFile{File: tmp, path: path}, nil
}

// Path is the final name the file takes on Commit.
func (f *AtomicFile) Path() string {
	return f.path
}

// Commit syncs the temporary file and renames it over the final path. The
// temporary file is removed on any failure.
func (f *AtomicFile) Commit() error {
	if err := f.Sync(); err != nil {
		f.Discard()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(f.Name(), f.path); err != nil {
		_ = os.Remove(f.Name())
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Discard closes and removes an uncommitted file.
func (f *AtomicFile) Discard() {
	_ = f.Close()
	_ = os.Remove(f.Name())
}

// WriteFile replaces path with data.
func WriteFile(path string, data []byte) error {
	f, err := Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Discard()
		return fmt.Errorf("write temp file: %w", err)
	}
	return f.Commit()
}
