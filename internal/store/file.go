package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// FileBackend stores the snapshot as a JSON file.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend for the file at path. Parent
// directories are created on first write.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Path returns the snapshot file path.
func (f *FileBackend) Path() string {
	return f.path
}

func (f *FileBackend) Read(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, eris.Wrapf(err, "file: read %s", f.path)
	}
	return data, nil
}

// Write writes to a temporary file in the same directory, syncs it, and
// renames it over the snapshot.
func (f *FileBackend) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "file: write")
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "file: create dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return eris.Wrap(err, "file: create temp")
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) } //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		cleanup()
		return eris.Wrap(err, "file: write temp")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		cleanup()
		return eris.Wrap(err, "file: sync temp")
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return eris.Wrap(err, "file: close temp")
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		cleanup()
		return eris.Wrapf(err, "file: rename to %s", f.path)
	}
	return nil
}

func (f *FileBackend) Close() error { return nil }
