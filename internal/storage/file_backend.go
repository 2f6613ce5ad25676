package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileBackend keeps snapshots as files in one directory.
type FileBackend struct {
	dir string
}

// NewFileBackend creates dir if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, errors.New("storage: directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, NewFileError("mkdir", dir, err)
	}
	return &FileBackend{dir: dir}, nil
}

// Dir returns the snapshot directory.
func (b *FileBackend) Dir() string { return b.dir }

func (b *FileBackend) path(name string) string {
	return filepath.Join(b.dir, name+snapshotExt)
}

// Put writes to a temporary file and renames it into place so readers never see a
// partial snapshot.
func (b *FileBackend) Put(_ context.Context, name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(b.dir, "."+name+".*.tmp")
	if err != nil {
		return NewFileError("create", b.dir, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return NewFileError("write", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return NewFileError("sync", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return NewFileError("close", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), b.path(name)); err != nil {
		return NewFileError("rename", b.path(name), err)
	}
	return nil
}

// Get opens the named snapshot.
func (b *FileBackend) Get(_ context.Context, name string) (io.ReadCloser, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(b.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{Name: name}
	}
	if err != nil {
		return nil, NewFileError("open", b.path(name), err)
	}
	return f, nil
}

// List returns snapshot names in lexical order.
func (b *FileBackend) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, NewFileError("list", b.dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !strings.HasSuffix(e.Name(), snapshotExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), snapshotExt))
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a snapshot. Deleting a missing snapshot reports NotFoundError.
func (b *FileBackend) Delete(_ context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	err := os.Remove(b.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return &NotFoundError{Name: name}
	}
	if err != nil {
		return NewFileError("delete", b.path(name), err)
	}
	return nil
}
