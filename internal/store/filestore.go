package store

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/heysubinoy/filekv/pkg/kv"
)

const (
	recordsDir = "records"
	tmpDir     = "tmp"

	// maxFileName is the common NAME_MAX of Linux filesystems.
	maxFileName = 255
)

// FileStore keeps one file per key under <dir>/records. Writes go to a
// temporary file in <dir>/tmp first and are renamed over the record, so a
// reader sees either the old or the new value, never a mix.
type FileStore struct {
	dir    string
	closed atomic.Bool
}

// Compile-time check to ensure FileStore implements kv.Store.
var _ kv.Store = (*FileStore)(nil)

// NewFileStore creates the directory layout under dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	for _, sub := range []string{recordsDir, tmpDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, errors.Wrapf(err, "create %s directory", sub)
		}
	}
	// Leftovers of writes interrupted by a crash.
	if err := clearDir(filepath.Join(dir, tmpDir)); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

// fileName maps a key onto a file name inside the records directory.
// Path separators, '%', NUL and other unsafe bytes are percent-encoded, so
// distinct keys never collide and no key can leave the directory.
func fileName(key string) (string, error) {
	if key == "" || key == "." || key == ".." {
		return "", kv.ErrInvalidKey
	}
	name := url.PathEscape(key)
	if len(name) > maxFileName {
		return "", errors.Wrapf(kv.ErrInvalidKey, "escaped key longer than %d bytes", maxFileName)
	}
	return name, nil
}

func (s *FileStore) recordPath(op, key string) (string, error) {
	if s.closed.Load() {
		return "", kv.NewStorageError(op, key, kv.ReasonClosed, kv.ErrClosed)
	}
	name, err := fileName(key)
	if err != nil {
		return "", kv.NewStorageError(op, key, kv.ReasonInvalidKey, err)
	}
	return filepath.Join(s.dir, recordsDir, name), nil
}

// Put writes value to a temp file, syncs it and renames it over the record.
func (s *FileStore) Put(_ context.Context, key string, value []byte) error {
	path, err := s.recordPath("put", key)
	if err != nil {
		return err
	}

	f, err := os.CreateTemp(filepath.Join(s.dir, tmpDir), "put-*")
	if err != nil {
		return kv.NewStorageError("put", key, kv.ReasonOpenFailed, err)
	}
	tmp := f.Name()

	if err := writeAndSync(f, value); err != nil {
		os.Remove(tmp)
		return kv.NewStorageError("put", key, kv.ReasonWriteFailed, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return kv.NewStorageError("put", key, kv.ReasonWriteFailed, err)
	}
	if err := syncDir(filepath.Dir(path)); err != nil {
		return kv.NewStorageError("put", key, kv.ReasonWriteFailed, err)
	}
	return nil
}

// Get reads the whole record.
func (s *FileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	path, err := s.recordPath("get", key)
	if err != nil {
		return nil, false, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, kv.NewStorageError("get", key, kv.ReasonReadFailed, err)
	}
	return data, true, nil
}

// Delete removes the record. A missing record is not an error.
func (s *FileStore) Delete(_ context.Context, key string) error {
	path, err := s.recordPath("delete", key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return kv.NewStorageError("delete", key, kv.ReasonDeleteFailed, err)
	}
	return nil
}

// Close marks the store closed. Records stay on disk.
func (s *FileStore) Close() error {
	s.closed.Store(true)
	return nil
}

func writeAndSync(f *os.File, value []byte) error {
	if _, err := f.Write(value); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrap(err, "read temp directory")
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return errors.Wrap(err, "clear temp directory")
		}
	}
	return nil
}
