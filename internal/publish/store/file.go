package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"logpull/internal/config"
	"logpull/internal/publish"
)

func init() {
	publish.RegisterStore("file", func(_ context.Context, cfg config.Store) (publish.Store, error) {
		if cfg.Dir == "" {
			return nil, fmt.Errorf("file store requires dir")
		}
		return NewFileStore(cfg.Dir, cfg.Prefix), nil
	})
}

// FileStore writes each document to its own file under a directory.
type FileStore struct {
	dir    string
	prefix string
}

// NewFileStore returns a FileStore rooted at dir.
func NewFileStore(dir, prefix string) *FileStore {
	return &FileStore{dir: dir, prefix: prefix}
}

// Path returns the file backing key.
func (s *FileStore) Path(key string) (string, error) {
	k := objectKey(s.prefix, key)
	p := filepath.Join(s.dir, filepath.FromSlash(k))
	if k == "" || !strings.HasPrefix(p, filepath.Clean(s.dir)+string(filepath.Separator)) {
		return "", fmt.Errorf("document key %q escapes store", key)
	}
	return p, nil
}

// Insert writes the document through a temporary file and renames it into
// place.
func (s *FileStore) Insert(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(p), ".insert-*")
	if err != nil {
		return fmt.Errorf("create temp document: %w", err)
	}
	tmp := f.Name()
	_, werr := f.Write(value)
	serr := f.Sync()
	cerr := f.Close()
	if err := errors.Join(werr, serr, cerr); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write document %s: %w", key, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename document %s: %w", key, err)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }
