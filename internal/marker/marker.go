// Package marker persists scan resume points.
//
// A marker is the literal text of the last line consumed from a scan target,
// stored as the sole content of <dir>/<key>.marker. A missing file means the
// next scan of that target is a full scan.
package marker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const ext = ".marker"

// ErrInvalidKey is returned for keys that would escape the marker directory.
var ErrInvalidKey = errors.New("invalid marker key")

// Store reads and writes markers under one directory.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir. The directory is created lazily.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the file backing key. Keys may contain '/' to group markers.
func (s *Store) Path(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return filepath.Join(s.dir, filepath.FromSlash(key)+ext), nil
}

// Load returns the marker for key. ok is false when no marker exists.
func (s *Store) Load(key string) (value string, ok bool, err error) {
	p, err := s.Path(key)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(filepath.Clean(p))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read marker %s: %w", key, err)
	}
	value = strings.TrimSuffix(string(data), "\n")
	value = strings.TrimSuffix(value, "\r")
	if value == "" {
		return "", false, nil
	}
	return value, true, nil
}

// Save atomically replaces the marker for key.
func (s *Store) Save(key, value string) error {
	p, err := s.Path(key)
	if err != nil {
		return err
	}
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("marker %s: value spans multiple lines", key)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}

	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, []byte(value+"\n"), 0o600); err != nil {
		return fmt.Errorf("write marker %s: %w", key, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename marker %s: %w", key, err)
	}
	return nil
}

// Delete removes the marker for key, forcing the next scan to be full.
// Deleting a missing marker is not an error.
func (s *Store) Delete(key string) error {
	p, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete marker %s: %w", key, err)
	}
	return nil
}
