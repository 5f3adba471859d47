// Package home manages the logpull state directory layout.
//
// The state directory owns everything a run mutates besides the trigger
// directory itself.
//
// Layout:
//
//	<root>/
//	  processed                      (delivered docids, append-only)
//	  instance_id                    (stable identity for metrics grouping)
//	  markers/
//	    <docid>/<source>.marker      (incremental pull resume points)
//	    check/<name>.marker          (check resume points)
//	  locks/
//	    <identity>[-<flavor>].lock   (single-instance run locks)
//	  errors/                        (quarantined trigger artifacts)
package home

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Dir represents a logpull state directory.
type Dir struct {
	root string
}

// New creates a Dir with an explicit root path.
func New(root string) Dir {
	return Dir{root: root}
}

// Root returns the state directory path.
func (d Dir) Root() string {
	return d.root
}

// ProcessedPath returns the processed-set file.
func (d Dir) ProcessedPath() string {
	return filepath.Join(d.root, "processed")
}

// MarkerDir returns the marker store root.
func (d Dir) MarkerDir() string {
	return filepath.Join(d.root, "markers")
}

// ErrorDir returns the default quarantine directory.
func (d Dir) ErrorDir() string {
	return filepath.Join(d.root, "errors")
}

// LockPath returns the lock file for identity, optionally tagged with a
// flavor so differently-flavored runs of one identity do not exclude each
// other.
func (d Dir) LockPath(identity, flavor string) string {
	name := identity
	if flavor != "" {
		name += "-" + flavor
	}
	return filepath.Join(d.root, "locks", name+".lock")
}

// EnsureExists creates the state directory and its subdirectories.
func (d Dir) EnsureExists() error {
	for _, dir := range []string{d.root, d.MarkerDir(), filepath.Join(d.root, "locks")} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create state directory %s: %w", dir, err)
		}
	}
	return nil
}

// InstanceID reads the persistent instance identity from <root>/instance_id.
// If the file doesn't exist, a new UUIDv7 is generated and written.
func (d Dir) InstanceID() (string, error) {
	return d.readOrCreate("instance_id", func() string {
		return uuid.Must(uuid.NewV7()).String()
	})
}

// readOrCreate reads a single-line value from <root>/<filename>.
// If the file doesn't exist, generate() provides the default which is persisted.
func (d Dir) readOrCreate(filename string, generate func() string) (string, error) {
	p := filepath.Join(d.root, filename)
	data, err := os.ReadFile(p) //nolint:gosec // G304: path is the state dir plus a constant filename
	if err == nil {
		if v := strings.TrimSpace(string(data)); v != "" {
			return v, nil
		}
	}
	v := generate()
	if err := os.WriteFile(p, []byte(v+"\n"), 0o640); err != nil { //nolint:gosec // G306: not secret
		return "", fmt.Errorf("write %s: %w", filename, err)
	}
	return v, nil
}
