// Package processed tracks docids whose envelopes have been delivered.
//
// The backing file is a newline-delimited list of docids that only grows.
// A docid is appended after its delivery is confirmed; future runs skip it.
// Duplicates across runs are harmless and are not removed.
package processed

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Tracker is the processed-set registry. It is safe for concurrent use.
type Tracker struct {
	path string

	mu   sync.Mutex
	seen map[string]struct{}
}

// Open loads the registry at path. A missing file is an empty set.
func Open(path string) (*Tracker, error) {
	t := &Tracker{path: path, seen: make(map[string]struct{})}
	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tracker) load() error {
	f, err := os.Open(filepath.Clean(t.path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open processed set: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if id := strings.TrimSpace(sc.Text()); id != "" {
			t.seen[id] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read processed set: %w", err)
	}
	return nil
}

// Contains reports whether docid has already been delivered.
func (t *Tracker) Contains(docid string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.seen[docid]
	return ok
}

// Len returns the number of distinct docids known.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

// Append durably records docids. The data is synced to disk before Append
// returns; only then are the ids visible to Contains.
func (t *Tracker) Append(docids ...string) error {
	var b strings.Builder
	for _, id := range docids {
		if id == "" || strings.ContainsAny(id, "\r\n") {
			return fmt.Errorf("invalid docid %q", id)
		}
		b.WriteString(id)
		b.WriteByte('\n')
	}
	if b.Len() == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(t.path), 0o750); err != nil {
		return fmt.Errorf("create processed set directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Clean(t.path), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open processed set: %w", err)
	}
	_, werr := f.WriteString(b.String())
	serr := f.Sync()
	cerr := f.Close()
	if err := errors.Join(werr, serr, cerr); err != nil {
		return fmt.Errorf("append processed set: %w", err)
	}

	for _, id := range docids {
		t.seen[id] = struct{}{}
	}
	return nil
}
