// Package failure records per-document errors for one run and quarantines
// the artifacts that caused them.
//
// Nothing here is persisted: the quarantine directory is the durable trace
// of a failure, and the operator notification sent at the end of the run is
// the human one.
package failure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"logpull/internal/logging"
	"logpull/internal/notify"
)

// maxArtifactBytes bounds how much of one artifact is copied into a
// notification.
const maxArtifactBytes = 64 << 10

// Entry is one failed key with its joined messages.
type Entry struct {
	Key     string
	Message string
}

// Record is the run-scoped failure map. Keys keep first-failure order.
// It is safe for concurrent use.
type Record struct {
	mu        sync.Mutex
	order     []string
	msgs      map[string][]string
	relocated []string
}

// NewRecord returns an empty Record.
func NewRecord() *Record {
	return &Record{msgs: make(map[string][]string)}
}

// Add records err for key. Repeated failures of one key are joined.
func (r *Record) Add(key string, err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.msgs[key]; !ok {
		r.order = append(r.order, key)
	}
	r.msgs[key] = append(r.msgs[key], err.Error())
}

// Relocated notes a quarantined artifact path.
func (r *Record) Relocated(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.relocated = append(r.relocated, path)
}

// Len returns the number of failed keys.
func (r *Record) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Has reports whether key failed.
func (r *Record) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.msgs[key]
	return ok
}

// Message returns the joined messages for key.
func (r *Record) Message(key string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.msgs[key], "; ")
}

// Entries returns every failure in first-failure order.
func (r *Record) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.order))
	for i, k := range r.order {
		out[i] = Entry{Key: k, Message: strings.Join(r.msgs[k], "; ")}
	}
	return out
}

// RelocatedPaths returns the quarantined artifact paths in order.
func (r *Record) RelocatedPaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.relocated...)
}

// Handler moves failed artifacts into the error directory and reports
// failures to the operator.
type Handler struct {
	errorDir string
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandler returns a Handler quarantining into errorDir.
func NewHandler(errorDir string, logger *slog.Logger) *Handler {
	return &Handler{
		errorDir: errorDir,
		logger:   logging.Default(logger).With("component", "failure"),
		now:      time.Now,
	}
}

// ErrorDir returns the quarantine directory.
func (h *Handler) ErrorDir() string { return h.errorDir }

// Fail records cause for key and, when artifact is set, quarantines it.
// A quarantine failure is recorded against the same key; the artifact is
// then left where it was and never deleted.
func (h *Handler) Fail(rec *Record, key string, cause error, artifact string) {
	rec.Add(key, cause)
	h.logger.Warn("document failed", "key", key, "error", cause)
	if artifact == "" {
		return
	}
	dst, err := h.Quarantine(artifact)
	if err != nil {
		rec.Add(key, err)
		h.logger.Error("quarantine failed", "key", key, "artifact", artifact, "error", err)
		return
	}
	rec.Relocated(dst)
}

// Quarantine moves artifact into the error directory and returns its new
// path. An existing file of the same name is never overwritten.
func (h *Handler) Quarantine(artifact string) (string, error) {
	if err := os.MkdirAll(h.errorDir, 0o750); err != nil {
		return "", fmt.Errorf("create error dir: %w", err)
	}
	dst := filepath.Join(h.errorDir, filepath.Base(artifact))
	if _, err := os.Lstat(dst); err == nil {
		dst = fmt.Sprintf("%s.%s", dst, h.now().UTC().Format("20060102T150405.000000000"))
	}

	err := os.Rename(artifact, dst)
	if errors.Is(err, syscall.EXDEV) {
		err = moveAcrossDevices(artifact, dst)
	}
	if err != nil {
		return "", fmt.Errorf("quarantine %s: %w", artifact, err)
	}
	return dst, nil
}

func moveAcrossDevices(src, dst string) error {
	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	_, cerr := io.Copy(out, in)
	serr := out.Sync()
	clerr := out.Close()
	if err := errors.Join(cerr, serr, clerr); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

// Notify sends one notification bundling every failure message and the
// content of every quarantined artifact. It does nothing when rec is empty.
func (h *Handler) Notify(ctx context.Context, rec *Record, m notify.Mailer, runID string) error {
	entries := rec.Entries()
	if len(entries) == 0 {
		return nil
	}

	m.AddToMessage(fmt.Sprintf("logpull run %s: %d document(s) failed.", runID, len(entries)))
	m.AddToMessage("")
	for _, e := range entries {
		m.AddToMessage(fmt.Sprintf("%s: %s", e.Key, e.Message))
	}

	if paths := rec.RelocatedPaths(); len(paths) > 0 {
		m.AddToMessage("")
		m.AddToMessage(fmt.Sprintf("Quarantined artifacts (%s):", h.errorDir))
		for _, p := range paths {
			m.AddToMessage("")
			m.AddToMessage("--- " + p)
			m.AddToMessage(readArtifact(p))
		}
	}

	if err := m.Send(ctx); err != nil {
		return fmt.Errorf("notify operator: %w", err)
	}
	return nil
}

func readArtifact(path string) string {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Sprintf("(unreadable: %v)", err)
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(io.LimitReader(f, maxArtifactBytes+1))
	if err != nil {
		return fmt.Sprintf("(unreadable: %v)", err)
	}
	if len(data) > maxArtifactBytes {
		return string(data[:maxArtifactBytes]) + "\n(truncated)"
	}
	return strings.TrimRight(string(data), "\n")
}
