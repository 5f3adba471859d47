package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestDefault(t *testing.T) {
	if Default(nil).Enabled(context.Background(), slog.LevelError) {
		t.Error("Default(nil) should discard")
	}

	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if Default(l) != l {
		t.Error("Default should pass a non-nil logger through")
	}
}

// recorder counts records that reach the end of the handler chain.
type recorder struct {
	mu *sync.Mutex
	n  *int
}

func newRecorder() recorder {
	var n int
	return recorder{mu: &sync.Mutex{}, n: &n}
}

func (r recorder) Enabled(context.Context, slog.Level) bool { return true }
func (r recorder) Handle(context.Context, slog.Record) error {
	r.mu.Lock()
	*r.n++
	r.mu.Unlock()
	return nil
}
func (r recorder) WithAttrs([]slog.Attr) slog.Handler { return r }
func (r recorder) WithGroup(string) slog.Handler      { return r }
func (r recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.n
}

func TestComponentFilter(t *testing.T) {
	rec := newRecorder()
	filter := NewComponentFilterHandler(rec, slog.LevelInfo)
	logger := slog.New(filter)
	scanLog := logger.With("component", "scan")

	scanLog.Debug("hidden")
	logger.Debug("hidden", "component", "scan")
	if got := rec.count(); got != 0 {
		t.Fatalf("debug passed default INFO filter: %d records", got)
	}

	filter.SetLevel("scan", slog.LevelDebug)
	scanLog.Debug("scoped")
	logger.Debug("attr", "component", "scan")
	logger.Debug("other", "component", "publish")
	if got := rec.count(); got != 2 {
		t.Fatalf("expected 2 records after SetLevel, got %d", got)
	}

	filter.ClearLevel("scan")
	scanLog.Debug("hidden again")
	if got := rec.count(); got != 2 {
		t.Fatalf("expected ClearLevel to restore default, got %d records", got)
	}

	if filter.Level("nothing") != slog.LevelInfo || filter.DefaultLevel() != slog.LevelInfo {
		t.Error("unexpected default level")
	}
}

func TestComponentFilterConcurrent(t *testing.T) {
	rec := newRecorder()
	filter := NewComponentFilterHandler(rec, slog.LevelInfo)
	logger := slog.New(filter).With("component", "orchestrator")

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 50 {
				logger.Info("trigger handled")
			}
		})
		wg.Go(func() {
			for range 50 {
				filter.SetLevel("orchestrator", slog.LevelDebug)
				filter.ClearLevel("orchestrator")
			}
		})
	}
	wg.Wait()

	if got := rec.count(); got != 400 {
		t.Errorf("expected 400 records, got %d", got)
	}
}

func TestSetupFanout(t *testing.T) {
	var stderr bytes.Buffer
	file := filepath.Join(t.TempDir(), "log", "logpull.json")

	logger, cleanup, err := Setup(Options{
		Level:      slog.LevelInfo,
		Components: map[string]slog.Level{"scan": slog.LevelDebug},
		File:       file,
		Quiet:      true,
		Stderr:     &stderr,
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	logger.Info("run started", "component", "orchestrator")
	logger.Debug("marker loaded", "component", "scan")
	logger.Warn("marker not found", "component", "scan")
	if err := cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if strings.Contains(stderr.String(), "run started") {
		t.Error("quiet stderr should not carry INFO")
	}
	if !strings.Contains(stderr.String(), "marker not found") {
		t.Error("quiet stderr should still carry WARN")
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"run started", "marker loaded", "marker not found"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log file missing %q", want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		err  bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"WARNING", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParseLevel(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
