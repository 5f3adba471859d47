package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"logpull/internal/lock"
)

type recorder struct {
	mu      sync.Mutex
	reasons []string
	ch      chan string
}

func newRecorder() *recorder { return &recorder{ch: make(chan string, 16)} }

func (r *recorder) run(_ context.Context, reason string) error {
	r.mu.Lock()
	r.reasons = append(r.reasons, reason)
	r.mu.Unlock()
	r.ch <- reason
	return nil
}

func (r *recorder) wait(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.ch:
		if got != want {
			t.Fatalf("run reason = %q, want %q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no %q run", want)
	}
}

func TestWatcherRunsOnStartAndTriggers(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()
	w, err := New(Options{
		Dir:      dir,
		Pattern:  "*.pull",
		Schedule: "0 0 1 1 *",
		Debounce: 50 * time.Millisecond,
		LockPath: filepath.Join(t.TempDir(), "watch.lock"),
		Run:      rec.run,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Go(func() {
		if err := w.Start(ctx); err != nil {
			t.Error(err)
		}
	})
	defer func() {
		cancel()
		wg.Wait()
	}()

	rec.wait(t, "start")

	// Ignored: wrong pattern.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	// Several writes collapse into one run.
	for _, name := range []string{"a.pull", "b.pull", "c.pull"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("abc123 foo 20230101\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	rec.wait(t, "trigger")

	select {
	case got := <-rec.ch:
		t.Errorf("unexpected extra run %q", got)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherWakeDuringRunIsNotLost(t *testing.T) {
	dir := t.TempDir()
	release := make(chan struct{})
	done := make(chan string, 4)
	w, err := New(Options{
		Dir:      dir,
		Schedule: "0 0 1 1 *",
		Run: func(_ context.Context, reason string) error {
			if reason == "start" {
				<-release
			}
			done <- reason
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Go(func() { _ = w.Start(ctx) })
	defer func() {
		cancel()
		wg.Wait()
	}()

	time.Sleep(50 * time.Millisecond)
	w.Wake("manual")
	close(release)

	for _, want := range []string{"start", "manual"} {
		select {
		case got := <-done:
			if got != want {
				t.Fatalf("got %q, want %q", got, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("no %q run", want)
		}
	}
}

func TestRunOnceSkipsWhenLocked(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "run.lock")
	held, err := lock.Acquire(lockPath)
	if err != nil {
		t.Fatal(err)
	}

	calls := 0
	w, err := New(Options{
		Dir:      t.TempDir(),
		LockPath: lockPath,
		Run:      func(context.Context, string) error { calls++; return nil },
	})
	if err != nil {
		t.Fatal(err)
	}

	if w.runOnce(context.Background(), "test") {
		t.Error("run happened while lock was held")
	}
	if calls != 0 || w.Skipped() != 1 {
		t.Errorf("calls=%d skipped=%d", calls, w.Skipped())
	}

	if err := held.Release(); err != nil {
		t.Fatal(err)
	}
	if !w.runOnce(context.Background(), "test") || calls != 1 {
		t.Error("run did not happen after release")
	}
}

func TestRunOnceLogsErrors(t *testing.T) {
	w, err := New(Options{
		Dir: t.TempDir(),
		Run: func(context.Context, string) error { return errors.New("boom") },
	})
	if err != nil {
		t.Fatal(err)
	}
	if !w.runOnce(context.Background(), "test") || w.Runs() != 1 {
		t.Error("failed run not counted")
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Options{Dir: "x"}); err == nil {
		t.Error("missing run func accepted")
	}
	if _, err := New(Options{Run: func(context.Context, string) error { return nil }}); err == nil {
		t.Error("missing dir accepted")
	}
}

func TestFieldCount(t *testing.T) {
	for expr, want := range map[string]int{
		"*/5 * * * *":   5,
		"0 */5 * * * *":  6,
		"  0  0 1 1 * ":  5,
		"@every 1m":     2,
	} {
		if got := fieldCount(expr); got != want {
			t.Errorf("fieldCount(%q) = %d, want %d", expr, got, want)
		}
	}
}
