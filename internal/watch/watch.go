// Package watch keeps pull runs going: on a cron schedule, and early when
// new trigger artifacts appear in the trigger directory.
//
// Runs never overlap within the process. Across processes every run takes
// the single-instance lock and is skipped when another holder has it.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"logpull/internal/lock"
	"logpull/internal/logging"
	"logpull/internal/notify"
)

const (
	DefaultSchedule = "*/5 * * * *"
	DefaultDebounce = 2 * time.Second
)

// RunFunc performs one run. reason says what woke it.
type RunFunc func(ctx context.Context, reason string) error

// Options configures a Watcher.
type Options struct {
	// Dir is the trigger directory. Pattern filters its events.
	Dir      string
	Pattern  string
	Schedule string
	Debounce time.Duration
	// LockPath is the single-instance lock taken around every run.
	LockPath string
	Run      RunFunc
	Logger   *slog.Logger
}

// Watcher schedules runs.
type Watcher struct {
	opts   Options
	logger *slog.Logger

	signal  *notify.Signal
	pending atomic.Bool

	mu     sync.Mutex
	reason string
	timer  *time.Timer

	runs    atomic.Int64
	skipped atomic.Int64
}

// New validates opts and returns a Watcher.
func New(opts Options) (*Watcher, error) {
	if opts.Run == nil {
		return nil, errors.New("watch: run function is required")
	}
	if opts.Dir == "" {
		return nil, errors.New("watch: trigger directory is required")
	}
	if opts.Schedule == "" {
		opts.Schedule = DefaultSchedule
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Pattern == "" {
		opts.Pattern = "*"
	}
	if !doublestar.ValidatePattern(opts.Pattern) {
		return nil, fmt.Errorf("watch: invalid pattern %q", opts.Pattern)
	}
	return &Watcher{
		opts:   opts,
		logger: logging.Default(opts.Logger).With("component", "watch"),
		signal: notify.NewSignal(),
	}, nil
}

// Runs returns the number of completed runs.
func (w *Watcher) Runs() int64 { return w.runs.Load() }

// Skipped returns the number of runs skipped on lock contention.
func (w *Watcher) Skipped() int64 { return w.skipped.Load() }

// Start runs once immediately, then on every schedule tick and debounced
// directory change until ctx ends.
func (w *Watcher) Start(ctx context.Context) error {
	sched, err := newScheduler(w.logger)
	if err != nil {
		return err
	}
	if err := sched.AddJob("pull", w.opts.Schedule, func() { w.Wake("schedule") }); err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create directory watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()
	if err := fw.Add(w.opts.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.opts.Dir, err)
	}

	sched.Start()
	defer func() {
		if err := sched.Stop(); err != nil {
			w.logger.Warn("scheduler shutdown", "error", err)
		}
	}()
	w.logger.Info("watching", "dir", w.opts.Dir, "schedule", w.opts.Schedule,
		"debounce", w.opts.Debounce, "next_run", sched.NextRun("pull"))

	go w.watchLoop(ctx, fw)

	w.Wake("start")
	for {
		ch := w.signal.C()
		if !w.pending.Swap(false) {
			select {
			case <-ch:
				w.pending.Store(false)
			case <-ctx.Done():
				w.stopTimer()
				w.logger.Info("watch stopped", "runs", w.Runs(), "skipped", w.Skipped())
				return nil
			}
		}
		w.mu.Lock()
		reason := w.reason
		w.mu.Unlock()
		w.runOnce(ctx, reason)
	}
}

// Wake requests a run as soon as the current one, if any, finishes.
func (w *Watcher) Wake(reason string) {
	w.mu.Lock()
	w.reason = reason
	w.mu.Unlock()
	w.pending.Store(true)
	w.signal.Notify()
}

func (w *Watcher) watchLoop(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if ok, _ := doublestar.Match(w.opts.Pattern, filepath.Base(ev.Name)); !ok {
				continue
			}
			w.logger.Debug("trigger activity", "file", ev.Name, "op", ev.Op.String())
			w.debounce()
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fsnotify error", "error", err)
		}
	}
}

// debounce wakes a run once the directory has been quiet for the debounce
// interval.
func (w *Watcher) debounce() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Reset(w.opts.Debounce)
		return
	}
	w.timer = time.AfterFunc(w.opts.Debounce, func() {
		w.mu.Lock()
		w.timer = nil
		w.mu.Unlock()
		w.Wake("trigger")
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// runOnce performs one locked run. It reports whether the run happened.
func (w *Watcher) runOnce(ctx context.Context, reason string) bool {
	if w.opts.LockPath != "" {
		l, err := lock.Acquire(w.opts.LockPath)
		if errors.Is(err, lock.ErrLocked) {
			w.skipped.Add(1)
			w.logger.Warn("run skipped, lock held", "reason", reason, "lock", w.opts.LockPath)
			return false
		}
		if err != nil {
			w.logger.Error("run skipped", "reason", reason, "error", err)
			return false
		}
		defer func() { _ = l.Release() }()
	}

	start := time.Now()
	err := w.opts.Run(ctx, reason)
	w.runs.Add(1)
	if err != nil && ctx.Err() == nil {
		w.logger.Error("run failed", "reason", reason, "error", err)
		return true
	}
	w.logger.Info("run complete", "reason", reason, "duration", time.Since(start))
	return true
}
