// Package check runs the configured simple checks: each check scans a set
// of files for new matching lines since its last marker and publishes them
// as one flat envelope.
package check

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/google/uuid"

	"logpull/internal/config"
	"logpull/internal/envelope"
	"logpull/internal/failure"
	"logpull/internal/fileset"
	"logpull/internal/filter"
	"logpull/internal/logging"
	"logpull/internal/marker"
	"logpull/internal/metrics"
	"logpull/internal/notify"
	"logpull/internal/publish"
	"logpull/internal/scan"
)

// ErrNoFiles is recorded for a check whose paths match nothing.
var ErrNoFiles = errors.New("no files match")

// Options wires a Runner.
type Options struct {
	Checks    []config.Check
	Scanner   *scan.Scanner
	Markers   *marker.Store
	Failures  *failure.Handler
	Deliverer publish.FlatDeliverer

	Mailer      notify.Mailer
	Metrics     *metrics.Metrics
	Builder     envelope.Builder
	MaxLineSize int
	DryRun      bool
	Logger      *slog.Logger
	Now         func() time.Time
}

// Runner executes checks sequentially.
type Runner struct {
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
	compiled []*filter.Pipeline
}

// New compiles every check filter and returns a Runner.
func New(opts Options) (*Runner, error) {
	if opts.Scanner == nil || opts.Markers == nil || opts.Failures == nil {
		return nil, errors.New("check: scanner, markers and failure handler are required")
	}
	if opts.Deliverer == nil && !opts.DryRun {
		return nil, errors.New("check: deliverer is required")
	}
	r := &Runner{
		opts:   opts,
		logger: logging.Default(opts.Logger).With("component", "check"),
		now:    opts.Now,
	}
	if r.now == nil {
		r.now = time.Now
	}
	for _, c := range opts.Checks {
		p, err := filter.Compile(c.Pipeline())
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", c.Name, err)
		}
		r.compiled = append(r.compiled, p)
	}
	return r, nil
}

// State is the outcome of one check.
type State string

const (
	StateDelivered State = "delivered"
	StateEmpty     State = "empty"
	StateBuilt     State = "built"
	StateFailed    State = "failed"
)

// Result is the outcome of one check.
type Result struct {
	Name   string
	Files  int
	Read   int
	Lines  int
	State  State
	Marker string
	Err    string
}

// Report summarises one check run.
type Report struct {
	RunID    string
	Name     string
	DryRun   bool
	Started  time.Time
	Finished time.Time
	Results  []Result
	Failures []failure.Entry
}

// Failed returns the number of failed checks.
func (r *Report) Failed() int { return len(r.Failures) }

// Run executes every check. A failing check is recorded and the others
// still run.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	rep := &Report{
		RunID:   uuid.Must(uuid.NewV7()).String(),
		Name:    petname.Generate(2, "-"),
		DryRun:  r.opts.DryRun,
		Started: r.now(),
	}
	rec := failure.NewRecord()
	logger := r.logger.With("run", rep.RunID, "name", rep.Name)
	logger.Info("check run started", "checks", len(r.opts.Checks), "dry_run", r.opts.DryRun)

	for i, c := range r.opts.Checks {
		if ctx.Err() != nil {
			break
		}
		res := r.runOne(ctx, c, r.compiled[i])
		if res.Err != "" {
			rec.Add(c.Name, errors.New(res.Err))
			r.opts.Metrics.Trigger(metrics.OutcomeFailed)
		} else {
			r.opts.Metrics.Trigger(outcome(res.State))
		}
		rep.Results = append(rep.Results, res)
	}

	rep.Failures = rec.Entries()
	rep.Finished = r.now()
	r.opts.Metrics.Finish(rep.Finished.Sub(rep.Started), rep.Finished)
	for _, f := range rep.Failures {
		logger.Error("check failed", "check", f.Key, "error", f.Message)
	}
	logger.Info("check run finished", "checks", len(rep.Results), "failed", len(rep.Failures))

	if r.opts.Mailer != nil && !r.opts.DryRun {
		if err := r.opts.Failures.Notify(ctx, rec, r.opts.Mailer, rep.RunID); err != nil {
			logger.Error("failure notification not sent", "error", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return rep, fmt.Errorf("check run %s interrupted: %w", rep.RunID, err)
	}
	return rep, nil
}

func (r *Runner) runOne(ctx context.Context, c config.Check, p *filter.Pipeline) Result {
	res := Result{Name: c.Name}
	failed := func(err error) Result {
		res.State = StateFailed
		res.Err = err.Error()
		return res
	}

	files, err := Files(c.Paths)
	if err != nil {
		return failed(err)
	}
	if len(files) == 0 {
		return failed(fmt.Errorf("%w %v", ErrNoFiles, c.Paths))
	}
	res.Files = len(files)

	key := MarkerKey(c.Name)
	opts := scan.Options{Filter: p, FullScan: c.FullScan, MaxLineSize: r.opts.MaxLineSize}
	if !c.FullScan {
		m, _, err := r.opts.Markers.Load(key)
		if err != nil {
			return failed(err)
		}
		opts.Marker = m
	}

	sr, err := r.opts.Scanner.Scan(ctx, scan.Target{Name: c.Name, Sources: files}, opts)
	if err != nil {
		return failed(fmt.Errorf("scan: %w", err))
	}
	r.opts.Metrics.Scanned(sr.LinesRead, len(sr.Lines), sr.MarkerFallback)
	if sr.MarkerFallback {
		r.logger.Warn("marker not found, scanned from start", "check", c.Name)
	}
	res.Read = sr.LinesRead
	res.Lines = len(sr.Lines)
	res.Marker = sr.Marker

	if len(sr.Lines) == 0 {
		res.State = StateEmpty
	} else {
		flat, err := r.opts.Builder.BuildFlat(c.Name, sr)
		if err != nil {
			return failed(err)
		}
		if r.opts.DryRun {
			res.State = StateBuilt
			return res
		}
		err = r.opts.Deliverer.DeliverFlat(ctx, flat)
		r.opts.Metrics.Delivery(err)
		if err != nil {
			return failed(err)
		}
		res.State = StateDelivered
	}

	if r.opts.DryRun || c.NoUpdateMarker || sr.Marker == "" {
		return res
	}
	if err := r.opts.Markers.Save(key, sr.Marker); err != nil {
		return failed(fmt.Errorf("save marker: %w", err))
	}
	r.logger.Debug("check done", "check", c.Name, "state", res.State, "lines", res.Lines)
	return res
}

// MarkerKey returns the marker key of the named check.
func MarkerKey(name string) string { return "check/" + name }

// Files expands the glob patterns into regular files ordered by
// modification time, oldest first. A file matched by several patterns is
// listed once.
func Files(patterns []string) ([]string, error) {
	return fileset.Glob(patterns...)
}

func outcome(s State) string {
	switch s {
	case StateDelivered:
		return metrics.OutcomeDelivered
	case StateBuilt:
		return metrics.OutcomeDryRun
	default:
		return metrics.OutcomeEmpty
	}
}
