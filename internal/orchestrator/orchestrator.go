// Package orchestrator runs one document-pull batch.
//
// A run discovers trigger artifacts, drops docids that were already
// delivered, resolves and scans each document's logs, builds an envelope,
// publishes it, and does the bookkeeping: processed-set append and artifact
// removal on success, quarantine on failure, one operator notification at
// the end.
//
// Concurrency model:
//   - Triggers are independent. Workers > 1 runs them on an errgroup pool;
//     the default is strictly sequential.
//   - Each artifact belongs to exactly one trigger, so artifact removal and
//     quarantine never race. The processed set serializes appends itself.
//   - Workers resolving the same (command, pubdate, mode) share one locator
//     call through a callgroup.
//   - Failure of one trigger never aborts the others. Only discovery errors
//     and context cancellation end a run early.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"logpull/internal/callgroup"
	"logpull/internal/envelope"
	"logpull/internal/failure"
	"logpull/internal/filter"
	"logpull/internal/locate"
	"logpull/internal/logging"
	"logpull/internal/marker"
	"logpull/internal/metrics"
	"logpull/internal/notify"
	"logpull/internal/processed"
	"logpull/internal/publish"
	"logpull/internal/scan"
	"logpull/internal/trigger"
)

// ErrMissingComponent is returned by New when a required collaborator is nil.
var ErrMissingComponent = errors.New("orchestrator: missing component")

// Options wires one Orchestrator. Discoverer, Locator, Scanner, Processed
// and Failures are required; Deliverer is required unless DryRun is set.
type Options struct {
	Discoverer *trigger.Discoverer
	Locator    *locate.Locator
	Scanner    *scan.Scanner
	Processed  *processed.Tracker
	Failures   *failure.Handler
	Deliverer  publish.Deliverer

	// Markers stores incremental resume points. Required when Incremental.
	Markers *marker.Store
	// Mailer receives the end-of-run failure bundle. Nil skips notification.
	Mailer  notify.Mailer
	Metrics *metrics.Metrics
	Builder envelope.Builder

	// Filter applies to every document. Lines must also contain the docid.
	Filter      filter.Config
	Archive     bool
	Incremental bool
	MaxLineSize int

	// Workers bounds parallel triggers. Values below 1 mean 1.
	Workers int
	// DryRun scans and builds but never delivers or mutates state.
	DryRun bool

	Logger *slog.Logger
	Now    func() time.Time
}

// Orchestrator runs pull batches. One Orchestrator may run many times;
// runs must not overlap (the caller holds the instance lock).
type Orchestrator struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	locates callgroup.Group[locateKey, []scan.Target]
}

type locateKey struct {
	command string
	pubDate string
	archive bool
}

// New validates opts and returns an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	var missing []string
	if opts.Discoverer == nil {
		missing = append(missing, "discoverer")
	}
	if opts.Locator == nil {
		missing = append(missing, "locator")
	}
	if opts.Scanner == nil {
		missing = append(missing, "scanner")
	}
	if opts.Processed == nil {
		missing = append(missing, "processed set")
	}
	if opts.Failures == nil {
		missing = append(missing, "failure handler")
	}
	if opts.Deliverer == nil && !opts.DryRun {
		missing = append(missing, "deliverer")
	}
	if opts.Markers == nil && opts.Incremental {
		missing = append(missing, "marker store")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrMissingComponent, missing)
	}
	if _, err := filter.Compile(opts.Filter); err != nil {
		return nil, fmt.Errorf("pull filter: %w", err)
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		opts:   opts,
		logger: logging.Default(opts.Logger).With("component", "orchestrator"),
		now:    now,
	}, nil
}

// Run performs one batch. Per-document failures are reported in the Report
// and do not produce an error; the returned error is reserved for failures
// that stop the run as a whole.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	started := o.now()
	rep := newReport(started, o.opts.DryRun)
	rec := failure.NewRecord()
	logger := o.logger.With("run", rep.RunID, "name", rep.Name)
	logger.Info("run started", "dir", o.opts.Discoverer.Dir(), "workers", o.opts.Workers, "dry_run", o.opts.DryRun)

	disc, err := o.opts.Discoverer.Discover()
	if err != nil {
		return rep, fmt.Errorf("discover triggers: %w", err)
	}
	rep.Discovered = len(disc.Triggers) + len(disc.Superseded) + len(disc.Malformed)

	for _, m := range disc.Malformed {
		o.failMalformed(rec, rep, m)
	}
	for _, s := range disc.Superseded {
		o.resolveDuplicate(rec, rep, disc.Policy, s)
	}

	var g errgroup.Group
	g.SetLimit(o.opts.Workers)
	for _, t := range disc.Triggers {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			o.process(ctx, rec, rep, t)
			return nil
		})
	}
	_ = g.Wait()

	rep.Failures = rec.Entries()
	rep.Finished = o.now()
	o.opts.Metrics.Finish(rep.Finished.Sub(started), rep.Finished)

	for _, f := range rep.Failures {
		logger.Error("document failed", "docid", f.Key, "error", f.Message)
	}
	logger.Info("run finished",
		"discovered", rep.Discovered,
		"delivered", rep.Delivered,
		"deduped", rep.Deduped,
		"empty", rep.Empty,
		"superseded", rep.Superseded,
		"failed", len(rep.Failures),
		"duration", rep.Finished.Sub(started),
	)

	if o.opts.Mailer != nil && !o.opts.DryRun {
		if err := o.opts.Failures.Notify(ctx, rec, o.opts.Mailer, rep.RunID); err != nil {
			logger.Error("failure notification not sent", "error", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return rep, fmt.Errorf("run %s interrupted: %w", rep.RunID, err)
	}
	return rep, nil
}

func (o *Orchestrator) failMalformed(rec *failure.Record, rep *Report, m trigger.Malformed) {
	key := m.Artifact
	rep.add(Document{Artifact: m.Artifact, State: StateQuarantined, Err: m.Err.Error()})
	o.opts.Metrics.Trigger(metrics.OutcomeFailed)
	if o.opts.DryRun {
		rec.Add(key, m.Err)
		return
	}
	o.opts.Failures.Fail(rec, key, m.Err, m.Artifact)
}

func (o *Orchestrator) resolveDuplicate(rec *failure.Record, rep *Report, policy trigger.DuplicatePolicy, s trigger.Superseded) {
	rep.mu.Lock()
	rep.Superseded++
	rep.mu.Unlock()

	if policy == trigger.DuplicateFail {
		err := fmt.Errorf("duplicate trigger for docid %s: superseded by %s", s.DocID, s.Winner)
		rep.add(Document{DocID: s.DocID, Artifact: s.Artifact, State: StateQuarantined, Err: err.Error()})
		o.opts.Metrics.Trigger(metrics.OutcomeFailed)
		if o.opts.DryRun {
			rec.Add(s.DocID, err)
			return
		}
		o.opts.Failures.Fail(rec, s.DocID, err, s.Artifact)
		return
	}

	rep.add(Document{DocID: s.DocID, Artifact: s.Artifact, State: StateSuperseded})
	o.opts.Metrics.Trigger(metrics.OutcomeDeduped)
	if o.opts.DryRun {
		return
	}
	if err := removeArtifact(s.Artifact); err != nil {
		o.opts.Failures.Fail(rec, s.DocID, err, s.Artifact)
	}
}

// locate resolves the targets of t, sharing the work with concurrent
// callers asking for the same logs.
func (o *Orchestrator) locate(ctx context.Context, t trigger.Trigger) ([]scan.Target, error) {
	key := locateKey{command: t.Command, pubDate: t.PubDate.Format(time.DateOnly), archive: o.opts.Archive}
	return o.locates.Do(ctx, key, func() ([]scan.Target, error) {
		return o.opts.Locator.Locate(locate.Request{
			Command: t.Command,
			PubDate: t.PubDate,
			Archive: o.opts.Archive,
		})
	})
}

// Report summarises one run.
type Report struct {
	mu sync.Mutex

	RunID    string
	Name     string
	DryRun   bool
	Started  time.Time
	Finished time.Time

	Discovered int
	Deduped    int
	Delivered  int
	Empty      int
	Superseded int

	Documents []Document
	Failures  []failure.Entry
}

func newReport(started time.Time, dryRun bool) *Report {
	return &Report{
		RunID:   uuid.Must(uuid.NewV7()).String(),
		Name:    petname.Generate(2, "-"),
		DryRun:  dryRun,
		Started: started,
	}
}

func (r *Report) add(d Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Documents = append(r.Documents, d)
	switch d.State {
	case StateDeduped:
		r.Deduped++
	case StateProcessed:
		r.Delivered++
	case StateDiscarded:
		r.Empty++
	}
}

// Failed returns the number of failed keys.
func (r *Report) Failed() int { return len(r.Failures) }

// State is the final state of one trigger in a run.
type State string

const (
	StateDeduped     State = "deduped_out"
	StateProcessed   State = "marked_processed"
	StateDiscarded   State = "discarded_clean"
	StateQuarantined State = "quarantined"
	StateSuperseded  State = "superseded"
	// StateBuilt is the final state of a dry run that found matches.
	StateBuilt State = "built"
)

// Document is the outcome of one trigger artifact.
type Document struct {
	DocID    string
	Artifact string
	State    State
	// Lines is the number of matched lines; Sources the sources they came from.
	Lines   int
	Sources []string
	Err     string
}
