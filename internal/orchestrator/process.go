package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"

	"logpull/internal/envelope"
	"logpull/internal/failure"
	"logpull/internal/filter"
	"logpull/internal/metrics"
	"logpull/internal/scan"
	"logpull/internal/trigger"
)

// process drives one trigger to a final state.
func (o *Orchestrator) process(ctx context.Context, rec *failure.Record, rep *Report, t trigger.Trigger) {
	logger := o.logger.With("docid", t.DocID, "artifact", t.Artifact)
	doc := Document{DocID: t.DocID, Artifact: t.Artifact}

	fail := func(err error) {
		doc.State = StateQuarantined
		doc.Err = err.Error()
		rep.add(doc)
		o.opts.Metrics.Trigger(metrics.OutcomeFailed)
		if o.opts.DryRun {
			rec.Add(t.DocID, err)
			return
		}
		o.opts.Failures.Fail(rec, t.DocID, err, t.Artifact)
	}

	if o.opts.Processed.Contains(t.DocID) {
		logger.Info("already delivered")
		if !o.opts.DryRun {
			if err := removeArtifact(t.Artifact); err != nil {
				fail(err)
				return
			}
		}
		doc.State = StateDeduped
		rep.add(doc)
		o.opts.Metrics.Trigger(metrics.OutcomeDeduped)
		return
	}

	targets, err := o.locate(ctx, t)
	if err != nil {
		fail(fmt.Errorf("locate logs for %s %s: %w", t.Command, t.PubDate.Format("2006-01-02"), err))
		return
	}

	pipeline, err := filter.Compile(o.opts.Filter.WithRequired(t.DocID))
	if err != nil {
		fail(fmt.Errorf("compile filter: %w", err))
		return
	}

	results, markers, err := o.scanAll(ctx, t, targets, pipeline)
	if err != nil {
		fail(err)
		return
	}

	env, err := o.opts.Builder.Build(t, results)
	if errors.Is(err, envelope.ErrEmpty) {
		logger.Info("no matching lines", "targets", len(targets))
		if !o.opts.DryRun {
			o.saveMarkers(t, markers)
			if err := removeArtifact(t.Artifact); err != nil {
				fail(err)
				return
			}
		}
		doc.State = StateDiscarded
		rep.add(doc)
		o.opts.Metrics.Trigger(metrics.OutcomeEmpty)
		return
	}
	if err != nil {
		fail(fmt.Errorf("build envelope: %w", err))
		return
	}
	doc.Lines = env.Total()
	doc.Sources = env.Sources()

	if o.opts.DryRun {
		logger.Info("dry run: envelope built", "lines", doc.Lines, "sources", doc.Sources)
		doc.State = StateBuilt
		rep.add(doc)
		o.opts.Metrics.Trigger(metrics.OutcomeDryRun)
		return
	}

	err = o.opts.Deliverer.Deliver(ctx, env)
	o.opts.Metrics.Delivery(err)
	if err != nil {
		fail(fmt.Errorf("deliver: %w", err))
		return
	}

	if err := o.opts.Processed.Append(t.DocID); err != nil {
		fail(fmt.Errorf("delivered but not recorded: %w", err))
		return
	}
	o.dropMarkers(t, markers)
	if err := removeArtifact(t.Artifact); err != nil {
		fail(err)
		return
	}

	logger.Info("delivered", "lines", doc.Lines, "sources", len(doc.Sources))
	doc.State = StateProcessed
	rep.add(doc)
	o.opts.Metrics.Trigger(metrics.OutcomeDelivered)
}

// scanAll scans every target of t. Any failing target fails the trigger.
// The returned markers map a marker key to its new value and are only
// populated for incremental pulls.
func (o *Orchestrator) scanAll(ctx context.Context, t trigger.Trigger, targets []scan.Target, p *filter.Pipeline) ([]scan.Result, map[string]string, error) {
	results := make([]scan.Result, 0, len(targets))
	var markers map[string]string
	if o.opts.Incremental {
		markers = make(map[string]string, len(targets))
	}

	for _, target := range targets {
		opts := scan.Options{Filter: p, FullScan: !o.opts.Incremental, MaxLineSize: o.opts.MaxLineSize}
		key := markerKey(t.DocID, target.Name)
		if o.opts.Incremental {
			m, _, err := o.opts.Markers.Load(key)
			if err != nil {
				return nil, nil, fmt.Errorf("load marker %s: %w", key, err)
			}
			opts.Marker = m
		}

		r, err := o.opts.Scanner.Scan(ctx, target, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("scan %s: %w", target.Name, err)
		}
		o.opts.Metrics.Scanned(r.LinesRead, len(r.Lines), r.MarkerFallback)
		if r.MarkerFallback {
			o.logger.Warn("marker not found, scanned from start", "docid", t.DocID, "source", target.Name)
		}
		if o.opts.Incremental && r.Marker != "" {
			markers[key] = r.Marker
		}
		results = append(results, r)
	}
	return results, markers, nil
}

// saveMarkers persists incremental resume points. Failures are logged only.
func (o *Orchestrator) saveMarkers(t trigger.Trigger, markers map[string]string) {
	for key, value := range markers {
		if err := o.opts.Markers.Save(key, value); err != nil {
			o.logger.Warn("marker not saved", "docid", t.DocID, "key", key, "error", err)
		}
	}
}

// dropMarkers removes the resume points of a delivered docid. It is never
// scanned again once in the processed set.
func (o *Orchestrator) dropMarkers(t trigger.Trigger, markers map[string]string) {
	for key := range markers {
		if err := o.opts.Markers.Delete(key); err != nil {
			o.logger.Warn("marker not removed", "docid", t.DocID, "key", key, "error", err)
		}
	}
}

func markerKey(docid, source string) string {
	return docid + "/" + source
}

func removeArtifact(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}
