// Package metrics records per-run Prometheus metrics.
//
// logpull runs are short batches, so metrics are not scraped. Each run
// builds its own registry and exports it once at the end: to a
// node-exporter textfile, to a Pushgateway, or both.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "logpull"

// Trigger outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeDeduped   = "deduped"
	OutcomeEmpty     = "empty"
	OutcomeFailed    = "failed"
	OutcomeDryRun    = "dry_run"
)

// Metrics holds the collectors of one run. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	triggers        *prometheus.CounterVec
	linesScanned    prometheus.Counter
	linesMatched    prometheus.Counter
	markerFallbacks prometheus.Counter
	deliveries      *prometheus.CounterVec
	runDuration     prometheus.Gauge
	lastRun         prometheus.Gauge
}

// New creates a registry labelled with mode ("pull" or "check").
func New(mode string) *Metrics {
	labels := prometheus.Labels{"mode": mode}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "triggers_total",
			Help:        "Triggers handled, by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		linesScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "lines_scanned_total",
			Help:        "Non-empty log lines read.",
			ConstLabels: labels,
		}),
		linesMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "lines_matched_total",
			Help:        "Log lines that passed the filter.",
			ConstLabels: labels,
		}),
		markerFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "marker_fallbacks_total",
			Help:        "Scans whose marker was not found and fell back to a full scan.",
			ConstLabels: labels,
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "deliveries_total",
			Help:        "Delivery attempts, by result.",
			ConstLabels: labels,
		}, []string{"result"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "run_duration_seconds",
			Help:        "Wall time of the last run.",
			ConstLabels: labels,
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "last_run_timestamp_seconds",
			Help:        "Unix time the last run finished.",
			ConstLabels: labels,
		}),
	}
	m.registry.MustRegister(
		m.triggers, m.linesScanned, m.linesMatched, m.markerFallbacks,
		m.deliveries, m.runDuration, m.lastRun,
	)
	// Pre-create label values so exports always carry every series.
	for _, o := range []string{OutcomeDelivered, OutcomeDeduped, OutcomeEmpty, OutcomeFailed, OutcomeDryRun} {
		m.triggers.WithLabelValues(o)
	}
	m.deliveries.WithLabelValues("success")
	m.deliveries.WithLabelValues("failure")
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Trigger counts one trigger outcome.
func (m *Metrics) Trigger(outcome string) {
	if m == nil {
		return
	}
	m.triggers.WithLabelValues(outcome).Inc()
}

// Scanned records the totals of one scan.
func (m *Metrics) Scanned(read, matched int, fallback bool) {
	if m == nil {
		return
	}
	m.linesScanned.Add(float64(read))
	m.linesMatched.Add(float64(matched))
	if fallback {
		m.markerFallbacks.Inc()
	}
}

// Delivery counts one delivery attempt.
func (m *Metrics) Delivery(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.deliveries.WithLabelValues(result).Inc()
}

// Finish records the run duration and completion time.
func (m *Metrics) Finish(d time.Duration, at time.Time) {
	if m == nil {
		return
	}
	m.runDuration.Set(d.Seconds())
	m.lastRun.Set(float64(at.Unix()))
}

// ExportConfig says where Export writes.
type ExportConfig struct {
	// Textfile is a node-exporter textfile collector path (*.prom).
	Textfile       string
	PushgatewayURL string
	Job            string
	// Instance groups pushed metrics.
	Instance string
}

// Export writes the registry to every configured destination. Both are
// attempted even if the first fails.
func (m *Metrics) Export(ctx context.Context, cfg ExportConfig) error {
	if m == nil {
		return nil
	}
	var errs []error
	if cfg.Textfile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Textfile), 0o750); err != nil {
			errs = append(errs, fmt.Errorf("metrics textfile dir: %w", err))
		} else if err := prometheus.WriteToTextfile(cfg.Textfile, m.registry); err != nil {
			errs = append(errs, fmt.Errorf("metrics textfile: %w", err))
		}
	}
	if cfg.PushgatewayURL != "" {
		job := cfg.Job
		if job == "" {
			job = namespace
		}
		p := push.New(cfg.PushgatewayURL, job).Gatherer(m.registry)
		if cfg.Instance != "" {
			p = p.Grouping("instance", cfg.Instance)
		}
		if err := p.PushContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics push: %w", err))
		}
	}
	return errors.Join(errs...)
}
