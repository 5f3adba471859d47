// Package scan implements the incremental, resumable log scanner.
//
// A scan walks the ordered sources of one Target exactly once. With a marker
// (the literal text of the last line consumed by a previous scan) it resumes
// after the first line equal to the marker. When the marker is nowhere in the
// target, typically after rotation removed it, the scan falls back to every
// line of the target and reports MarkerFallback so callers can surface it.
//
// The scanner has no side effects: persisting the returned marker is the
// caller's decision.
package scan

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"logpull/internal/filter"
	"logpull/internal/logging"
)

const (
	// DefaultMaxLineSize bounds a single line. Longer lines fail the scan.
	DefaultMaxLineSize = 1 << 20

	// ctxCheckEvery is how many lines are read between cancellation checks.
	ctxCheckEvery = 4096
)

// Target is an ordered set of sources belonging to one origin (host).
// Sources are expected oldest first.
type Target struct {
	Name    string
	Sources []string
}

// Options controls one scan.
type Options struct {
	// Filter selects matching lines. Nil accepts every line.
	Filter *filter.Pipeline
	// Marker is the resume line. Empty means no marker.
	Marker string
	// FullScan ignores Marker.
	FullScan bool
	// MaxLineSize overrides DefaultMaxLineSize when positive.
	MaxLineSize int
}

// Line is one matched line.
type Line struct {
	Source string // target name
	File   string // physical source path
	Text   string
}

// Result is the outcome of scanning one target.
type Result struct {
	Target string
	Lines  []Line
	// Marker is the last non-empty line read, or empty if nothing was read.
	Marker string
	// LinesRead counts every non-empty line read, including lines skipped
	// while seeking the marker.
	LinesRead int
	// Skipped counts lines read before the marker was found.
	Skipped        int
	MarkerFound    bool
	MarkerFallback bool
}

// Config configures a Scanner.
type Config struct {
	// Decompressors maps compression schemes that are not decoded in-process
	// to a command reading compressed stdin and writing plain stdout.
	Decompressors map[Compression][]string
	// DecompressTimeout bounds each decompressor subprocess. Zero disables.
	DecompressTimeout time.Duration
	Logger            *slog.Logger
}

// Scanner scans targets. It is safe for concurrent use.
type Scanner struct {
	decompressors map[Compression][]string
	timeout       time.Duration
	logger        *slog.Logger
}

// New creates a Scanner.
func New(cfg Config) *Scanner {
	dec := make(map[Compression][]string, len(cfg.Decompressors))
	for k, v := range cfg.Decompressors {
		dec[k] = append([]string(nil), v...)
	}
	return &Scanner{
		decompressors: dec,
		timeout:       cfg.DecompressTimeout,
		logger:        logging.Default(cfg.Logger).With("component", "scan"),
	}
}

// Scan reads every source of t in order and returns the matched lines.
// Any source that cannot be opened or read fails the whole scan.
func (s *Scanner) Scan(ctx context.Context, t Target, opts Options) (Result, error) {
	res := Result{Target: t.Name}
	if len(t.Sources) == 0 {
		return res, fmt.Errorf("target %s: no sources", t.Name)
	}

	maxLine := opts.MaxLineSize
	if maxLine <= 0 {
		maxLine = DefaultMaxLineSize
	}

	resume := opts.Marker != "" && !opts.FullScan
	// Lines matched before the marker is seen. They are discarded when the
	// marker turns up and become the result when it never does.
	var pending []Line

	for _, path := range t.Sources {
		rc, kind, err := s.open(ctx, path)
		if err != nil {
			return res, fmt.Errorf("target %s: open %s: %w", t.Name, path, err)
		}

		sc := bufio.NewScanner(rc)
		sc.Buffer(make([]byte, 0, min(64*1024, maxLine)), maxLine)

		for sc.Scan() {
			text := strings.TrimSuffix(sc.Text(), "\r")
			if text == "" {
				continue
			}
			res.LinesRead++
			res.Marker = text

			if res.LinesRead%ctxCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					_ = rc.Close()
					return res, err
				}
			}

			if resume && !res.MarkerFound {
				if text == opts.Marker {
					res.MarkerFound = true
					res.Skipped = res.LinesRead
					pending = nil
					continue
				}
				if opts.Filter.Match(text) {
					pending = append(pending, Line{Source: t.Name, File: path, Text: text})
				}
				continue
			}

			if opts.Filter.Match(text) {
				res.Lines = append(res.Lines, Line{Source: t.Name, File: path, Text: text})
			}
		}

		scanErr := sc.Err()
		closeErr := rc.Close()
		if scanErr != nil {
			if errors.Is(scanErr, bufio.ErrTooLong) {
				scanErr = fmt.Errorf("line exceeds %d bytes: %w", maxLine, scanErr)
			}
			return res, fmt.Errorf("target %s: read %s (%s): %w", t.Name, path, kind, scanErr)
		}
		if closeErr != nil {
			return res, fmt.Errorf("target %s: close %s: %w", t.Name, path, closeErr)
		}
	}

	if resume && !res.MarkerFound {
		res.MarkerFallback = true
		res.Skipped = 0
		res.Lines = pending
	}

	s.logger.Debug("target scanned",
		"target", t.Name,
		"sources", len(t.Sources),
		"read", res.LinesRead,
		"matched", len(res.Lines),
		"marker_found", res.MarkerFound,
		"fallback", res.MarkerFallback)
	return res, nil
}
