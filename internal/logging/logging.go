// Package logging provides structured logging helpers for logpull.
//
// Design principles:
//   - Logging is dependency-injected, never global
//   - Each component scopes its logger once, at construction time, with
//     logger.With("component", "<name>")
//   - If no logger is provided, a discard logger is used
//
// Output format, level and destination are decided only in main() via Setup.
// Components must never call slog.SetDefault.
//
// Logging is intentionally sparse: run, trigger and target boundaries are the
// log points. Nothing logs inside the per-line scan loop.
package logging

import (
	"context"
	"log/slog"
)

// discardHandler is a handler that discards all log records.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Discard returns a logger that discards all output.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// Default returns the provided logger if non-nil, otherwise a discard logger.
//
//	func NewScanner(logger *slog.Logger) *Scanner {
//	    return &Scanner{logger: logging.Default(logger).With("component", "scan")}
//	}
func Default(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Discard()
}
