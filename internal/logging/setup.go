package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// Options configures the process logger built by Setup.
type Options struct {
	Level      slog.Level
	Components map[string]slog.Level
	// File, if set, receives a JSON copy of every record that passes the
	// component filter.
	File string
	// Quiet raises the stderr threshold to WARN. The log file is unaffected.
	Quiet  bool
	Stderr io.Writer
}

// Setup builds the base logger: text on stderr, optionally fanned out to a
// JSON file. The returned cleanup closes the file.
func Setup(opts Options) (*slog.Logger, func() error, error) {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	stderrLevel := slog.LevelDebug
	if opts.Quiet {
		stderrLevel = slog.LevelWarn
	}
	var handler slog.Handler = slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: stderrLevel})

	cleanup := func() error { return nil }
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o750); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(filepath.Clean(opts.File), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})
		handler = slogmulti.Fanout(handler, fileHandler)
		cleanup = f.Close
	}

	filter := NewComponentFilterHandler(handler, opts.Level)
	for component, level := range opts.Components {
		filter.SetLevel(component, level)
	}
	return slog.New(filter), cleanup, nil
}

// ParseLevel maps a level name to a slog.Level. Unknown names yield an error.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "", "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
