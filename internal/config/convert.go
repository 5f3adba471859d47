package config

import (
	"fmt"
	"strings"

	"logpull/internal/filter"
	"logpull/internal/locate"
	"logpull/internal/scan"
	"logpull/internal/trigger"
)

// Pipeline returns the filter description of f.
func (f Filter) Pipeline() filter.Config {
	return filter.Config{
		Keywords:   f.Keywords,
		Mode:       filter.Mode(f.Mode),
		Ignore:     f.Ignore,
		IgnoreMode: filter.IgnoreMode(f.IgnoreMode),
		Regex:      f.Regex,
	}
}

// ScanConfig returns the scanner configuration.
func (l Logs) ScanConfig() (scan.Config, error) {
	dec := make(map[scan.Compression][]string, len(l.Decompressors))
	for name, argv := range l.Decompressors {
		c, err := scan.ParseCompression(name)
		if err != nil {
			return scan.Config{}, fmt.Errorf("%w: logs.decompressors: %w", ErrInvalid, err)
		}
		dec[c] = argv
	}
	return scan.Config{Decompressors: dec, DecompressTimeout: l.DecompressTimeout}, nil
}

// LocateConfig returns the locator configuration.
func (l Logs) LocateConfig() locate.Config {
	return locate.Config{
		LiveDir:         l.LiveDir,
		ArchiveDir:      l.ArchiveDir,
		Pattern:         l.Pattern,
		LogType:         l.LogType,
		SourceRegex:     l.SourceRegex,
		PartitionLayout: l.PartitionLayout,
		Aliases:         l.Aliases,
	}
}

// Parser builds the artifact parser.
func (t Triggers) Parser() (*trigger.Parser, error) {
	return trigger.NewParser(trigger.Format(strings.ToLower(t.Format)), t.DateLayout, trigger.Fields{
		DocID:    t.Fields.DocID,
		Command:  t.Fields.Command,
		PubDate:  t.Fields.PubDate,
		PullDate: t.Fields.PullDate,
	})
}

// Discoverer builds the artifact discoverer.
func (t Triggers) Discoverer() (*trigger.Discoverer, error) {
	p, err := t.Parser()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	policy, err := trigger.ParseDuplicatePolicy(t.Duplicates)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	d, err := trigger.NewDiscoverer(t.Dir, t.Pattern, policy, p)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return d, nil
}
