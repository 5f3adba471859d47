// Package filter decides which log lines survive a scan.
//
// A line passes a Pipeline when it clears four independent stages, in order:
//
//  1. ignore-list: no entry matches (case-insensitive substring, or whole-line
//     equality in exact mode)
//  2. required terms: every term is contained (case-insensitive)
//  3. keywords: the AND/OR predicate holds (case-insensitive)
//  4. regex allow-list: at least one pattern matches
//
// An unconfigured stage never rejects. A compiled Pipeline has no mutable
// state and is safe for concurrent use.
package filter

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Mode combines keyword matches.
type Mode string

const (
	// ModeOR accepts a line containing at least one keyword.
	ModeOR Mode = "OR"
	// ModeAND accepts a line containing every keyword.
	ModeAND Mode = "AND"
)

// IgnoreMode selects how ignore-list entries are compared to a line.
type IgnoreMode string

const (
	// IgnoreSubstring rejects lines containing an entry.
	IgnoreSubstring IgnoreMode = "substring"
	// IgnoreExact rejects lines equal to an entry after trimming whitespace.
	IgnoreExact IgnoreMode = "exact"
)

// ErrInvalidMode is returned for an unknown keyword or ignore mode.
var ErrInvalidMode = errors.New("invalid filter mode")

// Config is the uncompiled filter description, as it appears in configuration.
type Config struct {
	// Require lists terms every line must contain, whatever Mode says.
	Require    []string
	Keywords   []string
	Mode       Mode
	Ignore     []string
	IgnoreMode IgnoreMode
	Regex      []string
}

// Pipeline is a compiled Config.
type Pipeline struct {
	require    []string
	keywords   []string
	and        bool
	ignore     []string
	ignoreFull bool
	regex      []*regexp.Regexp
}

// ParseMode normalizes a keyword mode name. Empty means OR.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(s))) {
	case "", ModeOR:
		return ModeOR, nil
	case ModeAND:
		return ModeAND, nil
	default:
		return "", fmt.Errorf("%w: keyword mode %q", ErrInvalidMode, s)
	}
}

// Compile validates cfg and prepares it for matching. Empty keyword and
// ignore entries are dropped.
func Compile(cfg Config) (*Pipeline, error) {
	mode, err := ParseMode(string(cfg.Mode))
	if err != nil {
		return nil, err
	}

	p := &Pipeline{and: mode == ModeAND}

	switch IgnoreMode(strings.ToLower(string(cfg.IgnoreMode))) {
	case "", IgnoreSubstring:
	case IgnoreExact:
		p.ignoreFull = true
	default:
		return nil, fmt.Errorf("%w: ignore mode %q", ErrInvalidMode, cfg.IgnoreMode)
	}

	p.require = lowerNonEmpty(cfg.Require)
	p.keywords = lowerNonEmpty(cfg.Keywords)
	p.ignore = lowerNonEmpty(cfg.Ignore)
	if p.ignoreFull {
		for i, s := range p.ignore {
			p.ignore[i] = strings.TrimSpace(s)
		}
	}

	for _, expr := range cfg.Regex {
		if expr == "" {
			continue
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile regex %q: %w", expr, err)
		}
		p.regex = append(p.regex, re)
	}
	return p, nil
}

// Match reports whether line survives every configured stage.
func (p *Pipeline) Match(line string) bool {
	if p == nil {
		return true
	}
	if len(p.ignore) == 0 && len(p.require) == 0 && len(p.keywords) == 0 && len(p.regex) == 0 {
		return true
	}

	lower := strings.ToLower(line)
	if p.ignored(lower) {
		return false
	}
	for _, r := range p.require {
		if !strings.Contains(lower, r) {
			return false
		}
	}
	if !p.keywordsHold(lower) {
		return false
	}
	return p.allowed(line)
}

func (p *Pipeline) ignored(lower string) bool {
	if p.ignoreFull {
		trimmed := strings.TrimSpace(lower)
		for _, s := range p.ignore {
			if trimmed == s {
				return true
			}
		}
		return false
	}
	for _, s := range p.ignore {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func (p *Pipeline) keywordsHold(lower string) bool {
	if len(p.keywords) == 0 {
		return true
	}
	for _, k := range p.keywords {
		found := strings.Contains(lower, k)
		if p.and && !found {
			return false
		}
		if !p.and && found {
			return true
		}
	}
	return p.and
}

func (p *Pipeline) allowed(line string) bool {
	if len(p.regex) == 0 {
		return true
	}
	for _, re := range p.regex {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// WithRequired returns a copy of cfg that also requires terms.
func (c Config) WithRequired(terms ...string) Config {
	c.Require = append(slices.Clone(c.Require), terms...)
	return c
}

func lowerNonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s == "" {
			continue
		}
		out = append(out, strings.ToLower(s))
	}
	return out
}
