// Package locate resolves which physical log files may hold activity for a
// command.
//
// Live mode globs one flat directory. Archive mode rebuilds the month
// partitions between a publish date and yesterday:
//
//	<archive_dir>/<dir(command)>/<month>/<pattern>
//
// where dir(command) applies the alias table and <month> is formatted with
// the partition layout. Matches are grouped into scan targets by source name.
package locate

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"logpull/internal/fileset"
	"logpull/internal/scan"
)

const (
	DefaultPattern         = "{command}_{logtype}_*"
	DefaultSourceRegex     = "^{command}_{logtype}_(?P<source>[^.]+)"
	DefaultPartitionLayout = "2006-01"
	DefaultLogType         = "app"
)

// ErrNoLogs is returned when a request resolves to no readable files.
var ErrNoLogs = errors.New("no candidate log files")

// Config configures a Locator.
type Config struct {
	LiveDir    string
	ArchiveDir string
	// Pattern is a glob template over {command} and {logtype}.
	Pattern string
	LogType string
	// SourceRegex is a regexp template over {command} and {logtype} applied
	// to file base names. The group named "source", else the first group,
	// names the target.
	SourceRegex     string
	PartitionLayout string
	// Aliases maps a command to its archive directory name.
	Aliases map[string]string
	Now     func() time.Time
}

// Request identifies the logs to resolve.
type Request struct {
	Command string
	PubDate time.Time
	Archive bool
}

// Locator resolves requests to scan targets.
type Locator struct {
	cfg Config
}

// New validates cfg and returns a Locator.
func New(cfg Config) (*Locator, error) {
	if cfg.Pattern == "" {
		cfg.Pattern = DefaultPattern
	}
	if cfg.LogType == "" {
		cfg.LogType = DefaultLogType
	}
	if cfg.SourceRegex == "" {
		cfg.SourceRegex = DefaultSourceRegex
	}
	if cfg.PartitionLayout == "" {
		cfg.PartitionLayout = DefaultPartitionLayout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if !doublestar.ValidatePattern(expand(cfg.Pattern, "x", cfg.LogType, fileset.Escape)) {
		return nil, fmt.Errorf("invalid log pattern %q", cfg.Pattern)
	}
	if _, err := regexp.Compile(expand(cfg.SourceRegex, "x", cfg.LogType, regexp.QuoteMeta)); err != nil {
		return nil, fmt.Errorf("invalid source regex %q: %w", cfg.SourceRegex, err)
	}
	return &Locator{cfg: cfg}, nil
}

// Locate resolves req to targets, one per source, each with its files in
// traversal order. ErrNoLogs is returned when nothing matched.
func (l *Locator) Locate(req Request) ([]scan.Target, error) {
	files, err := l.Files(req)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w for command %s", ErrNoLogs, req.Command)
	}
	return l.group(req.Command, files)
}

// Files returns the ordered candidate files for req.
func (l *Locator) Files(req Request) ([]string, error) {
	if !req.Archive {
		if l.cfg.LiveDir == "" {
			return nil, errors.New("live log directory not configured")
		}
		return l.glob(l.cfg.LiveDir, req.Command)
	}

	if l.cfg.ArchiveDir == "" {
		return nil, errors.New("archive log directory not configured")
	}
	var all []string
	for _, dir := range l.Partitions(req.Command, req.PubDate) {
		files, err := l.glob(dir, req.Command)
		if err != nil {
			return nil, err
		}
		all = append(all, files...)
	}
	return all, nil
}

// Partitions returns the archive partition directories for command from the
// month of pub through the month containing yesterday, oldest first.
func (l *Locator) Partitions(command string, pub time.Time) []string {
	base := filepath.Join(l.cfg.ArchiveDir, l.DirName(command))
	yesterday := l.cfg.Now().AddDate(0, 0, -1)
	months := Months(pub, yesterday)

	dirs := make([]string, len(months))
	for i, m := range months {
		dirs[i] = filepath.Join(base, m.Format(l.cfg.PartitionLayout))
	}
	return dirs
}

// DirName maps a command to its archive directory name.
func (l *Locator) DirName(command string) string {
	if d, ok := l.cfg.Aliases[command]; ok && d != "" {
		return d
	}
	return command
}

// Months returns the first day of every month from from's month through
// to's month inclusive, in to's location. Each month is taken in its own
// time's location: a date-only pubdate keeps its calendar month whatever
// the clock's zone. It is empty if from's month is after to's.
func Months(from, to time.Time) []time.Time {
	loc := to.Location()
	cur := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, loc)
	end := time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, loc)

	var months []time.Time
	for !cur.After(end) {
		months = append(months, cur)
		cur = cur.AddDate(0, 1, 0)
	}
	return months
}

// glob returns regular files in dir matching the pattern for command,
// oldest modification time first. A missing directory yields nothing.
func (l *Locator) glob(dir, command string) ([]string, error) {
	pattern := filepath.Join(fileset.Escape(dir), expand(l.cfg.Pattern, command, l.cfg.LogType, fileset.Escape))
	return fileset.Glob(pattern)
}

// group splits ordered files into targets by source name, keeping the
// order of first appearance and each target's file order.
func (l *Locator) group(command string, files []string) ([]scan.Target, error) {
	re, err := regexp.Compile(expand(l.cfg.SourceRegex, command, l.cfg.LogType, regexp.QuoteMeta))
	if err != nil {
		return nil, fmt.Errorf("source regex: %w", err)
	}

	index := make(map[string]int)
	var targets []scan.Target
	for _, f := range files {
		name := SourceName(re, filepath.Base(f))
		i, ok := index[name]
		if !ok {
			i = len(targets)
			index[name] = i
			targets = append(targets, scan.Target{Name: name})
		}
		targets[i].Sources = append(targets[i].Sources, f)
	}
	return targets, nil
}

// SourceName extracts the source name from a file base name. Without a
// regex match it falls back to the base name up to the first dot.
func SourceName(re *regexp.Regexp, base string) string {
	if re != nil {
		if m := re.FindStringSubmatch(base); m != nil {
			if i := re.SubexpIndex("source"); i > 0 && m[i] != "" {
				return m[i]
			}
			if len(m) > 1 && m[1] != "" {
				return m[1]
			}
		}
	}
	if i := strings.IndexByte(base, '.'); i > 0 {
		return base[:i]
	}
	return base
}

func expand(tmpl, command, logType string, quote func(string) string) string {
	r := strings.NewReplacer("{command}", quote(command), "{logtype}", quote(logType))
	return r.Replace(tmpl)
}
