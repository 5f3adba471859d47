// Package fileset expands glob patterns into ordered lists of regular files.
package fileset

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Glob returns the regular files matching any of patterns, oldest
// modification time first and by path on equal times. A file matched by
// several patterns is listed once. Patterns that match nothing, including
// ones under missing directories, contribute nothing.
func Glob(patterns ...string) ([]string, error) {
	type entry struct {
		path  string
		mtime time.Time
	}
	seen := make(map[string]bool)
	var entries []entry
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			m = filepath.Clean(m)
			if seen[m] {
				continue
			}
			info, err := os.Stat(m)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			seen[m] = true
			entries = append(entries, entry{path: m, mtime: info.ModTime()})
		}
	}

	slices.SortFunc(entries, func(a, b entry) int {
		if c := a.mtime.Compare(b.mtime); c != 0 {
			return c
		}
		return strings.Compare(a.path, b.path)
	})

	files := make([]string, len(entries))
	for i, e := range entries {
		files[i] = e.path
	}
	return files, nil
}

// Escape quotes glob metacharacters so s matches only itself.
func Escape(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '{', '}', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
