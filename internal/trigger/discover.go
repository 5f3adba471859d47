package trigger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"logpull/internal/fileset"
)

// DefaultPattern matches trigger artifacts in the trigger directory.
const DefaultPattern = "*.pull"

// DuplicatePolicy decides which artifact wins when several name one docid.
// Artifacts are observed oldest modification time first, then by path.
type DuplicatePolicy string

const (
	// DuplicateFail keeps the last-observed artifact and reports every
	// earlier one as a failure so an operator sees it.
	DuplicateFail DuplicatePolicy = "fail"
	// DuplicateLast keeps the last-observed artifact; earlier ones count as handled.
	DuplicateLast DuplicatePolicy = "last"
	// DuplicateFirst keeps the first-observed artifact; later ones count as handled.
	DuplicateFirst DuplicatePolicy = "first"
)

// ParseDuplicatePolicy validates a policy name. Empty means DuplicateFail.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return DuplicateFail, nil
	case DuplicateFail, DuplicateLast, DuplicateFirst:
		return p, nil
	default:
		return "", fmt.Errorf("unknown duplicate policy %q", s)
	}
}

// Superseded is an artifact that lost a duplicate resolution.
type Superseded struct {
	Trigger
	// Winner is the artifact processed instead.
	Winner string
}

// Malformed is an artifact that could not be parsed.
type Malformed struct {
	Artifact string
	Err      error
}

// Discovery is the result of one discovery pass.
type Discovery struct {
	// Triggers holds one trigger per docid, in order of first observation
	// of that docid.
	Triggers   []Trigger
	Superseded []Superseded
	Malformed  []Malformed
	Policy     DuplicatePolicy
}

// Discoverer finds trigger artifacts in a directory.
type Discoverer struct {
	dir     string
	pattern string
	policy  DuplicatePolicy
	parser  *Parser
}

// NewDiscoverer returns a Discoverer for dir.
func NewDiscoverer(dir, pattern string, policy DuplicatePolicy, parser *Parser) (*Discoverer, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid trigger pattern %q", pattern)
	}
	if policy == "" {
		policy = DuplicateFail
	}
	return &Discoverer{dir: dir, pattern: pattern, policy: policy, parser: parser}, nil
}

// Dir returns the directory being discovered.
func (d *Discoverer) Dir() string { return d.dir }

// Discover reads every matching artifact once. Unreadable or unparsable
// artifacts are reported in Malformed rather than failing the pass.
func (d *Discoverer) Discover() (Discovery, error) {
	out := Discovery{Policy: d.policy}

	paths, err := d.artifacts()
	if err != nil {
		return out, err
	}

	index := make(map[string]int)
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			out.Malformed = append(out.Malformed, Malformed{Artifact: path, Err: err})
			continue
		}
		t, err := d.parser.Parse(data)
		if err != nil {
			out.Malformed = append(out.Malformed, Malformed{Artifact: path, Err: err})
			continue
		}
		t.Artifact = path

		i, dup := index[t.DocID]
		if !dup {
			index[t.DocID] = len(out.Triggers)
			out.Triggers = append(out.Triggers, t)
			continue
		}

		prev := out.Triggers[i]
		if d.policy == DuplicateFirst {
			out.Superseded = append(out.Superseded, Superseded{Trigger: t, Winner: prev.Artifact})
			continue
		}
		out.Superseded = append(out.Superseded, Superseded{Trigger: prev, Winner: t.Artifact})
		out.Triggers[i] = t
	}

	// A loser may itself have been a winner earlier in the pass; point it at
	// the final winner.
	for i := range out.Superseded {
		out.Superseded[i].Winner = out.Triggers[index[out.Superseded[i].DocID]].Artifact
	}
	return out, nil
}

func (d *Discoverer) artifacts() ([]string, error) {
	paths, err := fileset.Glob(filepath.Join(fileset.Escape(d.dir), d.pattern))
	if err != nil {
		return nil, fmt.Errorf("triggers: %w", err)
	}
	return paths, nil
}
