// Package trigger discovers and parses pull trigger artifacts.
//
// An artifact is a small file in the trigger directory naming one document
// to search for. Two encodings are accepted:
//
//	tokens:  abc123 foo 20230101 [20230105]
//	json:    {"docid": "abc123", "command": "foo", "pubdate": "20230101"}
//
// JSON fields are selected with JSONPath expressions so producers with a
// different record shape need no code change.
package trigger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/theory/jsonpath"
)

// Format selects how artifact content is decoded.
type Format string

const (
	FormatAuto   Format = "auto"
	FormatTokens Format = "tokens"
	FormatJSON   Format = "json"
)

// DefaultDateLayout is the Go layout of pubdate and pulldate values.
const DefaultDateLayout = "20060102"

// ErrMalformed is returned for artifacts that do not decode to a Trigger.
var ErrMalformed = errors.New("malformed trigger")

// Trigger is one pending unit of work.
type Trigger struct {
	DocID    string
	Command  string
	PubDate  time.Time
	PullDate *time.Time

	// Artifact is the file the trigger was read from.
	Artifact string
}

// Fields holds the JSONPath expressions used for JSON artifacts.
type Fields struct {
	DocID    string
	Command  string
	PubDate  string
	PullDate string
}

// DefaultFields selects top-level keys.
func DefaultFields() Fields {
	return Fields{
		DocID:    "$.docid",
		Command:  "$.command",
		PubDate:  "$.pubdate",
		PullDate: "$.pulldate",
	}
}

// Parser decodes artifact content.
type Parser struct {
	format     Format
	dateLayout string
	docid      *jsonpath.Path
	command    *jsonpath.Path
	pubdate    *jsonpath.Path
	pulldate   *jsonpath.Path
}

// NewParser compiles the field expressions. Empty values take defaults.
func NewParser(format Format, dateLayout string, fields Fields) (*Parser, error) {
	switch format {
	case "":
		format = FormatAuto
	case FormatAuto, FormatTokens, FormatJSON:
	default:
		return nil, fmt.Errorf("unknown trigger format %q", format)
	}
	if dateLayout == "" {
		dateLayout = DefaultDateLayout
	}

	def := DefaultFields()
	p := &Parser{format: format, dateLayout: dateLayout}
	for _, f := range []struct {
		expr, fallback string
		dst            **jsonpath.Path
	}{
		{fields.DocID, def.DocID, &p.docid},
		{fields.Command, def.Command, &p.command},
		{fields.PubDate, def.PubDate, &p.pubdate},
		{fields.PullDate, def.PullDate, &p.pulldate},
	} {
		expr := f.expr
		if expr == "" {
			expr = f.fallback
		}
		path, err := jsonpath.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("trigger field path %q: %w", expr, err)
		}
		*f.dst = path
	}
	return p, nil
}

// Parse decodes one artifact's content.
func (p *Parser) Parse(data []byte) (Trigger, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Trigger{}, fmt.Errorf("%w: empty artifact", ErrMalformed)
	}

	format := p.format
	if format == FormatAuto {
		format = FormatTokens
		if trimmed[0] == '{' {
			format = FormatJSON
		}
	}

	var docid, command, pub, pull string
	if format == FormatJSON {
		var doc any
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return Trigger{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		var err error
		if docid, err = selectOne(p.docid, doc, true); err != nil {
			return Trigger{}, err
		}
		if command, err = selectOne(p.command, doc, true); err != nil {
			return Trigger{}, err
		}
		if pub, err = selectOne(p.pubdate, doc, true); err != nil {
			return Trigger{}, err
		}
		if pull, err = selectOne(p.pulldate, doc, false); err != nil {
			return Trigger{}, err
		}
	} else {
		tokens := strings.Fields(string(trimmed))
		if len(tokens) < 3 || len(tokens) > 4 {
			return Trigger{}, fmt.Errorf("%w: expected 3 or 4 tokens, got %d", ErrMalformed, len(tokens))
		}
		docid, command, pub = tokens[0], tokens[1], tokens[2]
		if len(tokens) == 4 {
			pull = tokens[3]
		}
	}

	return p.build(docid, command, pub, pull)
}

func (p *Parser) build(docid, command, pub, pull string) (Trigger, error) {
	if err := validateID("docid", docid); err != nil {
		return Trigger{}, err
	}
	if err := validateID("command", command); err != nil {
		return Trigger{}, err
	}
	if strings.ContainsAny(command, `*?[]{}\`) {
		return Trigger{}, fmt.Errorf("%w: command %q contains glob characters", ErrMalformed, command)
	}

	t := Trigger{DocID: docid, Command: command}
	var err error
	if t.PubDate, err = time.Parse(p.dateLayout, pub); err != nil {
		return Trigger{}, fmt.Errorf("%w: pubdate %q: %v", ErrMalformed, pub, err)
	}
	if pull != "" {
		d, err := time.Parse(p.dateLayout, pull)
		if err != nil {
			return Trigger{}, fmt.Errorf("%w: pulldate %q: %v", ErrMalformed, pull, err)
		}
		t.PullDate = &d
	}
	return t, nil
}

func validateID(field, v string) error {
	if v == "" {
		return fmt.Errorf("%w: missing %s", ErrMalformed, field)
	}
	if strings.ContainsAny(v, " \t\r\n/") || v == "." || v == ".." {
		return fmt.Errorf("%w: %s %q contains whitespace or path separators", ErrMalformed, field, v)
	}
	return nil
}

// selectOne returns the single scalar selected by path.
func selectOne(path *jsonpath.Path, doc any, required bool) (string, error) {
	nodes := path.Select(doc)
	switch len(nodes) {
	case 0:
		if required {
			return "", fmt.Errorf("%w: %s selects nothing", ErrMalformed, path)
		}
		return "", nil
	case 1:
	default:
		return "", fmt.Errorf("%w: %s selects %d values", ErrMalformed, path, len(nodes))
	}

	switch v := nodes[0].(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	case nil:
		if required {
			return "", fmt.Errorf("%w: %s is null", ErrMalformed, path)
		}
		return "", nil
	default:
		return "", fmt.Errorf("%w: %s is not a scalar", ErrMalformed, path)
	}
}
