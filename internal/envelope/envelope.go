// Package envelope builds delivery payloads from scan results.
//
// Field names are part of the downstream contract and must not change.
// The msgpack encoding reuses the JSON keys.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"logpull/internal/scan"
	"logpull/internal/trigger"
)

// DateLayout renders pubDate and pullDate.
const DateLayout = "2006-01-02"

// ErrEmpty is returned when an envelope would carry no entries.
var ErrEmpty = errors.New("envelope has no entries")

// Envelope is the payload for one docid.
type Envelope struct {
	DocID    string              `json:"docid"`
	Command  string              `json:"command"`
	PubDate  string              `json:"pubDate"`
	PullDate string              `json:"pullDate,omitempty"`
	Enclave  string              `json:"enclave"`
	AsOf     time.Time           `json:"asOf"`
	Servers  map[string][]string `json:"servers"`
}

// Total counts entries across all sources.
func (e *Envelope) Total() int {
	n := 0
	for _, lines := range e.Servers {
		n += len(lines)
	}
	return n
}

// Sources returns the source names in sorted order.
func (e *Envelope) Sources() []string {
	names := make([]string, 0, len(e.Servers))
	for name := range e.Servers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Flat is the single-source payload used by checks.
type Flat struct {
	Check   string    `json:"check"`
	Source  string    `json:"source"`
	Enclave string    `json:"enclave"`
	AsOf    time.Time `json:"asOf"`
	Entries []string  `json:"entries"`
}

// Total counts entries.
func (f *Flat) Total() int { return len(f.Entries) }

// Builder stamps envelopes. The zero value uses time.Now and no enclave.
type Builder struct {
	Enclave string
	Now     func() time.Time
}

func (b Builder) now() time.Time {
	if b.Now != nil {
		return b.Now().UTC()
	}
	return time.Now().UTC()
}

// Build groups the matched lines of results by source. Sources with no
// matches are left out. Trigger metadata is copied as-is.
func (b Builder) Build(t trigger.Trigger, results []scan.Result) (*Envelope, error) {
	servers := make(map[string][]string)
	for _, r := range results {
		for _, l := range r.Lines {
			src := l.Source
			if src == "" {
				src = r.Target
			}
			servers[src] = append(servers[src], l.Text)
		}
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("docid %s: %w", t.DocID, ErrEmpty)
	}

	env := &Envelope{
		DocID:   t.DocID,
		Command: t.Command,
		PubDate: t.PubDate.Format(DateLayout),
		Enclave: b.Enclave,
		AsOf:    b.now(),
		Servers: servers,
	}
	if t.PullDate != nil {
		env.PullDate = t.PullDate.Format(DateLayout)
	}
	return env, nil
}

// BuildFlat wraps the matches of a single check result.
func (b Builder) BuildFlat(check string, r scan.Result) (*Flat, error) {
	if len(r.Lines) == 0 {
		return nil, fmt.Errorf("check %s: %w", check, ErrEmpty)
	}
	entries := make([]string, len(r.Lines))
	for i, l := range r.Lines {
		entries[i] = l.Text
	}
	return &Flat{
		Check:   check,
		Source:  r.Target,
		Enclave: b.Enclave,
		AsOf:    b.now(),
		Entries: entries,
	}, nil
}

// Encoding selects the wire format.
type Encoding string

const (
	JSON    Encoding = "json"
	MsgPack Encoding = "msgpack"
)

// ParseEncoding validates an encoding name. Empty means JSON.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case "", JSON:
		return JSON, nil
	case MsgPack:
		return MsgPack, nil
	default:
		return "", fmt.Errorf("unknown encoding %q", s)
	}
}

// ContentType returns the MIME type for enc.
func (enc Encoding) ContentType() string {
	if enc == MsgPack {
		return "application/msgpack"
	}
	return "application/json"
}

// Encode serializes v (an *Envelope or *Flat) in the given encoding.
func Encode(enc Encoding, v any) ([]byte, error) {
	switch enc {
	case "", JSON:
		return json.Marshal(v)
	case MsgPack:
		var buf bytes.Buffer
		e := msgpack.NewEncoder(&buf)
		e.SetCustomStructTag("json")
		if err := e.Encode(v); err != nil {
			return nil, fmt.Errorf("msgpack: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown encoding %q", enc)
	}
}

// Decode is the inverse of Encode.
func Decode(enc Encoding, data []byte, v any) error {
	switch enc {
	case "", JSON:
		return json.Unmarshal(data, v)
	case MsgPack:
		d := msgpack.NewDecoder(bytes.NewReader(data))
		d.SetCustomStructTag("json")
		return d.Decode(v)
	default:
		return fmt.Errorf("unknown encoding %q", enc)
	}
}
