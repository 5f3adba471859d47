package envelope

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"logpull/internal/scan"
	"logpull/internal/trigger"
)

func sample() (trigger.Trigger, []scan.Result) {
	tr := trigger.Trigger{
		DocID:   "abc123",
		Command: "foo",
		PubDate: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	results := []scan.Result{
		{Target: "host1", Lines: []scan.Line{
			{Source: "host1", Text: "abc123 first"},
			{Source: "host1", Text: "abc123 second"},
		}},
		{Target: "host2"},
		{Target: "host3", Lines: []scan.Line{{Source: "host3", Text: "abc123 third"}}},
	}
	return tr, results
}

func TestBuildGroupsBySource(t *testing.T) {
	tr, results := sample()
	at := time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)
	env, err := Builder{Enclave: "prod", Now: func() time.Time { return at }}.Build(tr, results)
	if err != nil {
		t.Fatal(err)
	}
	if env.Total() != 3 {
		t.Errorf("total = %d", env.Total())
	}
	if _, ok := env.Servers["host2"]; ok {
		t.Error("source without matches should be omitted")
	}
	if got := env.Servers["host1"]; len(got) != 2 || got[0] != "abc123 first" {
		t.Errorf("host1 = %v", got)
	}
	if env.PubDate != "2023-01-01" || env.PullDate != "" || !env.AsOf.Equal(at) || env.Enclave != "prod" {
		t.Errorf("envelope = %+v", env)
	}
	if s := env.Sources(); len(s) != 2 || s[0] != "host1" || s[1] != "host3" {
		t.Errorf("sources = %v", s)
	}
}

func TestBuildIsIdempotentExceptAsOf(t *testing.T) {
	tr, results := sample()
	tick := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	b := Builder{Now: func() time.Time { tick = tick.Add(time.Second); return tick }}

	a, err := b.Build(tr, results)
	if err != nil {
		t.Fatal(err)
	}
	c, err := b.Build(tr, results)
	if err != nil {
		t.Fatal(err)
	}
	if a.AsOf.Equal(c.AsOf) {
		t.Error("asOf should differ")
	}
	c.AsOf = a.AsOf
	if !reflect.DeepEqual(a, c) {
		t.Errorf("envelopes differ:\n%+v\n%+v", a, c)
	}
}

func TestBuildEmpty(t *testing.T) {
	tr, _ := sample()
	if _, err := (Builder{}).Build(tr, []scan.Result{{Target: "host1"}}); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
	if _, err := (Builder{}).BuildFlat("disk", scan.Result{Target: "host1"}); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
}

func TestJSONFieldNames(t *testing.T) {
	tr, results := sample()
	pull := time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC)
	tr.PullDate = &pull
	env, err := Builder{Enclave: "lab"}.Build(tr, results)
	if err != nil {
		t.Fatal(err)
	}
	data, err := Encode(JSON, env)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"docid", "command", "pubDate", "pullDate", "enclave", "asOf", "servers"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
	if len(raw) != 7 {
		t.Errorf("unexpected keys in %s", data)
	}
}

func TestMsgPackRoundTrip(t *testing.T) {
	tr, results := sample()
	env, err := Builder{Enclave: "lab"}.Build(tr, results)
	if err != nil {
		t.Fatal(err)
	}
	data, err := Encode(MsgPack, env)
	if err != nil {
		t.Fatal(err)
	}

	var keys map[string]any
	if err := Decode(MsgPack, data, &keys); err != nil {
		t.Fatal(err)
	}
	if _, ok := keys["pubDate"]; !ok {
		t.Errorf("msgpack keys = %v", keys)
	}

	var back Envelope
	if err := Decode(MsgPack, data, &back); err != nil {
		t.Fatal(err)
	}
	if back.DocID != env.DocID || back.Total() != env.Total() || !back.AsOf.Equal(env.AsOf) {
		t.Errorf("decoded = %+v", back)
	}
}

func TestBuildFlat(t *testing.T) {
	f, err := Builder{Enclave: "lab"}.BuildFlat("disk", scan.Result{
		Target: "syslog",
		Lines:  []scan.Line{{Text: "disk full"}, {Text: "disk fuller"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if f.Check != "disk" || f.Source != "syslog" || f.Total() != 2 {
		t.Errorf("flat = %+v", f)
	}
}

func TestParseEncoding(t *testing.T) {
	if e, err := ParseEncoding(""); err != nil || e != JSON {
		t.Errorf("default = %s, %v", e, err)
	}
	if e, _ := ParseEncoding("msgpack"); e.ContentType() != "application/msgpack" {
		t.Errorf("content type = %s", e.ContentType())
	}
	if _, err := ParseEncoding("xml"); err == nil {
		t.Error("expected error")
	}
}
