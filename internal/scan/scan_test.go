package scan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"logpull/internal/filter"
)

func writeLines(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func writeGzip(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(strings.Join(lines, "\n") + "\n")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, buf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func writeZstd(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	data := enc.EncodeAll([]byte(strings.Join(lines, "\n")+"\n"), nil)
	_ = enc.Close()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func numbered(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i+1)
	}
	return lines
}

func texts(lines []Line) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Text
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestResumeAfterMarker(t *testing.T) {
	dir := t.TempDir()
	src := writeLines(t, dir, "app.log", numbered(10)...)
	s := New(Config{})

	for k := 1; k <= 10; k++ {
		res, err := s.Scan(context.Background(), Target{Name: "host1", Sources: []string{src}},
			Options{Marker: fmt.Sprintf("line %d", k)})
		if err != nil {
			t.Fatal(err)
		}
		want := numbered(10)[k:]
		if !equal(texts(res.Lines), want) {
			t.Errorf("marker=line %d: got %v want %v", k, texts(res.Lines), want)
		}
		if !res.MarkerFound || res.MarkerFallback {
			t.Errorf("marker=line %d: found=%v fallback=%v", k, res.MarkerFound, res.MarkerFallback)
		}
		if res.Marker != "line 10" {
			t.Errorf("new marker = %q, want last line", res.Marker)
		}
		if res.Skipped != k || res.LinesRead != 10 {
			t.Errorf("skipped=%d read=%d", res.Skipped, res.LinesRead)
		}
	}
}

func TestResumeAcrossSources(t *testing.T) {
	dir := t.TempDir()
	old := writeGzip(t, dir, "app.log.2.gz", "a1", "a2", "a3")
	mid := writeZstd(t, dir, "app.log.1.zst", "b1", "b2")
	cur := writeLines(t, dir, "app.log", "c1")

	res, err := New(Config{}).Scan(context.Background(),
		Target{Name: "host1", Sources: []string{old, mid, cur}},
		Options{Marker: "a2"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a3", "b1", "b2", "c1"}
	if !equal(texts(res.Lines), want) {
		t.Errorf("got %v want %v", texts(res.Lines), want)
	}
	if res.Lines[1].File != mid {
		t.Errorf("line file = %s, want %s", res.Lines[1].File, mid)
	}
}

func TestMarkerNotFoundFallsBack(t *testing.T) {
	dir := t.TempDir()
	src := writeLines(t, dir, "app.log", "x1", "x2", "x3")

	res, err := New(Config{}).Scan(context.Background(), Target{Name: "h", Sources: []string{src}},
		Options{Marker: "rotated away"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.MarkerFallback || res.MarkerFound {
		t.Errorf("expected fallback, found=%v fallback=%v", res.MarkerFound, res.MarkerFallback)
	}
	if !equal(texts(res.Lines), []string{"x1", "x2", "x3"}) {
		t.Errorf("fallback should return every line, got %v", texts(res.Lines))
	}
}

func TestFullScanIgnoresMarker(t *testing.T) {
	dir := t.TempDir()
	src := writeLines(t, dir, "app.log", "x1", "x2")

	res, err := New(Config{}).Scan(context.Background(), Target{Name: "h", Sources: []string{src}},
		Options{Marker: "x1", FullScan: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Lines) != 2 || res.MarkerFallback || res.MarkerFound {
		t.Errorf("full scan: lines=%v fallback=%v found=%v", texts(res.Lines), res.MarkerFallback, res.MarkerFound)
	}
}

func TestFilterAppliedAndMarkerTracksUnmatched(t *testing.T) {
	dir := t.TempDir()
	src := writeLines(t, dir, "app.log",
		"GET /doc/abc123 200",
		"",
		"GET /healthcheck abc123 200\r",
		"GET /doc/other 200")

	p, err := filter.Compile(filter.Config{Keywords: []string{"abc123"}, Ignore: []string{"healthcheck"}})
	if err != nil {
		t.Fatal(err)
	}
	res, err := New(Config{}).Scan(context.Background(), Target{Name: "h", Sources: []string{src}}, Options{Filter: p})
	if err != nil {
		t.Fatal(err)
	}
	if !equal(texts(res.Lines), []string{"GET /doc/abc123 200"}) {
		t.Errorf("got %v", texts(res.Lines))
	}
	if res.Marker != "GET /doc/other 200" {
		t.Errorf("marker should be last line read regardless of filter, got %q", res.Marker)
	}
	if res.LinesRead != 3 {
		t.Errorf("empty lines should not count, read=%d", res.LinesRead)
	}
}

func TestEmptySourceYieldsNoMarker(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "empty.log")
	if err := os.WriteFile(p, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	res, err := New(Config{}).Scan(context.Background(), Target{Name: "h", Sources: []string{p}}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Marker != "" || len(res.Lines) != 0 {
		t.Errorf("empty source: marker=%q lines=%d", res.Marker, len(res.Lines))
	}
}

func TestMissingSourceIsFatal(t *testing.T) {
	dir := t.TempDir()
	ok := writeLines(t, dir, "app.log", "x")
	s := New(Config{})

	for _, sources := range [][]string{
		{filepath.Join(dir, "gone.log"), ok},
		{ok, filepath.Join(dir, "gone.log")},
	} {
		if _, err := s.Scan(context.Background(), Target{Name: "h", Sources: sources}, Options{}); err == nil {
			t.Errorf("sources %v: expected error", sources)
		}
	}

	if _, err := s.Scan(context.Background(), Target{Name: "h"}, Options{}); err == nil {
		t.Error("target without sources should fail")
	}
}

func TestUnsupportedCompression(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "app.log.bz2")
	if err := os.WriteFile(p, []byte("BZh91AY&SY..."), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := New(Config{}).Scan(context.Background(), Target{Name: "h", Sources: []string{p}}, Options{})
	if !errors.Is(err, ErrUnsupportedCompression) {
		t.Errorf("expected ErrUnsupportedCompression, got %v", err)
	}
}

func TestExternalDecompressor(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "app.log.bz2")
	if err := os.WriteFile(p, []byte("BZh header\npayload abc123\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	s := New(Config{Decompressors: map[Compression][]string{Bzip2: {"cat"}}})
	res, err := s.Scan(context.Background(), Target{Name: "h", Sources: []string{p}}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !equal(texts(res.Lines), []string{"BZh header", "payload abc123"}) {
		t.Errorf("got %v", texts(res.Lines))
	}

	failing := New(Config{Decompressors: map[Compression][]string{Bzip2: {"false"}}})
	if _, err := failing.Scan(context.Background(), Target{Name: "h", Sources: []string{p}}, Options{}); err == nil {
		t.Error("failing decompressor should fail the scan")
	}
}

func TestLineTooLong(t *testing.T) {
	dir := t.TempDir()
	src := writeLines(t, dir, "app.log", strings.Repeat("x", 200))
	_, err := New(Config{}).Scan(context.Background(), Target{Name: "h", Sources: []string{src}},
		Options{MaxLineSize: 64})
	if err == nil {
		t.Error("expected error for oversized line")
	}
}

func TestDetect(t *testing.T) {
	tests := map[string]Compression{
		"\x1f\x8b\x08":       Gzip,
		"\x28\xb5\x2f\xfd":   Zstd,
		"BZh9":               Bzip2,
		"\xfd7zXZ\x00":       XZ,
		"PK\x03\x04":         Zip,
		"2023-01-01 host1 x": None,
		"":                   None,
	}
	for head, want := range tests {
		if got := Detect([]byte(head)); got != want {
			t.Errorf("Detect(%q) = %s, want %s", head, got, want)
		}
	}
}
