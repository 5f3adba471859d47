package locate

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"
)

func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func fixedNow(s string) func() time.Time {
	ts, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return ts }
}

func TestMonths(t *testing.T) {
	from := time.Date(2023, 1, 17, 0, 0, 0, 0, time.UTC)
	to := time.Date(2023, 3, 2, 0, 0, 0, 0, time.UTC)
	got := Months(from, to)
	if len(got) != 3 {
		t.Fatalf("expected 3 months, got %v", got)
	}
	for i, want := range []time.Month{time.January, time.February, time.March} {
		if got[i].Month() != want || got[i].Day() != 1 {
			t.Errorf("month %d = %v", i, got[i])
		}
	}

	if got := Months(to, from); len(got) != 0 {
		t.Errorf("reversed range should be empty, got %v", got)
	}

	// Across a year boundary, starting on the 31st.
	got = Months(time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC), time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC))
	if len(got) != 3 || got[2].Year() != 2023 || got[2].Month() != time.February {
		t.Errorf("year boundary: %v", got)
	}
}

func TestPartitionsStopAtYesterday(t *testing.T) {
	l, err := New(Config{ArchiveDir: "/archive", Now: fixedNow("2023-03-01")})
	if err != nil {
		t.Fatal(err)
	}
	pub := time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC)
	got := l.Partitions("foo", pub)
	want := []string{"/archive/foo/2023-01", "/archive/foo/2023-02"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("partition %d = %s, want %s", i, got[i], want[i])
		}
	}

	if got := l.Partitions("foo", time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)); len(got) != 0 {
		t.Errorf("future pubdate should give no partitions, got %v", got)
	}
}

func TestPartitionsClockWestOfUTC(t *testing.T) {
	newYork := time.FixedZone("EST", -5*60*60)
	now := time.Date(2023, 5, 20, 12, 0, 0, 0, newYork)
	l, err := New(Config{ArchiveDir: "/archive", Now: func() time.Time { return now }})
	if err != nil {
		t.Fatal(err)
	}
	// Parsed dates are UTC midnight, which is still the previous day in EST.
	pub, err := time.Parse("20060102", "20230301")
	if err != nil {
		t.Fatal(err)
	}
	got := l.Partitions("foo", pub)
	want := []string{"/archive/foo/2023-03", "/archive/foo/2023-04", "/archive/foo/2023-05"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("partition %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestArchiveThreeMonths(t *testing.T) {
	root := t.TempDir()
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	touch(t, filepath.Join(root, "foo", "2023-01", "foo_app_host1.log.2.gz"), base.Add(time.Hour))
	touch(t, filepath.Join(root, "foo", "2023-01", "foo_app_host1.log.1.gz"), base.Add(2*time.Hour))
	touch(t, filepath.Join(root, "foo", "2023-02", "foo_app_host2.log.gz"), base.AddDate(0, 1, 0))
	touch(t, filepath.Join(root, "foo", "2023-03", "foo_app_host1.log"), base.AddDate(0, 2, 0))
	touch(t, filepath.Join(root, "foo", "2023-03", "bar_app_host1.log"), base.AddDate(0, 2, 0))
	touch(t, filepath.Join(root, "foo", "2023-04", "foo_app_host1.log"), base.AddDate(0, 3, 0))

	l, err := New(Config{ArchiveDir: root, Now: fixedNow("2023-03-20")})
	if err != nil {
		t.Fatal(err)
	}
	req := Request{Command: "foo", PubDate: base, Archive: true}

	files, err := l.Files(req)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		filepath.Join(root, "foo", "2023-01", "foo_app_host1.log.2.gz"),
		filepath.Join(root, "foo", "2023-01", "foo_app_host1.log.1.gz"),
		filepath.Join(root, "foo", "2023-02", "foo_app_host2.log.gz"),
		filepath.Join(root, "foo", "2023-03", "foo_app_host1.log"),
	}
	if len(files) != len(want) {
		t.Fatalf("files = %v", files)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("file %d = %s, want %s", i, files[i], want[i])
		}
	}

	targets, err := l.Locate(req)
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 2 || targets[0].Name != "host1" || targets[1].Name != "host2" {
		t.Fatalf("targets = %+v", targets)
	}
	if len(targets[0].Sources) != 3 || targets[0].Sources[2] != want[3] {
		t.Errorf("host1 sources = %v", targets[0].Sources)
	}
}

func TestAliasDirectory(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "legacy-foo", "2023-01", "foo_app_host1.log"), time.Now())

	l, err := New(Config{
		ArchiveDir: root,
		Aliases:    map[string]string{"foo": "legacy-foo"},
		Now:        fixedNow("2023-01-20"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if l.DirName("foo") != "legacy-foo" || l.DirName("bar") != "bar" {
		t.Error("alias mapping not applied")
	}
	targets, err := l.Locate(Request{Command: "foo", PubDate: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), Archive: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 1 || targets[0].Name != "host1" {
		t.Errorf("targets = %+v", targets)
	}
}

func TestLiveGlob(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	touch(t, filepath.Join(dir, "foo_app_host2.log"), now.Add(-time.Minute))
	touch(t, filepath.Join(dir, "foo_app_host1.log.1"), now.Add(-time.Hour))
	touch(t, filepath.Join(dir, "foo_app_host1.log"), now)
	touch(t, filepath.Join(dir, "foo_web_host1.log"), now)
	touch(t, filepath.Join(dir, "sub", "foo_app_host3.log"), now)
	if err := os.MkdirAll(filepath.Join(dir, "foo_app_dir"), 0o750); err != nil {
		t.Fatal(err)
	}

	l, err := New(Config{LiveDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	targets, err := l.Locate(Request{Command: "foo"})
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 2 {
		t.Fatalf("targets = %+v", targets)
	}
	if targets[0].Name != "host1" || len(targets[0].Sources) != 2 {
		t.Errorf("first target = %+v", targets[0])
	}
	if filepath.Base(targets[0].Sources[0]) != "foo_app_host1.log.1" {
		t.Errorf("sources not mtime ordered: %v", targets[0].Sources)
	}
	if targets[1].Name != "host2" {
		t.Errorf("second target = %+v", targets[1])
	}
}

func TestNoLogs(t *testing.T) {
	l, err := New(Config{LiveDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Locate(Request{Command: "foo"}); !errors.Is(err, ErrNoLogs) {
		t.Errorf("expected ErrNoLogs, got %v", err)
	}

	archiveOnly, _ := New(Config{ArchiveDir: t.TempDir()})
	if _, err := archiveOnly.Locate(Request{Command: "foo"}); err == nil {
		t.Error("live request without live dir should fail")
	}
}

func TestInvalidConfig(t *testing.T) {
	if _, err := New(Config{SourceRegex: "("}); err == nil {
		t.Error("expected invalid source regex error")
	}
	if _, err := New(Config{Pattern: "foo[.log"}); err == nil {
		t.Error("expected invalid pattern error")
	}
}

func TestSourceName(t *testing.T) {
	re := regexp.MustCompile(`^foo_app_(?P<source>[^.]+)`)
	cases := map[string]string{
		"foo_app_host1.log.1.gz": "host1",
		"other.log":              "other",
		"noext":                  "noext",
	}
	for base, want := range cases {
		if got := SourceName(re, base); got != want {
			t.Errorf("SourceName(%q) = %q, want %q", base, got, want)
		}
	}
	if got := SourceName(regexp.MustCompile(`^x-(\w+)`), "x-web1.log"); got != "web1" {
		t.Errorf("unnamed group: got %q", got)
	}
}
