package fileset

import (
	"os"
	"path/filepath"
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

func TestGlobOrdersByModTimeThenPath(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	touch(t, filepath.Join(dir, "c.log"), base)
	touch(t, filepath.Join(dir, "a.log"), base.Add(time.Hour))
	touch(t, filepath.Join(dir, "b.log"), base)
	if err := os.Mkdir(filepath.Join(dir, "d.log"), 0o750); err != nil {
		t.Fatal(err)
	}

	got, err := Glob(filepath.Join(dir, "*.log"), filepath.Join(dir, "a.*"))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		filepath.Join(dir, "b.log"),
		filepath.Join(dir, "c.log"),
		filepath.Join(dir, "a.log"),
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("file %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestGlobMissingDirectory(t *testing.T) {
	got, err := Glob(filepath.Join(t.TempDir(), "nope", "*.log"))
	if err != nil || len(got) != 0 {
		t.Errorf("got %v, %v", got, err)
	}
}

func TestEscape(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs [old]")
	touch(t, filepath.Join(dir, "app.log"), time.Now())

	got, err := Glob(filepath.Join(Escape(dir), "*.log"))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != filepath.Join(dir, "app.log") {
		t.Errorf("got %v", got)
	}
	if e := Escape("a*b?{c}"); e != `a\*b\?\{c\}` {
		t.Errorf("Escape = %q", e)
	}
}
