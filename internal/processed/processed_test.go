package processed

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestMissingFileIsEmpty(t *testing.T) {
	tr, err := Open(filepath.Join(t.TempDir(), "processed"))
	if err != nil {
		t.Fatal(err)
	}
	if tr.Len() != 0 || tr.Contains("abc123") {
		t.Error("expected empty set")
	}
}

func TestAppendPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "processed")
	tr, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Append("abc123", "def456"); err != nil {
		t.Fatal(err)
	}
	if !tr.Contains("abc123") || !tr.Contains("def456") {
		t.Error("appended ids not visible")
	}

	// Cross-run duplicates are written as-is.
	if err := tr.Append("abc123"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != "abc123\ndef456\nabc123\n" {
		t.Errorf("file content = %q", got)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Len() != 2 || !reopened.Contains("def456") {
		t.Errorf("reopened set len=%d", reopened.Len())
	}
}

func TestLoadToleratesBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed")
	if err := os.WriteFile(path, []byte("a\n\n  b  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	tr, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Len() != 2 || !tr.Contains("b") {
		t.Errorf("len=%d", tr.Len())
	}
}

func TestAppendRejectsInvalid(t *testing.T) {
	tr, _ := Open(filepath.Join(t.TempDir(), "processed"))
	for _, bad := range []string{"", "two\nids"} {
		if err := tr.Append(bad); err == nil {
			t.Errorf("Append(%q) accepted", bad)
		}
	}
	if err := tr.Append(); err != nil {
		t.Errorf("empty batch: %v", err)
	}
}

func TestConcurrentAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed")
	tr, _ := Open(path)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			if err := tr.Append(fmt.Sprintf("doc-%02d", i)); err != nil {
				t.Error(err)
			}
		})
	}
	wg.Wait()

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 20 || tr.Len() != 20 {
		t.Errorf("lines=%d len=%d", len(lines), tr.Len())
	}
}
