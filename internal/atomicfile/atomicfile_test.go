package atomicfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteReplacesContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "Targets")

	if err := Write(path, []byte("first\n"), 0o644); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if err := Write(path, []byte("second\n"), 0o644); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "second\n" {
		t.Fatalf("expected replaced content, got %q", got)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o644 {
		t.Fatalf("expected perms 0644 got %v", perm)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestWriteYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	if err := WriteYAML(path, map[string]int{"pings": 20}, 0o600); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "pings: 20\n" {
		t.Fatalf("unexpected yaml %q", got)
	}
}
