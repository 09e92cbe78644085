package filestore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAtomicWriteCreatesParentsAndReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "doc.json")

	if err := AtomicWrite(path, []byte("one"), 0o644); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := AtomicWrite(path, []byte("two"), 0o644); err != nil {
		t.Fatalf("second write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "two" {
		t.Fatalf("expected replaced content, got %q", data)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be cleaned up, found %d entries", len(entries))
	}
}

func TestReadFileOrEmpty(t *testing.T) {
	data, err := ReadFileOrEmpty(filepath.Join(t.TempDir(), "missing"))
	if err != nil || data != nil {
		t.Fatalf("expected (nil, nil), got (%q, %v)", data, err)
	}
}

func TestResolvePath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ResolvePath("", "~/.souschef"); got != filepath.Join(home, ".souschef") {
		t.Fatalf("unexpected default expansion: %s", got)
	}
	t.Setenv("SOUSCHEF_TEST_DIR", "/tmp/x")
	if got := ResolvePath("$SOUSCHEF_TEST_DIR/threads", ""); got != "/tmp/x/threads" {
		t.Fatalf("unexpected env expansion: %s", got)
	}
}
