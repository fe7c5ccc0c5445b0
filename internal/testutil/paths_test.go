package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindProjectRoot(t *testing.T) {
	root, err := FindProjectRoot()
	if err != nil {
		t.Fatalf("FindProjectRoot returned error: %v", err)
	}
	if root == "" {
		t.Fatal("FindProjectRoot returned empty string")
	}

	goMod := filepath.Join(root, "go.mod")
	if _, err := os.Stat(goMod); err != nil {
		t.Fatalf("go.mod not found at %s: %v", goMod, err)
	}
}

func TestWriteReadTree(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{
		"a.txt":       "alpha",
		"sub/b.txt":   "beta",
		"sub/deeper/": "",
	}
	WriteTree(t, root, files)
	if err := os.Symlink("a.txt", filepath.Join(root, "link")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	got := ReadTree(t, root)
	want := map[string]string{
		"a.txt":       "alpha",
		"link":        "-> a.txt",
		"sub/":        "",
		"sub/b.txt":   "beta",
		"sub/deeper/": "",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d: %v", len(want), len(got), got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("entry %q: expected %q, got %q", k, v, got[k])
		}
	}
}
