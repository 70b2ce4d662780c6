package collector

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCollectLocal(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		t.Helper()
		p := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	write("main.go", "package main")
	write("internal/api.go", "package api")
	write("package-lock.json", "{}")
	write("node_modules/dep/index.js", "module.exports = {}")
	write(".git/HEAD", "ref: refs/heads/main")

	frags, err := CollectLocal(root, "demo")
	if err != nil {
		t.Fatalf("CollectLocal() = %v", err)
	}

	paths := map[string]bool{}
	for _, f := range frags {
		paths[f.Path] = true
		if f.Repository != "demo" || f.Branch != "local" {
			t.Errorf("fragment metadata = %+v", f)
		}
	}
	if len(frags) != 2 {
		t.Fatalf("len(frags) = %d (%v), want 2", len(frags), paths)
	}
	if !paths["main.go"] || !paths["internal/api.go"] {
		t.Errorf("paths = %v", paths)
	}
}
