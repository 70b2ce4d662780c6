package collector

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/metaminds/metabrief/internal/apperr"
	"github.com/metaminds/metabrief/internal/hosting"
)

type fakeHost struct {
	tree    []hosting.TreeEntry
	content map[string]string
	failOn  map[string]bool

	mu      sync.Mutex
	fetched []string
}

func (f *fakeHost) ListTree(ctx context.Context, projectPath, branch string) ([]hosting.TreeEntry, error) {
	return f.tree, nil
}

func (f *fakeHost) RawFile(ctx context.Context, projectPath, filePath, branch string) (string, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, filePath)
	f.mu.Unlock()
	if f.failOn[filePath] {
		return "", errors.New("raw fetch failed")
	}
	return f.content[filePath], nil
}

func (f *fakeHost) ListCommits(ctx context.Context, projectPath string) ([]hosting.Commit, error) {
	return nil, nil
}

func (f *fakeHost) CommitDiff(ctx context.Context, projectPath, hash string) (string, error) {
	return "", nil
}

type fakeConnector struct {
	host   *fakeHost
	tokens []string
}

func (f *fakeConnector) Connect(token string) (hosting.API, error) {
	f.tokens = append(f.tokens, token)
	return f.host, nil
}

func TestCollectFiltersTree(t *testing.T) {
	host := &fakeHost{
		tree: []hosting.TreeEntry{
			{Path: "main.go", Type: "blob"},
			{Path: "internal", Type: "tree"},
			{Path: "internal/api.go", Type: "blob"},
			{Path: "package-lock.json", Type: "blob"},
			{Path: "web/yarn.lock", Type: "blob"},
		},
		content: map[string]string{
			"main.go":         "package main",
			"internal/api.go": "package api",
		},
	}

	frags, err := New(&fakeConnector{host: host}).Collect(context.Background(), "https://gitlab.com/g/r", "", "")
	if err != nil {
		t.Fatalf("Collect() = %v", err)
	}
	if len(frags) != 2 {
		t.Fatalf("len(frags) = %d, want 2", len(frags))
	}
	for _, f := range frags {
		if f.Branch != DefaultBranch {
			t.Errorf("branch = %q, want %q", f.Branch, DefaultBranch)
		}
		if f.Repository != "https://gitlab.com/g/r" {
			t.Errorf("repository = %q", f.Repository)
		}
	}
	if frags[0].Path != "main.go" || frags[0].Content != "package main" {
		t.Errorf("frags[0] = %+v", frags[0])
	}
}

func TestCollectSkipsFailedFetches(t *testing.T) {
	host := &fakeHost{
		tree: []hosting.TreeEntry{
			{Path: "a.go", Type: "blob"},
			{Path: "b.go", Type: "blob"},
			{Path: "c.go", Type: "blob"},
		},
		content: map[string]string{"a.go": "a", "c.go": "c"},
		failOn:  map[string]bool{"b.go": true},
	}

	frags, err := New(&fakeConnector{host: host}).Collect(context.Background(), "https://gitlab.com/g/r", "dev", "")
	if err != nil {
		t.Fatalf("Collect() = %v", err)
	}
	if len(frags) != 2 {
		t.Fatalf("len(frags) = %d, want 2", len(frags))
	}
	for _, f := range frags {
		if f.Path == "b.go" {
			t.Error("failed fetch was kept")
		}
	}
}

func TestCollectRejectsBadURL(t *testing.T) {
	_, err := New(&fakeConnector{host: &fakeHost{}}).Collect(context.Background(), "not a url", "", "")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("err = %v, want not_found", err)
	}
}

func TestCollectConnectsWithProjectToken(t *testing.T) {
	conn := &fakeConnector{host: &fakeHost{
		tree:    []hosting.TreeEntry{{Path: "a.go", Type: "blob"}},
		content: map[string]string{"a.go": "a"},
	}}

	if _, err := New(conn).Collect(context.Background(), "https://gitlab.com/g/private", "", "glpat-secret"); err != nil {
		t.Fatalf("Collect() = %v", err)
	}
	if len(conn.tokens) != 1 || conn.tokens[0] != "glpat-secret" {
		t.Errorf("connector tokens = %v, want the project token", conn.tokens)
	}
}
