// Package hosting wraps the version-control hosting API. Responses are
// normalized into typed records at this boundary; missing fields default to
// empty values so call sites never deal with the host's loose typing.
package hosting

import (
	"context"
	"fmt"
	"regexp"
	"time"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/metaminds/metabrief/internal/apperr"
)

// TreeEntry is one node of a repository tree listing.
type TreeEntry struct {
	Path string
	Type string // "blob" or "tree"
}

// Commit is a normalized commit listing entry.
type Commit struct {
	Hash        string
	Message     string
	AuthorName  string
	AuthorEmail string
	AuthoredAt  time.Time
}

// API is the hosting surface the pipeline depends on. The concrete client is
// constructed once per process and injected into each component.
type API interface {
	ListTree(ctx context.Context, projectPath, branch string) ([]TreeEntry, error)
	RawFile(ctx context.Context, projectPath, filePath, branch string) (string, error)
	ListCommits(ctx context.Context, projectPath string) ([]Commit, error)
	CommitDiff(ctx context.Context, projectPath, hash string) (string, error)
}

var (
	repoPathPattern  = regexp.MustCompile(`^https?://[^/]+/(.+?)(?:\.git)?/?$`)
	namespacePattern = regexp.MustCompile(`^.+/.+$`)
)

// ParseRepoPath decomposes a hosting URL into its namespace/project pair.
func ParseRepoPath(repoURL string) (string, error) {
	m := repoPathPattern.FindStringSubmatch(repoURL)
	if m == nil {
		return "", apperr.E(apperr.KindNotFound, "not a valid repository URL: %s", repoURL)
	}
	path := m[1]
	if !namespacePattern.MatchString(path) {
		return "", apperr.E(apperr.KindNotFound, "repository URL %s has no namespace/project pair", repoURL)
	}
	return path, nil
}

// Connector hands out API clients credentialed for one project. An empty
// token falls back to the instance-wide default.
type Connector interface {
	Connect(token string) (API, error)
}

// Origin is the Connector for one hosting instance.
type Origin struct {
	origin       string
	defaultToken string
}

func NewOrigin(origin, defaultToken string) *Origin {
	return &Origin{origin: origin, defaultToken: defaultToken}
}

func (o *Origin) Connect(token string) (API, error) {
	if token == "" {
		token = o.defaultToken
	}
	return New(o.origin, token)
}

var _ Connector = (*Origin)(nil)

// GitLab implements API against a GitLab instance.
type GitLab struct {
	client *gitlab.Client
}

// New creates a GitLab client for the given instance origin. token may be
// empty for public repositories.
func New(origin, token string) (*GitLab, error) {
	client, err := gitlab.NewClient(token, gitlab.WithBaseURL(fmt.Sprintf("%s/api/v4", origin)))
	if err != nil {
		return nil, fmt.Errorf("failed to create GitLab client: %w", err)
	}
	return &GitLab{client: client}, nil
}

// ListTree lists the repository tree recursively for the given branch,
// following pagination until the host is exhausted.
func (g *GitLab) ListTree(ctx context.Context, projectPath, branch string) ([]TreeEntry, error) {
	var out []TreeEntry
	opt := &gitlab.ListTreeOptions{
		Ref:         gitlab.Ptr(branch),
		Recursive:   gitlab.Ptr(true),
		ListOptions: gitlab.ListOptions{PerPage: 100},
	}
	for {
		nodes, resp, err := g.client.Repositories.ListTree(projectPath, opt, gitlab.WithContext(ctx))
		if err != nil {
			return nil, classify(err, resp, "list tree for "+projectPath)
		}
		for _, n := range nodes {
			out = append(out, TreeEntry{Path: n.Path, Type: n.Type})
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return out, nil
}

// RawFile fetches a file's raw content by path and branch.
func (g *GitLab) RawFile(ctx context.Context, projectPath, filePath, branch string) (string, error) {
	raw, resp, err := g.client.RepositoryFiles.GetRawFile(projectPath, filePath,
		&gitlab.GetRawFileOptions{Ref: gitlab.Ptr(branch)}, gitlab.WithContext(ctx))
	if err != nil {
		return "", classify(err, resp, "fetch "+filePath)
	}
	return string(raw), nil
}

// ListCommits fetches up to one page of the most recent commits. Hosts do not
// guarantee a stable order, so the synchronizer re-sorts client-side.
func (g *GitLab) ListCommits(ctx context.Context, projectPath string) ([]Commit, error) {
	commits, resp, err := g.client.Commits.ListCommits(projectPath,
		&gitlab.ListCommitsOptions{ListOptions: gitlab.ListOptions{PerPage: 100}},
		gitlab.WithContext(ctx))
	if err != nil {
		return nil, classify(err, resp, "list commits for "+projectPath)
	}

	out := make([]Commit, 0, len(commits))
	for _, c := range commits {
		nc := Commit{
			Hash:        c.ID,
			Message:     c.Message,
			AuthorName:  c.AuthorName,
			AuthorEmail: c.AuthorEmail,
		}
		switch {
		case c.AuthoredDate != nil:
			nc.AuthoredAt = *c.AuthoredDate
		case c.CreatedAt != nil:
			nc.AuthoredAt = *c.CreatedAt
		}
		out = append(out, nc)
	}
	return out, nil
}

// CommitDiff renders a commit's changes as one unified diff document.
func (g *GitLab) CommitDiff(ctx context.Context, projectPath, hash string) (string, error) {
	diffs, resp, err := g.client.Commits.GetCommitDiff(projectPath, hash,
		&gitlab.GetCommitDiffOptions{}, gitlab.WithContext(ctx))
	if err != nil {
		return "", classify(err, resp, "fetch diff for "+hash)
	}

	var b []byte
	for _, d := range diffs {
		header := fmt.Sprintf("diff --git a/%s b/%s\n--- a/%s\n+++ b/%s\n",
			d.OldPath, d.NewPath, d.OldPath, d.NewPath)
		b = append(b, header...)
		b = append(b, d.Diff...)
		b = append(b, '\n')
	}
	return string(b), nil
}

func classify(err error, resp *gitlab.Response, op string) error {
	if resp != nil {
		switch resp.StatusCode {
		case 401, 403:
			return apperr.Wrap(apperr.KindAuth, err, op)
		case 404:
			return apperr.Wrap(apperr.KindNotFound, err, op)
		}
	}
	return apperr.Wrap(apperr.KindUpstream, err, op)
}

var _ API = (*GitLab)(nil)
