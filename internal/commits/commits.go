// Package commits synchronizes a project's commit log: recent commits are
// fetched from the host, deduplicated against prior runs by hash, and each
// new commit's diff is summarized before one batch write.
package commits

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/metaminds/metabrief/internal/ai"
	"github.com/metaminds/metabrief/internal/apperr"
	"github.com/metaminds/metabrief/internal/hosting"
	"github.com/metaminds/metabrief/internal/resilience"
	"github.com/metaminds/metabrief/pkg/models"
)

// DefaultRecent is how many of the newest commits one run considers.
const DefaultRecent = 15

// Store is the persistence surface the synchronizer needs.
type Store interface {
	GetProject(ctx context.Context, id string) (models.Project, error)
	ListCommitHashes(ctx context.Context, projectID string) ([]string, error)
	InsertCommitRecords(ctx context.Context, records []models.CommitRecord) error
}

// Synchronizer fetches, deduplicates and summarizes commits for a project,
// connecting to the host with the project's own access token.
type Synchronizer struct {
	Store       Store
	Hosts       hosting.Connector
	Client      ai.Client
	Recent      int
	Concurrency int // bounded fan-out across per-commit summaries

	RetryAttempts int
	RetryBase     time.Duration
}

func New(store Store, hosts hosting.Connector, client ai.Client) *Synchronizer {
	return &Synchronizer{
		Store:         store,
		Hosts:         hosts,
		Client:        client,
		Recent:        DefaultRecent,
		Concurrency:   resilience.DefaultLimit,
		RetryAttempts: resilience.DefaultAttempts,
		RetryBase:     resilience.DefaultBase,
	}
}

// Sync records every not-yet-seen recent commit. Running it twice against an
// unchanged upstream is a no-op: the hash set difference is computed before
// any fan-out begins.
func (s *Synchronizer) Sync(ctx context.Context, projectID string) ([]models.CommitRecord, error) {
	project, err := s.Store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.RepoURL == "" {
		return nil, apperr.E(apperr.KindNotFound, "project %s has no hosting URL", projectID)
	}
	projectPath, err := hosting.ParseRepoPath(project.RepoURL)
	if err != nil {
		return nil, err
	}
	host, err := s.Hosts.Connect(project.AccessToken)
	if err != nil {
		return nil, err
	}

	recent, err := host.ListCommits(ctx, projectPath)
	if err != nil {
		return nil, err
	}
	if len(recent) == 0 {
		return nil, nil
	}

	// Hosts are not assumed to return a stable order; re-sort by authored
	// date, ties keeping the response order.
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].AuthoredAt.After(recent[j].AuthoredAt)
	})
	if len(recent) > s.Recent {
		recent = recent[:s.Recent]
	}

	seen, err := s.Store.ListCommitHashes(ctx, projectID)
	if err != nil {
		return nil, err
	}
	seenSet := make(map[string]bool, len(seen))
	for _, h := range seen {
		seenSet[h] = true
	}

	var unprocessed []hosting.Commit
	for _, c := range recent {
		if !seenSet[c.Hash] {
			unprocessed = append(unprocessed, c)
		}
	}
	if len(unprocessed) == 0 {
		return nil, nil
	}

	units := make([]func(context.Context) (string, error), len(unprocessed))
	for i, c := range unprocessed {
		c := c
		units[i] = func(ctx context.Context) (string, error) {
			return s.summarizeCommit(ctx, host, projectPath, c.Hash)
		}
	}

	records := make([]models.CommitRecord, len(unprocessed))
	for i, o := range resilience.Gather(ctx, s.Concurrency, units) {
		summary := o.Value
		if o.Err != nil {
			// A commit whose summary cannot be produced is still
			// recorded; the summary just stays empty.
			log.Warn().Err(o.Err).Str("hash", unprocessed[i].Hash).Msg("commit summary failed")
			summary = ""
		}
		records[i] = models.CommitRecord{
			ID:           uuid.NewString(),
			ProjectID:    projectID,
			Hash:         unprocessed[i].Hash,
			Message:      unprocessed[i].Message,
			AuthorName:   unprocessed[i].AuthorName,
			AuthorAvatar: avatarURL(unprocessed[i].AuthorEmail),
			AuthoredAt:   unprocessed[i].AuthoredAt,
			Summary:      summary,
		}
	}

	if err := s.Store.InsertCommitRecords(ctx, records); err != nil {
		return nil, err
	}
	log.Info().Str("project", projectID).Int("new_commits", len(records)).Msg("commit sync settled")
	return records, nil
}

func (s *Synchronizer) summarizeCommit(ctx context.Context, host hosting.API, projectPath, hash string) (string, error) {
	diff, err := host.CommitDiff(ctx, projectPath, hash)
	if err != nil {
		return "", fmt.Errorf("fetch diff for %s: %w", hash, err)
	}

	var summary string
	err = resilience.Retry(ctx, s.RetryAttempts, s.RetryBase, func(ctx context.Context) error {
		var cerr error
		summary, cerr = s.Client.Complete(ctx, diffPrompt(diff))
		return cerr
	})
	return summary, err
}

func avatarURL(email string) string {
	if email == "" {
		return ""
	}
	return fmt.Sprintf("https://www.gravatar.com/avatar/%s?d=identicon", email)
}

func diffPrompt(diff string) string {
	return `You are an expert programmer, and you are trying to summarize a git diff in no more than 100 words.
Reminders about the git diff format:
For every file, there are a few metadata lines, like (for example):
` + "```" + `
diff --git a/lib/index.js b/lib/index.js
index aadf691..bfef603 100644
--- a/lib/index.js
+++ b/lib/index.js
` + "```" + `
This means that ` + "`lib/index.js`" + ` was modified in this commit. Note that this is only an example.
Then there is a specifier of the lines that were modified.
A line starting with ` + "`+`" + ` means it was added.
A line that starting with ` + "`-`" + ` means that line was deleted.
A line that starts with neither ` + "`+`" + ` nor ` + "`-`" + ` is code given for context and better understanding.
It is not part of the diff.
EXAMPLE SUMMARY COMMENTS:
` + "```" + `
* Raised the amount of returned recordings from ` + "`10`" + ` to ` + "`100`" + ` [packages/server/recordings_api.ts], [packages/server/constants.ts]
* Fixed a typo in the github action name [.github/workflows/gpt-commit-summarizer.yml]
* Moved the ` + "`octokit`" + ` initialization to a separate file [src/octokit.ts], [src/index.ts]
* Added an OpenAI API for completions [packages/utils/apis/openai.ts]
* Lowered numeric tolerance for test files
` + "```" + `
Most commits will have less comments than this examples list.
The last comment does not include the file names,
because there were more than two relevant files in the hypothetical commit.
Do not include parts of the example in your summary.
It is given only as an example of appropriate comments.

Please summarise the following diff file:

` + diff
}
