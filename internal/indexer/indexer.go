// Package indexer builds the semantic index: each collected fragment gets a
// natural-language summary, the summary is embedded, and both are persisted
// as one SemanticEntry.
package indexer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/metaminds/metabrief/internal/ai"
	"github.com/metaminds/metabrief/internal/resilience"
	"github.com/metaminds/metabrief/pkg/models"
)

// maxSummaryInput truncates fragment content before summarization to respect
// model context limits.
const maxSummaryInput = 1000

// EntryStore is the persistence surface the indexer needs.
type EntryStore interface {
	InsertSemanticEntry(ctx context.Context, e models.SemanticEntry, vec []float32) error
	DeleteSemanticEntries(ctx context.Context, projectID string) error
}

// Indexer handles indexing of collected source fragments.
type Indexer struct {
	Store       EntryStore
	Client      ai.Client
	Concurrency int // bounded fan-out across fragments, default 1
}

func New(store EntryStore, client ai.Client, concurrency int) *Indexer {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Indexer{Store: store, Client: client, Concurrency: concurrency}
}

// Index summarizes, embeds and persists every fragment. A failing fragment
// is logged and skipped; the rest of the batch always settles. Returns the
// number of entries persisted.
func (ix *Indexer) Index(ctx context.Context, projectID string, fragments []models.SourceFragment) int {
	units := make([]func(context.Context) (string, error), len(fragments))
	for i, frag := range fragments {
		frag := frag
		units[i] = func(ctx context.Context) (string, error) {
			return ix.indexFragment(ctx, projectID, frag)
		}
	}

	persisted := 0
	for i, o := range resilience.Gather(ctx, ix.Concurrency, units) {
		if o.Err != nil {
			log.Warn().Err(o.Err).Str("path", fragments[i].Path).Msg("fragment skipped")
			continue
		}
		persisted++
	}
	log.Info().Str("project", projectID).Int("persisted", persisted).Int("total", len(fragments)).Msg("indexing settled")
	return persisted
}

// Reindex replaces a project's whole index: stale entries are removed first
// so repeated full syncs do not accumulate duplicates.
func (ix *Indexer) Reindex(ctx context.Context, projectID string, fragments []models.SourceFragment) (int, error) {
	if err := ix.Store.DeleteSemanticEntries(ctx, projectID); err != nil {
		return 0, fmt.Errorf("clear project index: %w", err)
	}
	return ix.Index(ctx, projectID, fragments), nil
}

func (ix *Indexer) indexFragment(ctx context.Context, projectID string, frag models.SourceFragment) (string, error) {
	summary, err := ix.summarize(ctx, frag)
	if err != nil {
		return "", fmt.Errorf("summarize %s: %w", frag.Path, err)
	}

	// The vector represents the summary, not the raw content: summaries
	// compress away syntax noise and embed far better.
	vec, err := ix.Client.Embed(ctx, summary)
	if err != nil {
		return "", fmt.Errorf("embed %s: %w", frag.Path, err)
	}

	entry := models.SemanticEntry{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		FileName:  frag.Path,
		Content:   frag.Content,
		Summary:   summary,
	}
	if err := ix.Store.InsertSemanticEntry(ctx, entry, vec); err != nil {
		return "", fmt.Errorf("persist %s: %w", frag.Path, err)
	}
	return entry.ID, nil
}

func (ix *Indexer) summarize(ctx context.Context, frag models.SourceFragment) (string, error) {
	code := frag.Content
	if len(code) > maxSummaryInput {
		// Cut on a rune boundary so multi-byte content is never split
		// mid-sequence.
		runes := []rune(code)
		if len(runes) > maxSummaryInput {
			runes = runes[:maxSummaryInput]
		}
		code = string(runes)
	}
	prompt := fmt.Sprintf(`You are an intelligent senior software engineer who specialises in onboarding junior software engineers onto projects.
You are onboarding a junior software engineer and explaining to them the purpose of the %s file.
Here is the code:
---
%s
---
Give a summary no more than 100 words of the code above.`, frag.Path, code)

	return ix.Client.Complete(ctx, prompt)
}
