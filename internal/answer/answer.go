// Package answer is the retrieval engine: it embeds a question with the same
// model used at indexing time, ranks a project's semantic entries by cosine
// similarity and streams an answer grounded in the matched entries.
package answer

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/google/uuid"

	"github.com/metaminds/metabrief/internal/ai"
	"github.com/metaminds/metabrief/internal/apperr"
	"github.com/metaminds/metabrief/pkg/models"
)

const (
	// minSimilarity drops entries whose cosine similarity to the question
	// is too weak to ground an answer.
	minSimilarity = 0.5
	// maxMatches caps the context block size.
	maxMatches = 10
)

// SearchStore is the persistence surface the engine needs.
type SearchStore interface {
	SearchSimilar(ctx context.Context, projectID string, vec []float32, minSimilarity float64, limit int) ([]models.EntryMatch, error)
	SaveAnswer(ctx context.Context, a models.SavedAnswer) error
	ListSavedAnswers(ctx context.Context, projectID string) ([]models.SavedAnswer, error)
}

// Answer carries the matched file references and the lazy fragment stream.
// The stream is ordered, finite and non-restartable; fragments already
// consumed are the caller's to keep even if the stream later fails.
type Answer struct {
	References []models.EntryMatch
	Stream     iter.Seq2[string, error]
}

// Engine answers free-text questions against a project's semantic index.
type Engine struct {
	Store  SearchStore
	Client ai.Client
}

func New(store SearchStore, client ai.Client) *Engine {
	return &Engine{Store: store, Client: client}
}

// Ask retrieves the project entries most similar to the question and returns
// a streamed answer grounded in them. The question is embedded with the
// indexing client, so similarity scores compare like with like.
func (e *Engine) Ask(ctx context.Context, projectID, question string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, apperr.E(apperr.KindValidation, "question is required")
	}

	vec, err := e.Client.Embed(ctx, question)
	if err != nil {
		return Answer{}, err
	}

	matches, err := e.Store.SearchSimilar(ctx, projectID, vec, minSimilarity, maxMatches)
	if err != nil {
		return Answer{}, err
	}

	var b strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&b, "source: %s\ncode content: %s\nsummary of file: %s\n\n",
			m.Entry.FileName, m.Entry.Content, m.Entry.Summary)
	}

	prompt := answerPrompt(b.String(), question)
	return Answer{
		References: matches,
		Stream:     e.Client.CompleteStream(ctx, prompt),
	}, nil
}

// Save records a finished question/answer pair for later review.
func (e *Engine) Save(ctx context.Context, projectID, userID, question, answerText string, refs []models.FileReference) (models.SavedAnswer, error) {
	if strings.TrimSpace(question) == "" || strings.TrimSpace(answerText) == "" {
		return models.SavedAnswer{}, apperr.E(apperr.KindValidation, "question and answer are required")
	}
	saved := models.SavedAnswer{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		UserID:     userID,
		Question:   question,
		Answer:     answerText,
		References: refs,
	}
	if err := e.Store.SaveAnswer(ctx, saved); err != nil {
		return models.SavedAnswer{}, err
	}
	return saved, nil
}

func answerPrompt(context, question string) string {
	return `You are an AI code assistant helping an intern understand a codebase. AI has expert knowledge, and gives helpful, clear, detailed responses. Only respond with information found in the context.

START CONTEXT BLOCK
` + context + `END OF CONTEXT BLOCK

START QUESTION
` + question + `
END OF QUESTION

Only use context to answer. If unsure, say "I'm sorry, but I don't know the answer to that question".
Use markdown and code snippets.`
}
