// Package ai abstracts the embedding and generation services. One client is
// constructed per process and passed explicitly into each component so the
// whole pipeline shares a single embedding model, keeping vector
// dimensionality consistent across indexing and retrieval.
package ai

import (
	"context"
	"errors"
	"iter"
	"strings"
)

// Client provides embedding, one-shot completion and streamed completion.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Complete(ctx context.Context, prompt string) (string, error)
	// CompleteStream yields response fragments in order. The sequence is
	// lazy, finite and non-restartable; a mid-flight upstream failure is
	// yielded as the final non-nil error.
	CompleteStream(ctx context.Context, prompt string) iter.Seq2[string, error]
	Dim() int
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderGemini Provider = "gemini"
	ProviderStub   Provider = "stub"
)

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	Provider   Provider
	BaseURL    string // ollama host, e.g. http://localhost:11434
	APIKey     string
	EmbedModel string
	GenModel   string
	Dim        int
	ProjectID  string
	Location   string
}

// NewClient creates a new AI client based on configuration
func NewClient(ctx context.Context, config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	switch config.Provider {
	case ProviderOllama:
		return NewOllamaClient(config), nil
	case ProviderGemini:
		return NewGeminiClient(ctx, config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// StubClient is a deterministic in-memory Client for tests.
type StubClient struct {
	dim int
}

func NewStubClient(dim int) *StubClient {
	return &StubClient{dim: dim}
}

// Embed returns a unit-ish vector derived from the text so that different
// inputs produce different directions.
func (s *StubClient) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, s.dim)
	for i, r := range text {
		v[i%s.dim] += float32(r%13) / 13
	}
	return v, nil
}

func (s *StubClient) Complete(ctx context.Context, prompt string) (string, error) {
	// Echo the first prompt line; enough structure for pipeline tests.
	line, _, _ := strings.Cut(strings.TrimSpace(prompt), "\n")
	return line, nil
}

func (s *StubClient) CompleteStream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, w := range []string{"stub ", "answer"} {
			if !yield(w, nil) {
				return
			}
		}
	}
}

func (s *StubClient) Dim() int {
	return s.dim
}
