package ai

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"google.golang.org/genai"

	"github.com/metaminds/metabrief/internal/apperr"
)

// GeminiClient backs the Client interface with the Gemini API.
type GeminiClient struct {
	config *ClientConfig
	client *genai.Client
}

func NewGeminiClient(ctx context.Context, config *ClientConfig) (*GeminiClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-005"
	}
	if config.GenModel == "" {
		config.GenModel = "gemini-2.0-flash"
	}
	if config.Dim == 0 {
		config.Dim = 768
	}
	if config.Location == "" && strings.TrimSpace(config.APIKey) == "" {
		config.Location = "us-central1"
	}

	cc := genai.ClientConfig{
		Backend: genai.BackendVertexAI,
	}
	if strings.TrimSpace(config.APIKey) != "" {
		cc.APIKey = config.APIKey
	}
	if strings.TrimSpace(config.ProjectID) != "" {
		cc.Project = config.ProjectID
	}
	if strings.TrimSpace(config.Location) != "" {
		cc.Location = config.Location
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		config: config,
		client: client,
	}, nil
}

// Embed implements the embedding functionality using the Gemini API
func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	cfg := genai.EmbedContentConfig{
		TaskType: "RETRIEVAL_DOCUMENT",
	}

	res, err := c.client.Models.EmbedContent(ctx, c.config.EmbedModel, genai.Text(text), &cfg)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, err, "gemini embedding")
	}
	if res == nil || len(res.Embeddings) == 0 {
		return nil, apperr.E(apperr.KindUpstream, "no embedding returned")
	}
	return res.Embeddings[0].Values, nil
}

// Complete runs a single non-streamed generation.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	temp := float32(0.2)
	cfg := genai.GenerateContentConfig{
		Temperature: &temp,
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.config.GenModel, genai.Text(prompt), &cfg)
	if err != nil {
		return "", apperr.Wrap(apperr.KindUpstream, err, "gemini generation")
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", apperr.E(apperr.KindUpstream, "no completion returned")
	}
	return strings.TrimSpace(resp.Candidates[0].Content.Parts[0].Text), nil
}

// CompleteStream yields generation fragments as the model produces them.
func (c *GeminiClient) CompleteStream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		temp := float32(0.2)
		cfg := genai.GenerateContentConfig{
			Temperature: &temp,
		}
		for resp, err := range c.client.Models.GenerateContentStream(ctx, c.config.GenModel, genai.Text(prompt), &cfg) {
			if err != nil {
				yield("", apperr.Wrap(apperr.KindUpstream, err, "gemini stream"))
				return
			}
			if text := resp.Text(); text != "" {
				if !yield(text, nil) {
					return
				}
			}
		}
	}
}

func (c *GeminiClient) Dim() int {
	return c.config.Dim
}

var _ Client = (*GeminiClient)(nil)
