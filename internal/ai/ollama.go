package ai

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"iter"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/metaminds/metabrief/internal/apperr"
)

// OllamaClient talks to an Ollama server over its generate/embeddings HTTP
// API. Generation supports both one-shot responses and the newline-delimited
// JSON fragment stream.
type OllamaClient struct {
	config *ClientConfig
	http   *http.Client
}

func NewOllamaClient(config *ClientConfig) *OllamaClient {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.EmbedModel == "" {
		config.EmbedModel = "nomic-embed-text:latest"
	}
	if config.GenModel == "" {
		config.GenModel = "gemma3:4b"
	}
	if config.Dim == 0 {
		// nomic-embed-text dimensionality
		config.Dim = 768
	}

	transport := &http.Transport{}
	if skipTLS, _ := strconv.ParseBool(os.Getenv("METABRIEF_SKIP_TLS_VERIFY")); skipTLS {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	return &OllamaClient{
		config: config,
		http: &http.Client{
			// No client timeout: generation streams can legitimately run
			// for minutes; the caller's context bounds each request.
			Transport: transport,
		},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateFragment struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Embed requests a fixed-length vector for the given text.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]string{
		"model":  c.config.EmbedModel,
		"prompt": text,
	}
	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/api/embeddings", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, err, "ollama embeddings request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.E(apperr.KindUpstream, "ollama embeddings: %s", resp.Status)
	}

	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, err, "ollama embeddings decode")
	}
	if len(out.Embedding) == 0 {
		return nil, apperr.E(apperr.KindUpstream, "ollama returned no embedding")
	}
	return out.Embedding, nil
}

// Complete runs one non-streamed generation and returns the full response.
func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.generate(ctx, prompt, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out generateFragment
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperr.Wrap(apperr.KindUpstream, err, "ollama generate decode")
	}
	if out.Error != "" {
		return "", apperr.E(apperr.KindUpstream, "ollama generate: %s", out.Error)
	}
	return strings.TrimSpace(out.Response), nil
}

// CompleteStream runs a streamed generation. Fragments arrive one JSON object
// per line, each carrying an incremental piece of the response.
func (c *OllamaClient) CompleteStream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		resp, err := c.generate(ctx, prompt, true)
		if err != nil {
			yield("", err)
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var frag generateFragment
			if err := json.Unmarshal([]byte(line), &frag); err != nil {
				// Malformed fragments are skipped, not fatal.
				continue
			}
			if frag.Error != "" {
				yield("", apperr.E(apperr.KindUpstream, "ollama stream: %s", frag.Error))
				return
			}
			if frag.Response != "" && !yield(frag.Response, nil) {
				return
			}
			if frag.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", apperr.Wrap(apperr.KindUpstream, err, "ollama stream read"))
		}
	}
}

func (c *OllamaClient) generate(ctx context.Context, prompt string, stream bool) (*http.Response, error) {
	b, _ := json.Marshal(generateRequest{
		Model:  c.config.GenModel,
		Prompt: prompt,
		Stream: stream,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/api/generate", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, err, "ollama generate request")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, apperr.E(apperr.KindUpstream, "ollama generate: %s", resp.Status)
	}
	return resp, nil
}

func (c *OllamaClient) Dim() int {
	return c.config.Dim
}

var _ Client = (*OllamaClient)(nil)
