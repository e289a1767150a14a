package infer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aethercode/aether/pkg/sir"
)

// Local-inference defaults (an Ollama-compatible server).
const (
	DefaultQwenEndpoint          = "http://127.0.0.1:11434"
	DefaultQwenModel             = "qwen3-embeddings-0.6B"
	DefaultQwenEmbeddingEndpoint = "http://127.0.0.1:11434/api/embeddings"

	localRequestTimeout = 120 * time.Second
)

// Qwen3LocalProvider generates SIRs against a local Ollama-compatible
// /api/generate endpoint with JSON output forcing.
type Qwen3LocalProvider struct {
	client   *http.Client
	endpoint string
	model    string
}

// NewQwen3LocalProvider constructs a provider; empty endpoint/model use
// the defaults.
func NewQwen3LocalProvider(endpoint, model string) *Qwen3LocalProvider {
	if endpoint == "" {
		endpoint = DefaultQwenEndpoint
	}

	if model == "" {
		model = DefaultQwenModel
	}

	return &Qwen3LocalProvider{
		client:   &http.Client{Timeout: localRequestTimeout},
		endpoint: strings.TrimSuffix(endpoint, "/"),
		model:    model,
	}
}

// Model returns the configured model name.
func (p *Qwen3LocalProvider) Model() string { return p.model }

// GenerateSIR implements sir.Provider.
func (p *Qwen3LocalProvider) GenerateSIR(ctx context.Context, language, declaration, body string) (sir.SIR, error) {
	prompt := buildStrictJSONPrompt(language, declaration, body)

	return generateWithParseRetries(ctx, func(ctx context.Context) (string, error) {
		request := map[string]any{
			"model":  p.model,
			"prompt": prompt,
			"stream": false,
			"format": "json",
		}

		var response struct {
			Response string `json:"response"`
		}

		if err := p.postJSON(ctx, p.endpoint+"/api/generate", request, &response); err != nil {
			return "", err
		}

		if strings.TrimSpace(response.Response) == "" {
			return "", errors.New("infer: local provider returned empty response")
		}

		return response.Response, nil
	})
}

func (p *Qwen3LocalProvider) postJSON(ctx context.Context, url string, request, response any) error {
	return postJSON(ctx, p.client, url, request, response)
}

// Qwen3LocalEmbedder embeds text against a local /api/embeddings endpoint.
type Qwen3LocalEmbedder struct {
	client   *http.Client
	endpoint string
	model    string
}

// NewQwen3LocalEmbedder constructs an embedder; empty endpoint/model use
// the defaults.
func NewQwen3LocalEmbedder(endpoint, model string) *Qwen3LocalEmbedder {
	if endpoint == "" {
		endpoint = DefaultQwenEmbeddingEndpoint
	}

	if model == "" {
		model = DefaultQwenModel
	}

	return &Qwen3LocalEmbedder{
		client:   &http.Client{Timeout: localRequestTimeout},
		endpoint: endpoint,
		model:    model,
	}
}

// Provider implements search.Embedder.
func (e *Qwen3LocalEmbedder) Provider() string { return "qwen3_local" }

// Model implements search.Embedder.
func (e *Qwen3LocalEmbedder) Model() string { return e.model }

// Embed implements search.Embedder.
func (e *Qwen3LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	request := map[string]any{
		"model":  e.model,
		"prompt": text,
	}

	var response struct {
		Embedding []float32 `json:"embedding"`
	}

	if err := postJSON(ctx, e.client, e.endpoint, request, &response); err != nil {
		return nil, err
	}

	if len(response.Embedding) == 0 {
		return nil, errors.New("infer: local embedder returned empty vector")
	}

	return normalizeUnit(response.Embedding), nil
}

func postJSON(ctx context.Context, client *http.Client, url string, request, response any) error {
	payload, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("infer: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("infer: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("infer: post %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("infer: post %s: unexpected status %s", url, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return fmt.Errorf("infer: decode response from %s: %w", url, err)
	}

	return nil
}
