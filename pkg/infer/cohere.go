package infer

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/aethercode/aether/pkg/search"
)

// Cohere rerank defaults.
const (
	DefaultCohereRerankModel = "rerank-v3.5"
	cohereRerankEndpoint     = "https://api.cohere.com/v2/rerank"
	cohereRequestTimeout     = 30 * time.Second
)

// CohereReranker reorders hybrid-search candidates via Cohere's rerank API.
type CohereReranker struct {
	client *http.Client
	apiKey string
	model  string
}

// NewCohereReranker constructs a reranker from a raw API key.
func NewCohereReranker(apiKey, model string) (*CohereReranker, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	if model == "" {
		model = DefaultCohereRerankModel
	}

	return &CohereReranker{
		client: &http.Client{Timeout: cohereRequestTimeout},
		apiKey: apiKey,
		model:  model,
	}, nil
}

// Model returns the configured model name.
func (r *CohereReranker) Model() string { return r.model }

// Rerank implements search.Reranker: the candidate window is sent as
// documents and returned in the API's relevance order. On any transport
// failure the caller's fallback rules apply (the error propagates; hybrid
// search treats it as a provider failure).
func (r *CohereReranker) Rerank(ctx context.Context, query string, candidates []search.Match) ([]search.Match, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	documents := make([]string, len(candidates))
	for i, c := range candidates {
		documents[i] = c.QualifiedName + " (" + c.FilePath + ")"
	}

	request := map[string]any{
		"model":     r.model,
		"query":     query,
		"documents": documents,
		"top_n":     len(documents),
	}

	var response struct {
		Results []struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
		} `json:"results"`
	}

	authed := &authedClient{client: r.client, apiKey: r.apiKey}
	if err := postJSON(ctx, authed.httpClient(), cohereRerankEndpoint, request, &response); err != nil {
		return nil, err
	}

	if len(response.Results) == 0 {
		return candidates, nil
	}

	sort.SliceStable(response.Results, func(i, j int) bool {
		return response.Results[i].RelevanceScore > response.Results[j].RelevanceScore
	})

	out := make([]search.Match, 0, len(candidates))
	seen := make(map[int]bool, len(response.Results))

	for _, result := range response.Results {
		if result.Index < 0 || result.Index >= len(candidates) || seen[result.Index] {
			continue
		}

		seen[result.Index] = true

		out = append(out, candidates[result.Index])
	}

	for i, c := range candidates {
		if !seen[i] {
			out = append(out, c)
		}
	}

	return out, nil
}

// authedClient injects the bearer token on every request via a
// round-tripper, so postJSON stays shared with the unauthenticated local
// providers.
type authedClient struct {
	client *http.Client
	apiKey string
}

func (a *authedClient) httpClient() *http.Client {
	base := a.client.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	return &http.Client{
		Timeout:   a.client.Timeout,
		Transport: bearerTransport{base: base, token: a.apiKey},
	}
}

type bearerTransport struct {
	base  http.RoundTripper
	token string
}

func (t bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", "Bearer "+t.token)

	resp, err := t.base.RoundTrip(cloned)
	if err != nil {
		return nil, fmt.Errorf("cohere rerank: %w", err)
	}

	return resp, nil
}
