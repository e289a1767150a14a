package infer

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aethercode/aether/pkg/config"
	"github.com/aethercode/aether/pkg/search"
	"github.com/aethercode/aether/pkg/sir"
)

// DefaultGeminiAPIKeyEnv is consulted by auto-selection when
// [inference].api_key_env is unset.
const DefaultGeminiAPIKeyEnv = "GEMINI_API_KEY"

// DefaultCohereAPIKeyEnv is consulted when [providers.cohere].api_key_env
// is unset.
const DefaultCohereAPIKeyEnv = "COHERE_API_KEY"

// LoadedProvider is a concrete inference provider plus the bookkeeping
// strings persisted alongside everything it generates.
type LoadedProvider struct {
	Provider     sir.Provider
	ProviderName string
	ModelName    string
}

// LoadedEmbedder is a concrete embedding provider plus bookkeeping.
type LoadedEmbedder struct {
	Embedder     search.Embedder
	ProviderName string
	ModelName    string
}

// LoadedReranker is a concrete reranker plus bookkeeping. A nil value
// means reranking is off.
type LoadedReranker struct {
	Reranker     search.Reranker
	ProviderName string
	ModelName    string
}

// LoadProvider selects the inference provider from config. `auto` picks
// gemini when the API key env is populated and mock otherwise.
func LoadProvider(ctx context.Context, cfg config.InferenceConfig) (LoadedProvider, error) {
	apiKeyEnv := cfg.APIKeyEnv
	if apiKeyEnv == "" {
		apiKeyEnv = DefaultGeminiAPIKeyEnv
	}

	switch cfg.Provider {
	case "mock":
		return LoadedProvider{Provider: MockProvider{}, ProviderName: "mock", ModelName: "mock"}, nil

	case "gemini":
		provider, err := NewGeminiProvider(ctx, envNonEmpty(apiKeyEnv), cfg.Model)
		if err != nil {
			return LoadedProvider{}, fmt.Errorf("load gemini provider (env %s): %w", apiKeyEnv, err)
		}

		return LoadedProvider{Provider: provider, ProviderName: "gemini", ModelName: provider.Model()}, nil

	case "qwen3_local":
		provider := NewQwen3LocalProvider(cfg.Endpoint, cfg.Model)

		return LoadedProvider{Provider: provider, ProviderName: "qwen3_local", ModelName: provider.Model()}, nil

	case "auto", "":
		if apiKey := envNonEmpty(apiKeyEnv); apiKey != "" {
			provider, err := NewGeminiProvider(ctx, apiKey, cfg.Model)
			if err != nil {
				return LoadedProvider{}, fmt.Errorf("load gemini provider (auto): %w", err)
			}

			return LoadedProvider{Provider: provider, ProviderName: "gemini", ModelName: provider.Model()}, nil
		}

		return LoadedProvider{Provider: MockProvider{}, ProviderName: "mock", ModelName: "mock"}, nil

	default:
		return LoadedProvider{}, fmt.Errorf("load provider: unknown provider %q", cfg.Provider)
	}
}

// LoadEmbedder selects the embedding provider from config, or returns
// (zero, false) when embeddings are disabled. The `candle` selection has
// no on-device runtime in this build; it degrades to the mock embedder so
// embedding-dependent subsystems keep a working (if weak) vector space
// rather than losing the feature outright.
func LoadEmbedder(cfg config.EmbeddingsConfig) (LoadedEmbedder, bool, []string) {
	if !cfg.Enabled {
		return LoadedEmbedder{}, false, nil
	}

	var warnings []string

	switch cfg.Provider {
	case "qwen3_local":
		embedder := NewQwen3LocalEmbedder(cfg.Endpoint, cfg.Model)

		return LoadedEmbedder{Embedder: embedder, ProviderName: "qwen3_local", ModelName: embedder.Model()}, true, nil

	case "candle":
		warnings = append(warnings,
			"embeddings.provider = \"candle\" has no on-device runtime in this build; using mock embeddings")

		fallthrough

	default: // mock
		return LoadedEmbedder{
			Embedder:     MockEmbedder{},
			ProviderName: "mock",
			ModelName:    fmt.Sprintf("mock-%dd", MockEmbeddingDim),
		}, true, warnings
	}
}

// LoadReranker selects the reranker, or returns (zero, false) for `none`.
// `candle` degrades to none with a warning for the same no-runtime reason
// as LoadEmbedder.
func LoadReranker(searchCfg config.SearchConfig, providers config.ProvidersConfig) (LoadedReranker, bool, []string, error) {
	switch searchCfg.Reranker {
	case "", "none":
		return LoadedReranker{}, false, nil, nil

	case "candle":
		return LoadedReranker{}, false,
			[]string{"search.reranker = \"candle\" has no on-device runtime in this build; reranking disabled"}, nil

	case "cohere":
		apiKeyEnv := providers.Cohere.APIKeyEnv
		if apiKeyEnv == "" {
			apiKeyEnv = DefaultCohereAPIKeyEnv
		}

		reranker, err := NewCohereReranker(envNonEmpty(apiKeyEnv), DefaultCohereRerankModel)
		if err != nil {
			return LoadedReranker{}, false, nil,
				fmt.Errorf("load cohere reranker (env %s): %w", apiKeyEnv, err)
		}

		return LoadedReranker{
			Reranker:     reranker,
			ProviderName: "cohere",
			ModelName:    reranker.Model(),
		}, true, nil, nil

	default:
		return LoadedReranker{}, false, nil, fmt.Errorf("load reranker: unknown reranker %q", searchCfg.Reranker)
	}
}

func envNonEmpty(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}
