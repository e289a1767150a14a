// Package config provides configuration loading and validation for the
// AETHER workspace engine.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrInvalidProvider       = errors.New("invalid inference provider")
	ErrInvalidGraphBackend   = errors.New("invalid graph backend")
	ErrInvalidVectorBackend  = errors.New("invalid embeddings vector backend")
	ErrInvalidEmbedProvider  = errors.New("invalid embeddings provider")
	ErrInvalidReranker       = errors.New("invalid search reranker")
	ErrInvalidRerankWindow   = errors.New("search rerank_window out of range")
	ErrInvalidVerifyMode     = errors.New("invalid verify mode")
	ErrInvalidRetryBudget    = errors.New("inference sir_retry_budget must be positive")
	ErrInvalidCouplingWeight = errors.New("coupling weights must be non-negative")
	ErrInvalidDriftThreshold = errors.New("drift drift_threshold must be in (0, 1]")
)

// Valid enumerations for the config surface.
var (
	validProviders      = []string{"auto", "mock", "gemini", "qwen3_local"}
	validGraphBackends  = []string{"cozo", "sqlite"}
	validEmbedProviders = []string{"mock", "qwen3_local", "candle"}
	validVectorBackends = []string{"lancedb", "sqlite"}
	validRerankers      = []string{"none", "candle", "cohere"}
	validVerifyModes    = []string{"host", "container", "microvm"}
)

const (
	minRerankWindow = 1
	maxRerankWindow = 50
)

// Config holds all configuration for the AETHER engine, mirroring the
// `.aether/config.toml` surface
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Inference  InferenceConfig  `mapstructure:"inference"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	Search     SearchConfig     `mapstructure:"search"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Verify     VerifyConfig     `mapstructure:"verify"`
	Coupling   CouplingConfig   `mapstructure:"coupling"`
	Drift      DriftConfig      `mapstructure:"drift"`
	Causal     CausalConfig     `mapstructure:"causal"`
	Intent     IntentConfig     `mapstructure:"intent"`
	Health     HealthConfig     `mapstructure:"health"`
}

// GeneralConfig holds workspace-wide settings.
type GeneralConfig struct {
	LogLevel string `mapstructure:"log_level"`
}

// InferenceConfig selects the SIR-generation provider.
type InferenceConfig struct {
	Provider       string `mapstructure:"provider"`
	Model          string `mapstructure:"model"`
	Endpoint       string `mapstructure:"endpoint"`
	APIKeyEnv      string `mapstructure:"api_key_env"`
	SIRRetryBudget int    `mapstructure:"sir_retry_budget"`
	SIRConcurrency int    `mapstructure:"sir_concurrency"`
}

// StorageConfig configures the Record and Graph Stores.
type StorageConfig struct {
	MirrorSIRFiles bool   `mapstructure:"mirror_sir_files"`
	GraphBackend   string `mapstructure:"graph_backend"`
}

// EmbeddingsConfig configures the Vector Store and embedding provider.
type EmbeddingsConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Provider         string `mapstructure:"provider"`
	VectorBackend    string `mapstructure:"vector_backend"`
	Model            string `mapstructure:"model"`
	Endpoint         string `mapstructure:"endpoint"`
	CandleModelDir   string `mapstructure:"candle_model_dir"`
}

// SearchThresholds holds per-language semantic-match thresholds.
type SearchThresholds struct {
	Default    float64 `mapstructure:"default"`
	Rust       float64 `mapstructure:"rust"`
	TypeScript float64 `mapstructure:"typescript"`
	Python     float64 `mapstructure:"python"`
}

// SearchConfig configures the Search/Ask engines.
type SearchConfig struct {
	Reranker             string           `mapstructure:"reranker"`
	RerankWindow          int              `mapstructure:"rerank_window"`
	Thresholds            SearchThresholds `mapstructure:"thresholds"`
	CalibratedThresholds map[string]float64 `mapstructure:"calibrated_thresholds"`
	CandleModelDir        string           `mapstructure:"candle_model_dir"`
}

// ProvidersConfig holds per-provider credential configuration.
type ProvidersConfig struct {
	Cohere CohereConfig `mapstructure:"cohere"`
}

// CohereConfig holds Cohere-specific reranker settings.
type CohereConfig struct {
	APIKeyEnv string `mapstructure:"api_key_env"`
}

// VerifyContainerConfig configures container-mode verification.
type VerifyContainerConfig struct {
	Image string `mapstructure:"image"`
}

// VerifyMicroVMConfig configures microVM-mode verification.
type VerifyMicroVMConfig struct {
	Image string `mapstructure:"image"`
}

// VerifyConfig configures the SIR verification command runner (contract
// only — the runner implementation is out of scope, see ).
type VerifyConfig struct {
	Commands  []string              `mapstructure:"commands"`
	Mode      string                `mapstructure:"mode"`
	Container VerifyContainerConfig `mapstructure:"container"`
	MicroVM   VerifyMicroVMConfig   `mapstructure:"microvm"`
}

// CouplingConfig configures coupling mining.
type CouplingConfig struct {
	Enabled             bool     `mapstructure:"enabled"`
	CommitWindow        int      `mapstructure:"commit_window"`
	MinCoChangeCount    int      `mapstructure:"min_co_change_count"`
	ExcludePatterns     []string `mapstructure:"exclude_patterns"`
	BulkCommitThreshold int      `mapstructure:"bulk_commit_threshold"`
	TemporalWeight      float64  `mapstructure:"temporal_weight"`
	StaticWeight        float64  `mapstructure:"static_weight"`
	SemanticWeight      float64  `mapstructure:"semantic_weight"`
}

// DriftConfig configures drift analysis.
type DriftConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	DriftThreshold float64 `mapstructure:"drift_threshold"`
	AnalysisWindow string  `mapstructure:"analysis_window"`
	AutoAnalyze    bool    `mapstructure:"auto_analyze"`
	HubPercentile  float64 `mapstructure:"hub_percentile"`
}

// CausalConfig configures trace-cause defaults and clamp bounds.
type CausalConfig struct {
	DefaultLookback string `mapstructure:"default_lookback"`
	DefaultMaxDepth int    `mapstructure:"default_max_depth"`
	MaxDepthLimit   int    `mapstructure:"max_depth_limit"`
	DefaultLimit    int    `mapstructure:"default_limit"`
	MaxLimit        int    `mapstructure:"max_limit"`
}

// IntentConfig configures snapshot/verify-intent classification.
type IntentConfig struct {
	SimilarityPreservedThreshold float64 `mapstructure:"similarity_preserved_threshold"`
	SimilarityShiftedThreshold  float64 `mapstructure:"similarity_shifted_threshold"`
}

// HealthRiskWeights are the per-factor weights of the health risk composition.
type HealthRiskWeights struct {
	PageRank float64 `mapstructure:"pagerank"`
	TestGap  float64 `mapstructure:"test_gap"`
	Drift    float64 `mapstructure:"drift"`
	NoSIR    float64 `mapstructure:"no_sir"`
	Recency  float64 `mapstructure:"recency"`
}

// HealthConfig configures health reporting.
type HealthConfig struct {
	Enabled     bool              `mapstructure:"enabled"`
	RiskWeights HealthRiskWeights `mapstructure:"risk_weights"`
}

// LoadResult bundles the parsed config with non-fatal semantic warnings.
type LoadResult struct {
	Config   *Config
	Warnings []string
}

// LoadConfig loads `.aether/config.toml` (or the given path) plus
// environment variable overrides. Parse failures are fatal; semantic
// contradictions (e.g. a verify mode with no image configured) are returned as
// non-fatal warnings alongside the config.
func LoadConfig(configPath string) (*LoadResult, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("config")
		viperCfg.SetConfigType("toml")
		viperCfg.AddConfigPath(".aether")
		viperCfg.AddConfigPath(".")
	}

	viperCfg.SetConfigType("toml")
	viperCfg.SetEnvPrefix("AETHER")
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &LoadResult{
		Config:   &cfg,
		Warnings: semanticWarnings(&cfg, viperCfg),
	}, nil
}

// setDefaults sets every configuration default, including the recorded
// sir_retry_budget and rerank_window decisions.
func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("general.log_level", "info")

	viperCfg.SetDefault("inference.provider", "auto")
	viperCfg.SetDefault("inference.api_key_env", "")
	viperCfg.SetDefault("inference.sir_retry_budget", 2)
	viperCfg.SetDefault("inference.sir_concurrency", 4)

	viperCfg.SetDefault("storage.mirror_sir_files", true)
	viperCfg.SetDefault("storage.graph_backend", "sqlite")

	viperCfg.SetDefault("embeddings.enabled", true)
	viperCfg.SetDefault("embeddings.provider", "mock")
	viperCfg.SetDefault("embeddings.vector_backend", "sqlite")

	viperCfg.SetDefault("search.reranker", "none")
	viperCfg.SetDefault("search.rerank_window", 10)
	viperCfg.SetDefault("search.thresholds.default", 0.55)
	viperCfg.SetDefault("search.thresholds.rust", 0.55)
	viperCfg.SetDefault("search.thresholds.typescript", 0.5)
	viperCfg.SetDefault("search.thresholds.python", 0.5)

	viperCfg.SetDefault("providers.cohere.api_key_env", "COHERE_API_KEY")

	viperCfg.SetDefault("verify.mode", "host")

	viperCfg.SetDefault("coupling.enabled", true)
	viperCfg.SetDefault("coupling.commit_window", 500)
	viperCfg.SetDefault("coupling.min_co_change_count", 3)
	viperCfg.SetDefault("coupling.bulk_commit_threshold", 50)
	viperCfg.SetDefault("coupling.temporal_weight", 0.5)
	viperCfg.SetDefault("coupling.static_weight", 0.3)
	viperCfg.SetDefault("coupling.semantic_weight", 0.2)

	viperCfg.SetDefault("drift.enabled", true)
	viperCfg.SetDefault("drift.drift_threshold", 0.3)
	viperCfg.SetDefault("drift.analysis_window", "30d")
	viperCfg.SetDefault("drift.auto_analyze", false)
	viperCfg.SetDefault("drift.hub_percentile", 0.9)

	viperCfg.SetDefault("causal.default_lookback", "20 commits")
	viperCfg.SetDefault("causal.default_max_depth", 5)
	viperCfg.SetDefault("causal.max_depth_limit", 10)
	viperCfg.SetDefault("causal.default_limit", 5)
	viperCfg.SetDefault("causal.max_limit", 50)

	viperCfg.SetDefault("intent.similarity_preserved_threshold", 0.90)
	viperCfg.SetDefault("intent.similarity_shifted_threshold", 0.70)

	viperCfg.SetDefault("health.enabled", true)
	viperCfg.SetDefault("health.risk_weights.pagerank", 0.3)
	viperCfg.SetDefault("health.risk_weights.test_gap", 0.25)
	viperCfg.SetDefault("health.risk_weights.drift", 0.2)
	viperCfg.SetDefault("health.risk_weights.no_sir", 0.15)
	viperCfg.SetDefault("health.risk_weights.recency", 0.1)
}

// validateConfig rejects structurally invalid configuration (unknown
// enum selections, out-of-range values). Parse failures are handled by
// LoadConfig before this runs; this only validates the unmarshaled struct.
func validateConfig(cfg *Config) error {
	if !contains(validProviders, cfg.Inference.Provider) {
		return fmt.Errorf("%w: %q", ErrInvalidProvider, cfg.Inference.Provider)
	}

	if cfg.Inference.SIRRetryBudget <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRetryBudget, cfg.Inference.SIRRetryBudget)
	}

	if !contains(validGraphBackends, cfg.Storage.GraphBackend) {
		return fmt.Errorf("%w: %q", ErrInvalidGraphBackend, cfg.Storage.GraphBackend)
	}

	if cfg.Embeddings.Enabled {
		if !contains(validEmbedProviders, cfg.Embeddings.Provider) {
			return fmt.Errorf("%w: %q", ErrInvalidEmbedProvider, cfg.Embeddings.Provider)
		}

		if !contains(validVectorBackends, cfg.Embeddings.VectorBackend) {
			return fmt.Errorf("%w: %q", ErrInvalidVectorBackend, cfg.Embeddings.VectorBackend)
		}
	}

	if !contains(validRerankers, cfg.Search.Reranker) {
		return fmt.Errorf("%w: %q", ErrInvalidReranker, cfg.Search.Reranker)
	}

	if cfg.Search.RerankWindow < minRerankWindow || cfg.Search.RerankWindow > maxRerankWindow {
		return fmt.Errorf("%w: %d", ErrInvalidRerankWindow, cfg.Search.RerankWindow)
	}

	if !contains(validVerifyModes, cfg.Verify.Mode) {
		return fmt.Errorf("%w: %q", ErrInvalidVerifyMode, cfg.Verify.Mode)
	}

	if cfg.Coupling.TemporalWeight < 0 || cfg.Coupling.StaticWeight < 0 || cfg.Coupling.SemanticWeight < 0 {
		return ErrInvalidCouplingWeight
	}

	if cfg.Drift.DriftThreshold <= 0 || cfg.Drift.DriftThreshold > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidDriftThreshold, cfg.Drift.DriftThreshold)
	}

	return nil
}

// semanticWarnings collects non-fatal contradictions that should warn
// rather than fail the load, e.g. microvm verification mode selected with
// no microvm image configured.
func semanticWarnings(cfg *Config, v *viper.Viper) []string {
	var warnings []string

	if cfg.Storage.GraphBackend == "cozo" {
		warnings = append(warnings,
			"storage.graph_backend = \"cozo\" has no driver available; falling back to sqlite")
	}

	if cfg.Verify.Mode == "container" && cfg.Verify.Container.Image == "" {
		warnings = append(warnings, "verify.mode = \"container\" but verify.container.image is empty")
	}

	if cfg.Verify.Mode == "microvm" && cfg.Verify.MicroVM.Image == "" {
		warnings = append(warnings, "verify.mode = \"microvm\" but verify.microvm.image is empty")
	}

	if cfg.Search.Reranker == "cohere" && cfg.Providers.Cohere.APIKeyEnv == "" {
		warnings = append(warnings, "search.reranker = \"cohere\" but providers.cohere.api_key_env is empty")
	}

	warnings = append(warnings, unknownKeyWarnings(v)...)

	return warnings
}

// knownTopLevelKeys lists the only top-level tables the core honors;
// anything else is an unknown key ("unknown keys warn").
var knownTopLevelKeys = map[string]bool{
	"general": true, "inference": true, "storage": true, "embeddings": true,
	"search": true, "providers": true, "verify": true, "coupling": true, "drift": true,
	"causal": true, "intent": true, "health": true,
}

func unknownKeyWarnings(v *viper.Viper) []string {
	var warnings []string

	for _, key := range v.AllKeys() {
		top, _, _ := strings.Cut(key, ".")
		if !knownTopLevelKeys[top] {
			warnings = append(warnings, fmt.Sprintf("unknown config key: %s", key))
		}
	}

	return warnings
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}

	return false
}
