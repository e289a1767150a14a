// Package config provides TOML-based workspace configuration for AETHER.
package config

// Inference defaults.
const (
	DefaultInferenceProvider       = "auto"
	DefaultInferenceSIRRetryBudget = 2
)

// Storage defaults.
const (
	DefaultStorageMirrorSIRFiles = true
	DefaultStorageGraphBackend   = "sqlite"
)

// Embeddings defaults.
const (
	DefaultEmbeddingsEnabled       = true
	DefaultEmbeddingsProvider      = "mock"
	DefaultEmbeddingsVectorBackend = "sqlite"
)

// Search defaults.
const (
	DefaultSearchReranker           = "none"
	DefaultSearchRerankWindow       = 10
	DefaultSearchThresholdDefault   = 0.55
	DefaultSearchThresholdRust      = 0.55
	DefaultSearchThresholdTypeScript = 0.5
	DefaultSearchThresholdPython    = 0.5
)

// Verify defaults.
const (
	DefaultVerifyMode = "host"
)

// Coupling analyzer defaults.
const (
	DefaultCouplingEnabled             = true
	DefaultCouplingCommitWindow        = 500
	DefaultCouplingMinCoChangeCount    = 3
	DefaultCouplingBulkCommitThreshold = 50
	DefaultCouplingTemporalWeight      = 0.5
	DefaultCouplingStaticWeight        = 0.3
	DefaultCouplingSemanticWeight      = 0.2
)

// Drift analyzer defaults.
const (
	DefaultDriftEnabled        = true
	DefaultDriftThreshold      = 0.3
	DefaultDriftAnalysisWindow = "30d"
	DefaultDriftAutoAnalyze    = false
	DefaultDriftHubPercentile  = 0.9
)
