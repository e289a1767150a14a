// Package search implements Search: lexical, semantic, and
// hybrid modes sharing one output envelope, Reciprocal Rank Fusion,
// recency/access boosting, per-language semantic thresholds, and a
// pluggable reranker.
package search

import (
	"context"
	"log/slog"
	"time"

	"github.com/aethercode/aether/pkg/store"
	"github.com/aethercode/aether/pkg/vector"
)

// Mode is a search request's retrieval strategy.
type Mode string

// Mode constants.
const (
	ModeLexical  Mode = "lexical"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

// Fallback reason constants — bounded-cardinality strings
const (
	FallbackStoreNotInitialized = "store_not_initialized"
	FallbackEmbeddingsDisabled  = "embeddings_disabled"
	FallbackEmptyQueryVector    = "empty_query_vector"
	FallbackNoMatchingPartition = "no_matching_partition"
	FallbackBelowThreshold      = "below_semantic_threshold"
)

// Match is one search result, carrying enough fields for every mode and
// for Unified Ask's cross-type merge to reuse it directly.
type Match struct {
	SymbolID       string
	Language       string
	Kind           string
	Name           string
	QualifiedName  string
	FilePath       string
	Score          float64 // fused/boosted relevance, mode-dependent scale
	SemanticScore  float64 // raw cosine similarity, only set by semantic/hybrid
	AccessCount    int
	LastAccessedAt time.Time
}

// Envelope is the shared output shape every search mode returns.
type Envelope struct {
	ModeRequested  Mode    `json:"mode_requested"`
	ModeUsed       Mode    `json:"mode_used"`
	FallbackReason string  `json:"fallback_reason,omitempty"`
	Matches        []Match `json:"matches"`
}

// Embedder embeds a query string into the vector space of a fixed
// (provider, model) partition.
type Embedder interface {
	Provider() string
	Model() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Reranker reorders (and may trim) the top window of fused candidates.
// "none" is the zero-value reranker: NoopReranker.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Match) ([]Match, error)
}

// NoopReranker returns candidates unchanged — the `reranker = "none"`
// configuration.
type NoopReranker struct{}

// Rerank implements Reranker by returning candidates as-is.
func (NoopReranker) Rerank(_ context.Context, _ string, candidates []Match) ([]Match, error) {
	return candidates, nil
}

// RecencyHalfLives bundles the per-context τ (half-life, in days) the
// recency/access boost uses — symbols and notes decay at different rates.
type RecencyHalfLives struct {
	Symbols time.Duration
	Notes   time.Duration
}

// DefaultRecencyHalfLives: symbols are read far more often than notes
// are written, so notes get a longer half-life before recency stops
// mattering.
var DefaultRecencyHalfLives = RecencyHalfLives{
	Symbols: 14 * 24 * time.Hour,
	Notes:   60 * 24 * time.Hour,
}

// Engine runs all three search modes against a Record Store, optional
// Vector Store, and optional Embedder/Reranker.
type Engine struct {
	store      *store.Store
	vec        *vector.Store // nil disables semantic mode entirely
	embed      Embedder      // nil disables semantic mode entirely
	reranker   Reranker
	thresholds Thresholds
	halfLives  RecencyHalfLives
	log        *slog.Logger
}

// Options configures an Engine.
type Options struct {
	Store      *store.Store
	Vector     *vector.Store
	Embedder   Embedder
	Reranker   Reranker // nil defaults to NoopReranker
	Thresholds Thresholds
	HalfLives  RecencyHalfLives // zero value uses DefaultRecencyHalfLives
	Log        *slog.Logger
}

// NewEngine constructs a search Engine.
func NewEngine(opts Options) *Engine {
	reranker := opts.Reranker
	if reranker == nil {
		reranker = NoopReranker{}
	}

	halfLives := opts.HalfLives
	if halfLives.Symbols == 0 {
		halfLives.Symbols = DefaultRecencyHalfLives.Symbols
	}

	if halfLives.Notes == 0 {
		halfLives.Notes = DefaultRecencyHalfLives.Notes
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	return &Engine{
		store:      opts.Store,
		vec:        opts.Vector,
		embed:      opts.Embedder,
		reranker:   reranker,
		thresholds: opts.Thresholds,
		halfLives:  halfLives,
		log:        log,
	}
}
