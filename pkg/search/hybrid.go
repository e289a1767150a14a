package search

import (
	"context"
	"time"
)

// defaultRerankWindow bounds how many of the fused top results get passed
// to the reranker, when the caller doesn't specify one.
const defaultRerankWindow = 20

// Hybrid runs lexical and semantic concurrently-equivalent (sequentially
// here; both are already fast local operations), fuses with RRF, applies
// the recency/access boost, and reranks the top window. Per-language
// thresholds have already gated semantic candidates inside Semantic/
// semanticMatches, so fusion only ever sees matches that cleared the bar.
func (e *Engine) Hybrid(ctx context.Context, query, language string, limit, rerankWindow int) (Envelope, error) {
	lexMatches, err := e.lexicalMatches(ctx, query, limit)
	if err != nil {
		return Envelope{}, err
	}

	semMatches, fallback, err := e.semanticMatches(ctx, query, language, limit)
	if err != nil {
		return Envelope{}, err
	}

	fused := rrfFuse(lexMatches, semMatches)
	fused = applyBoost(fused, e.halfLives.Symbols, time.Now())

	resortByScore(fused)

	if rerankWindow <= 0 {
		rerankWindow = defaultRerankWindow
	}

	window := fused
	rest := []Match(nil)

	if len(fused) > rerankWindow {
		window = fused[:rerankWindow]
		rest = fused[rerankWindow:]
	}

	reranked, err := e.reranker.Rerank(ctx, query, window)
	if err != nil {
		return Envelope{}, err
	}

	result := append(reranked, rest...)

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	env := Envelope{ModeRequested: ModeHybrid, ModeUsed: ModeHybrid, Matches: result}

	if fallback != "" {
		env.FallbackReason = fallback
	}

	return env, nil
}

// Search dispatches to the requested mode — the single entry point
// cmd/aetherd and pkg/ask call.
func (e *Engine) Search(ctx context.Context, mode Mode, query, language string, limit, rerankWindow int) (Envelope, error) {
	switch mode {
	case ModeSemantic:
		return e.Semantic(ctx, query, language, limit)
	case ModeHybrid:
		return e.Hybrid(ctx, query, language, limit, rerankWindow)
	case ModeLexical:
		fallthrough
	default:
		return e.Lexical(ctx, query, limit)
	}
}

func resortByScore(matches []Match) {
	// Sort is stable so RRF's symbol_id tiebreak from rrfFuse survives
	// equal post-boost scores.
	stableSortByScoreDesc(matches)
}
