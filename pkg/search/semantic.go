package search

import "context"

// defaultSemanticTopK bounds how many ANN candidates semantic mode pulls
// before threshold gating and (in hybrid mode) fusion.
const defaultSemanticTopK = 50

// Semantic runs the embedding + ANN mode, falling back to lexical in a
// fixed order: store not initialized, embeddings disabled, empty query
// vector, no matching partition.
func (e *Engine) Semantic(ctx context.Context, query, language string, limit int) (Envelope, error) {
	matches, fallback, err := e.semanticMatches(ctx, query, language, limit)
	if err != nil {
		return Envelope{}, err
	}

	if fallback != "" {
		lex, lexErr := e.lexicalMatches(ctx, query, limit)
		if lexErr != nil {
			return Envelope{}, lexErr
		}

		return Envelope{
			ModeRequested:  ModeSemantic,
			ModeUsed:       ModeLexical,
			FallbackReason: fallback,
			Matches:        lex,
		}, nil
	}

	return Envelope{ModeRequested: ModeSemantic, ModeUsed: ModeSemantic, Matches: matches}, nil
}

// semanticMatches returns ("", matches, nil) on success, or a non-empty
// fallback reason (and nil matches) when semantic mode can't run.
func (e *Engine) semanticMatches(ctx context.Context, query, language string, limit int) ([]Match, string, error) {
	if e.vec == nil {
		return nil, FallbackStoreNotInitialized, nil
	}

	if e.embed == nil {
		return nil, FallbackEmbeddingsDisabled, nil
	}

	queryVec, err := e.embed.Embed(ctx, query)
	if err != nil {
		return nil, "", err
	}

	if len(queryVec) == 0 {
		return nil, FallbackEmptyQueryVector, nil
	}

	topK := limit
	if topK <= 0 || topK > defaultSemanticTopK {
		topK = defaultSemanticTopK
	}

	neighbors, err := e.vec.SearchNearest(ctx, e.embed.Provider(), e.embed.Model(), queryVec, topK)
	if err != nil {
		return nil, "", err
	}

	if len(neighbors) == 0 {
		return nil, FallbackNoMatchingPartition, nil
	}

	threshold := e.thresholds.For(language)

	matches := make([]Match, 0, len(neighbors))

	for _, n := range neighbors {
		if n.Score < threshold {
			continue
		}

		hit, hitErr := e.store.GetSymbolHit(ctx, n.SymbolID)
		if hitErr != nil {
			continue // symbol removed from the Record Store since it was embedded
		}

		match := matchFromHit(hit, n.Score)
		match.SemanticScore = n.Score
		matches = append(matches, match)
	}

	if len(matches) == 0 {
		// Neighbors existed but none cleared the per-language gate — a
		// threshold miss, not a partition miss.
		return nil, FallbackBelowThreshold, nil
	}

	return matches, "", nil
}
