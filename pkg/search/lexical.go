package search

import (
	"context"
	"fmt"
	"sort"

	"github.com/aethercode/aether/pkg/store"
)

// Lexical runs the substring-match mode: token + substring over
// qualified_name, name, file_path, language, and kind, with deterministic
// ordering by (score desc, access_count desc, last_accessed_at desc,
// symbol_id asc)
func (e *Engine) Lexical(ctx context.Context, query string, limit int) (Envelope, error) {
	matches, err := e.lexicalMatches(ctx, query, limit)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{ModeRequested: ModeLexical, ModeUsed: ModeLexical, Matches: matches}, nil
}

func (e *Engine) lexicalMatches(ctx context.Context, query string, limit int) ([]Match, error) {
	hits, err := e.store.SearchSymbolsForQuery(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	matches := make([]Match, len(hits))
	for i, hit := range hits {
		matches[i] = matchFromHit(hit, lexicalScore(hit, query))
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}

		if matches[i].AccessCount != matches[j].AccessCount {
			return matches[i].AccessCount > matches[j].AccessCount
		}

		if !matches[i].LastAccessedAt.Equal(matches[j].LastAccessedAt) {
			return matches[i].LastAccessedAt.After(matches[j].LastAccessedAt)
		}

		return matches[i].SymbolID < matches[j].SymbolID
	})

	return matches, nil
}

// lexicalScore ranks an exact qualified-name match above a substring match
// of the bare name, above a match found only in file_path/language/kind.
func lexicalScore(hit store.SymbolHit, query string) float64 {
	switch {
	case equalFold(hit.Symbol.QualifiedName, query):
		return 1.0
	case contains(hit.Symbol.QualifiedName, query) || contains(hit.Symbol.Name, query):
		return 0.75
	default:
		return 0.5
	}
}

func matchFromHit(hit store.SymbolHit, score float64) Match {
	return Match{
		SymbolID:       hit.Symbol.ID,
		Language:       hit.Symbol.Language,
		Kind:           string(hit.Symbol.Kind),
		Name:           hit.Symbol.Name,
		QualifiedName:  hit.Symbol.QualifiedName,
		FilePath:       hit.Symbol.FilePath,
		Score:          score,
		AccessCount:    hit.AccessCount,
		LastAccessedAt: hit.LastAccessedAt,
	}
}
