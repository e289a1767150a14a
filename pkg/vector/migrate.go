package vector

import (
	"context"
	"fmt"
	"time"
)

// LegacyEmbedding mirrors pkg/store.LegacyEmbedding's shape. Callers (the
// indexer) convert from pkg/store.LegacyEmbedding to this type — kept
// separate so pkg/vector does not import pkg/store, avoiding a dependency
// cycle since pkg/store's SIR operations are a natural future consumer of
// pkg/vector for search-backed SIR lookups.
type LegacyEmbedding struct {
	SymbolID string
	Provider string
	Model    string
	Dim      int
	Vector   []byte
}

// MarkMigratedFunc persists the fact that a legacy row has been migrated —
// typically pkg/store.Store.MarkEmbeddingMigrated.
type MarkMigratedFunc func(ctx context.Context, symbolID string) error

// MigrateLegacy performs the one-time migration of pre-Vector-Store
// embedding rows out of the Record Store into this Store, marking each
// source row migrated as it lands so the migration is resumable and
// idempotent if interrupted partway through.
func (s *Store) MigrateLegacy(ctx context.Context, rows []LegacyEmbedding, markMigrated MarkMigratedFunc, now time.Time) (migrated int, err error) {
	for _, row := range rows {
		vec := decodeVector(row.Vector)
		if len(vec) != row.Dim {
			continue
		}

		if err := s.UpsertEmbedding(ctx, row.SymbolID, row.Provider, row.Model, vec, now); err != nil {
			return migrated, fmt.Errorf("migrate embedding for %s: %w", row.SymbolID, err)
		}

		if err := markMigrated(ctx, row.SymbolID); err != nil {
			return migrated, fmt.Errorf("mark embedding migrated for %s: %w", row.SymbolID, err)
		}

		migrated++
	}

	return migrated, nil
}
