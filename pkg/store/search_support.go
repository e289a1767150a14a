package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aethercode/aether/pkg/uast"
)

// SymbolHit is a symbol row plus the access/recency metadata search's
// deterministic ordering and recency/access boost need, which plain
// uast.Symbol doesn't carry (it only models parsed identity, not usage
// stats the store tracks after the fact).
type SymbolHit struct {
	Symbol         uast.Symbol
	AccessCount    int
	LastAccessedAt time.Time
}

// SearchSymbolsForQuery performs the case-insensitive substring match over
// qualified_name, name, file_path, language, and kind that the
// lexical mode specifies, ordered by (access_count desc, last_accessed_at
// desc, symbol_id asc) — score is computed by the caller from match
// locality, so only the tie-break columns are ordered here.
func (s *Store) SearchSymbolsForQuery(ctx context.Context, query string, limit int) ([]SymbolHit, error) {
	like := "%" + strings.ToLower(query) + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, language, file_path, kind, name, qualified_name, signature_fingerprint,
			content_hash, start_line, start_col, end_line, end_col, access_count, last_accessed_at
		FROM symbols
		WHERE removed_at IS NULL AND (
			LOWER(qualified_name) LIKE ? OR LOWER(name) LIKE ? OR LOWER(file_path) LIKE ?
			OR LOWER(language) LIKE ? OR LOWER(kind) LIKE ?)
		ORDER BY access_count DESC, last_accessed_at DESC, id ASC
		LIMIT ?`, like, like, like, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("search symbols for query: %w", err)
	}
	defer rows.Close()

	return scanSymbolHits(rows)
}

// GetSymbolHit returns a single live symbol's hit row by id — used to
// attach access/recency metadata to semantic-mode matches, which arrive
// from the Vector Store as bare symbol ids.
func (s *Store) GetSymbolHit(ctx context.Context, id string) (SymbolHit, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, language, file_path, kind, name, qualified_name, signature_fingerprint,
			content_hash, start_line, start_col, end_line, end_col, access_count, last_accessed_at
		FROM symbols WHERE id = ? AND removed_at IS NULL`, id)

	hit, err := scanSymbolHitRow(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SymbolHit{}, ErrNotFound
		}

		return SymbolHit{}, fmt.Errorf("get symbol hit: %w", err)
	}

	return hit, nil
}

func scanSymbolHits(rows *sql.Rows) ([]SymbolHit, error) {
	var out []SymbolHit

	for rows.Next() {
		hit, err := scanSymbolHitRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan symbol hit: %w", err)
		}

		out = append(out, hit)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func scanSymbolHitRow(scan func(dest ...any) error) (SymbolHit, error) {
	var hit SymbolHit

	var kind string

	var lastAccessed int64

	err := scan(&hit.Symbol.ID, &hit.Symbol.Language, &hit.Symbol.FilePath, &kind, &hit.Symbol.Name,
		&hit.Symbol.QualifiedName, &hit.Symbol.SignatureFingerprint, &hit.Symbol.ContentHash,
		&hit.Symbol.Range.StartLine, &hit.Symbol.Range.StartCol, &hit.Symbol.Range.EndLine, &hit.Symbol.Range.EndCol,
		&hit.AccessCount, &lastAccessed)
	if err != nil {
		return SymbolHit{}, err
	}

	hit.Symbol.Kind = uast.SymbolKind(kind)

	if lastAccessed > 0 {
		hit.LastAccessedAt = time.Unix(lastAccessed, 0)
	}

	return hit, nil
}
