// Package store implements the Record Store: the
// SQLite-backed relational store of record-kind state — symbols, SIR
// blobs/meta/history, notes, test intents, drift results, coupling edges
// and mining state, intent snapshots, and legacy embedding rows pending
// migration to the Vector Store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aethercode/aether/pkg/uast"
)

// Sentinel errors.
var (
	ErrNotFound = errors.New("store: record not found")
	ErrBusy     = errors.New("store: database busy")
)

const (
	busyRetryAttempts = 5
	busyRetryBase     = 20 * time.Millisecond
)

// Store is a single-writer-per-relation handle onto `.aether/meta.sqlite`.
// Reads may run concurrently; writes are serialized by SQLite's own
// file-level locking, with bounded exponential backoff on SQLITE_BUSY.
type Store struct {
	db     *sql.DB
	log    *slog.Logger
	dbPath string

	accessMu       sync.Mutex
	lastAccessBump map[string]time.Time
}

// accessDebounceWindow suppresses a second access-count increment for the
// same symbol inside this window (hover fires on every cursor move).
const accessDebounceWindow = 30 * time.Second

// Open opens (creating if absent) the SQLite database at dbPath and applies
// the schema.
func Open(ctx context.Context, dbPath string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(2000)")
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}

	db.SetMaxOpenConns(1) // single-writer discipline; modernc.org/sqlite is not safe for concurrent writers across connections.

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA synchronous=NORMAL;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()

			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, log: log, dbPath: dbPath, lastAccessBump: make(map[string]time.Time)}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// withBusyRetry runs fn, retrying with bounded exponential backoff when
// SQLite reports the database as locked/busy.
func (s *Store) withBusyRetry(ctx context.Context, fn func() error) error {
	var err error

	for attempt := range busyRetryAttempts {
		err = fn()
		if err == nil {
			return nil
		}

		if !isBusyErr(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(busyRetryBase << attempt):
		}
	}

	return fmt.Errorf("%w: %w", ErrBusy, err)
}

func isBusyErr(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "SQLITE_BUSY") || strings.Contains(err.Error(), "database is locked"))
}

// UpsertSymbol inserts or updates a symbol record, clearing any prior
// removed_at tombstone (a symbol re-seen by the indexer is live again).
func (s *Store) UpsertSymbol(ctx context.Context, sym uast.Symbol, now time.Time) error {
	return s.withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO symbols (id, language, file_path, kind, name, qualified_name,
				signature_fingerprint, content_hash, start_line, start_col, end_line, end_col,
				removed_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)
			ON CONFLICT(id) DO UPDATE SET
				language=excluded.language, file_path=excluded.file_path, kind=excluded.kind,
				name=excluded.name, qualified_name=excluded.qualified_name,
				signature_fingerprint=excluded.signature_fingerprint, content_hash=excluded.content_hash,
				start_line=excluded.start_line, start_col=excluded.start_col,
				end_line=excluded.end_line, end_col=excluded.end_col,
				removed_at=NULL, updated_at=excluded.updated_at`,
			sym.ID, sym.Language, sym.FilePath, string(sym.Kind), sym.Name, sym.QualifiedName,
			sym.SignatureFingerprint, sym.ContentHash,
			sym.Range.StartLine, sym.Range.StartCol, sym.Range.EndLine, sym.Range.EndCol,
			now.Unix())

		return err
	})
}

// MarkRemoved tombstones every symbol in filePath not present in keepIDs —
// the per-file resync step the indexer runs after reparsing a changed file.
func (s *Store) MarkRemoved(ctx context.Context, filePath string, keepIDs []string, now time.Time) error {
	return s.withBusyRetry(ctx, func() error {
		placeholders := make([]string, len(keepIDs))
		args := make([]any, 0, len(keepIDs)+2)
		args = append(args, now.Unix(), filePath)

		for i, id := range keepIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}

		query := `UPDATE symbols SET removed_at = ? WHERE file_path = ? AND removed_at IS NULL`
		if len(keepIDs) > 0 {
			query += fmt.Sprintf(" AND id NOT IN (%s)", strings.Join(placeholders, ","))
		}

		_, err := s.db.ExecContext(ctx, query, args...)

		return err
	})
}

// ListSymbolsForFile returns every live (non-removed) symbol recorded for
// filePath.
func (s *Store) ListSymbolsForFile(ctx context.Context, filePath string) ([]uast.Symbol, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, language, file_path, kind, name, qualified_name, signature_fingerprint,
			content_hash, start_line, start_col, end_line, end_col
		FROM symbols WHERE file_path = ? AND removed_at IS NULL ORDER BY id`, filePath)
	if err != nil {
		return nil, fmt.Errorf("list symbols for file: %w", err)
	}
	defer rows.Close()

	return scanSymbols(rows)
}

// ListSymbols returns every live symbol in the workspace, ordered by id —
// the whole-corpus view the health report scores over.
func (s *Store) ListSymbols(ctx context.Context) ([]uast.Symbol, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, language, file_path, kind, name, qualified_name, signature_fingerprint,
			content_hash, start_line, start_col, end_line, end_col
		FROM symbols WHERE removed_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	defer rows.Close()

	return scanSymbols(rows)
}

// ListSymbolFilesByDirectoryPrefix returns the distinct, live file paths
// recorded under dirPrefix, feeding intent snapshot's directory-scoped intent
// snapshot/verify.
func (s *Store) ListSymbolFilesByDirectoryPrefix(ctx context.Context, dirPrefix string) ([]string, error) {
	prefix := strings.TrimSuffix(dirPrefix, "/") + "/"

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT file_path FROM symbols
		WHERE removed_at IS NULL AND (file_path = ? OR file_path LIKE ? ESCAPE '\')
		ORDER BY file_path`, dirPrefix, likeEscape(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("list symbol files by directory prefix: %w", err)
	}
	defer rows.Close()

	var files []string

	for rows.Next() {
		var file string
		if err := rows.Scan(&file); err != nil {
			return nil, fmt.Errorf("scan directory file: %w", err)
		}

		files = append(files, file)
	}

	return files, rows.Err()
}

func likeEscape(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

	return replacer.Replace(s)
}

// GetSymbolRecord returns a single symbol by id, including tombstoned ones.
func (s *Store) GetSymbolRecord(ctx context.Context, id string) (uast.Symbol, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, language, file_path, kind, name, qualified_name, signature_fingerprint,
			content_hash, start_line, start_col, end_line, end_col
		FROM symbols WHERE id = ?`, id)

	var sym uast.Symbol

	var kind string

	err := row.Scan(&sym.ID, &sym.Language, &sym.FilePath, &kind, &sym.Name, &sym.QualifiedName,
		&sym.SignatureFingerprint, &sym.ContentHash,
		&sym.Range.StartLine, &sym.Range.StartCol, &sym.Range.EndLine, &sym.Range.EndCol)
	if errors.Is(err, sql.ErrNoRows) {
		return uast.Symbol{}, ErrNotFound
	}

	if err != nil {
		return uast.Symbol{}, fmt.Errorf("get symbol record: %w", err)
	}

	sym.Kind = uast.SymbolKind(kind)

	return sym, nil
}

// SearchSymbolsLexical performs a case-insensitive substring match over
// qualified_name and name, ordered by access_count desc, feeding search's
// lexical mode.
func (s *Store) SearchSymbolsLexical(ctx context.Context, query string, limit int) ([]uast.Symbol, error) {
	like := "%" + strings.ToLower(query) + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, language, file_path, kind, name, qualified_name, signature_fingerprint,
			content_hash, start_line, start_col, end_line, end_col
		FROM symbols
		WHERE removed_at IS NULL AND (LOWER(qualified_name) LIKE ? OR LOWER(name) LIKE ?)
		ORDER BY access_count DESC, id ASC LIMIT ?`, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("search symbols lexical: %w", err)
	}
	defer rows.Close()

	return scanSymbols(rows)
}

func scanSymbols(rows *sql.Rows) ([]uast.Symbol, error) {
	var out []uast.Symbol

	for rows.Next() {
		var sym uast.Symbol

		var kind string

		if err := rows.Scan(&sym.ID, &sym.Language, &sym.FilePath, &kind, &sym.Name, &sym.QualifiedName,
			&sym.SignatureFingerprint, &sym.ContentHash,
			&sym.Range.StartLine, &sym.Range.StartCol, &sym.Range.EndLine, &sym.Range.EndCol); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}

		sym.Kind = uast.SymbolKind(kind)
		out = append(out, sym)
	}

	return out, rows.Err()
}

// IncrementSymbolAccess bumps access_count and last_accessed_at for id,
// the side effect search and unified ask apply to every symbol returned in a result set.
func (s *Store) IncrementSymbolAccess(ctx context.Context, id string, now time.Time) error {
	return s.withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE symbols SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`,
			now.Unix(), id)

		return err
	})
}

// IncrementSymbolAccessDebounced is IncrementSymbolAccess with a short
// suppression window per id, for high-frequency callers like hover.
func (s *Store) IncrementSymbolAccessDebounced(ctx context.Context, id string, now time.Time) error {
	s.accessMu.Lock()

	if last, ok := s.lastAccessBump[id]; ok && now.Sub(last) < accessDebounceWindow {
		s.accessMu.Unlock()

		return nil
	}

	s.lastAccessBump[id] = now
	s.accessMu.Unlock()

	return s.IncrementSymbolAccess(ctx, id, now)
}

// UpsertEdges replaces every edge whose FilePath matches the first edge's
// file with the given set — the per-file idempotent edge resync the
// indexer runs after UpsertSymbol/MarkRemoved.
func (s *Store) UpsertEdges(ctx context.Context, filePath string, edges []uast.Edge) error {
	return s.withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin upsert edges: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE file_path = ?`, filePath); err != nil {
			return fmt.Errorf("clear edges for file: %w", err)
		}

		for _, e := range edges {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO edges (source_id, target_qualified_name, kind, file_path)
				VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`,
				e.SourceID, e.TargetQualifiedName, string(e.Kind), e.FilePath); err != nil {
				return fmt.Errorf("insert edge: %w", err)
			}
		}

		return tx.Commit()
	})
}

// GetDependencies returns the DependsOn/Calls targets of sourceID.
func (s *Store) GetDependencies(ctx context.Context, sourceID string) ([]uast.Edge, error) {
	return s.queryEdges(ctx, `SELECT source_id, target_qualified_name, kind, file_path FROM edges WHERE source_id = ?`, sourceID)
}

// GetCallers returns every edge whose target qualified name is targetQualifiedName.
func (s *Store) GetCallers(ctx context.Context, targetQualifiedName string) ([]uast.Edge, error) {
	return s.queryEdges(ctx, `SELECT source_id, target_qualified_name, kind, file_path FROM edges WHERE target_qualified_name = ?`, targetQualifiedName)
}

func (s *Store) queryEdges(ctx context.Context, query string, arg string) ([]uast.Edge, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var out []uast.Edge

	for rows.Next() {
		var e uast.Edge

		var kind string

		if err := rows.Scan(&e.SourceID, &e.TargetQualifiedName, &kind, &e.FilePath); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}

		e.Kind = uast.EdgeKind(kind)
		out = append(out, e)
	}

	return out, rows.Err()
}

// ListEdges returns every recorded edge (resolved or not), ordered for
// deterministic graph rebuilds.
func (s *Store) ListEdges(ctx context.Context) ([]uast.Edge, error) {
	return s.queryEdges(ctx, `SELECT source_id, target_qualified_name, kind, file_path FROM edges
		WHERE source_id != ? ORDER BY source_id, target_qualified_name, kind, file_path`, "")
}

// HasDependencyBetweenFiles reports whether any symbol in fileA has an edge
// whose FilePath is fileB — the static-coupling signal the coupling miner fuses in.
func (s *Store) HasDependencyBetweenFiles(ctx context.Context, fileA, fileB string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM edges e JOIN symbols s ON s.id = e.source_id
			WHERE s.file_path = ? AND e.file_path = ?
		)`, fileA, fileB)

	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("has dependency between files: %w", err)
	}

	return exists, nil
}
