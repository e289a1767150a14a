package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SIRMeta is the status-tracking row accompanying a symbol's SIR blob.
type SIRMeta struct {
	SymbolID    string
	Status      string // fresh | stale | failed
	RetryCount  int
	LastError   string
	GeneratedAt time.Time
	SourceHash  string
}

// SIRHistoryEntry is one append-only version record, including the
// canonical SIR body at that version — kept so drift and verify-intent can diff the text of
// a historical SIR against the current one, not just compare hashes.
type SIRHistoryEntry struct {
	SymbolID   string
	Version    int
	SIRHash    string
	Body       []byte
	RecordedAt time.Time
}

// WriteSIRBlob stores body under symbolID at the given hash. The blob row
// is upserted unconditionally, but the version counter only bumps — and a
// history row is only appended — when sirHash differs from the latest
// recorded one, keeping history entries unique per (symbol_id, sir_hash):
// a regeneration that re-derives an identical SIR (same canonical JSON,
// same hash, e.g. after a body-only edit) is a no-op for version and
// history. Atomicity of the on-disk representation (when mirrored to
// `.aether/sir/`) is handled by the indexer's mirror writer; the SQLite
// row write is itself atomic via the enclosing transaction.
func (s *Store) WriteSIRBlob(ctx context.Context, symbolID string, body []byte, sirHash string) (version int, err error) {
	err = s.withBusyRetry(ctx, func() error {
		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("begin write sir blob: %w", txErr)
		}
		defer tx.Rollback() //nolint:errcheck

		var prevVersion int

		var prevHash string

		row := tx.QueryRowContext(ctx, `
			SELECT version, sir_hash FROM sir_history WHERE symbol_id = ? ORDER BY version DESC LIMIT 1`,
			symbolID)

		scanErr := row.Scan(&prevVersion, &prevHash)
		if scanErr != nil && !errors.Is(scanErr, sql.ErrNoRows) {
			return fmt.Errorf("read prior sir version: %w", scanErr)
		}

		changed := prevVersion == 0 || prevHash != sirHash

		version = prevVersion
		if changed {
			version = prevVersion + 1
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sir_blobs (symbol_id, body, sir_hash, version) VALUES (?, ?, ?, ?)
			ON CONFLICT(symbol_id) DO UPDATE SET body=excluded.body, sir_hash=excluded.sir_hash, version=excluded.version`,
			symbolID, body, sirHash, version); err != nil {
			return fmt.Errorf("upsert sir blob: %w", err)
		}

		if changed {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sir_history (symbol_id, version, sir_hash, body, recorded_at) VALUES (?, ?, ?, ?, ?)`,
				symbolID, version, sirHash, body, time.Now().Unix()); err != nil {
				return fmt.Errorf("append sir history: %w", err)
			}
		}

		return tx.Commit()
	})

	return version, err
}

// ReadSIRBlob returns the current SIR blob body and hash for symbolID.
func (s *Store) ReadSIRBlob(ctx context.Context, symbolID string) (body []byte, sirHash string, version int, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT body, sir_hash, version FROM sir_blobs WHERE symbol_id = ?`, symbolID)

	err = row.Scan(&body, &sirHash, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", 0, ErrNotFound
	}

	if err != nil {
		return nil, "", 0, fmt.Errorf("read sir blob: %w", err)
	}

	return body, sirHash, version, nil
}

// UpsertSIRMeta records the lifecycle state for symbolID.
func (s *Store) UpsertSIRMeta(ctx context.Context, meta SIRMeta) error {
	return s.withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sir_meta (symbol_id, status, retry_count, last_error, generated_at, source_hash)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol_id) DO UPDATE SET
				status=excluded.status, retry_count=excluded.retry_count,
				last_error=excluded.last_error, generated_at=excluded.generated_at,
				source_hash=excluded.source_hash`,
			meta.SymbolID, meta.Status, meta.RetryCount, meta.LastError, meta.GeneratedAt.Unix(), meta.SourceHash)

		return err
	})
}

// GetSIRMeta returns the lifecycle state for symbolID.
func (s *Store) GetSIRMeta(ctx context.Context, symbolID string) (SIRMeta, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT symbol_id, status, retry_count, last_error, generated_at, source_hash
		FROM sir_meta WHERE symbol_id = ?`, symbolID)

	var meta SIRMeta

	var generatedAt int64

	var lastError sql.NullString

	err := row.Scan(&meta.SymbolID, &meta.Status, &meta.RetryCount, &lastError, &generatedAt, &meta.SourceHash)
	if errors.Is(err, sql.ErrNoRows) {
		return SIRMeta{}, ErrNotFound
	}

	if err != nil {
		return SIRMeta{}, fmt.Errorf("get sir meta: %w", err)
	}

	meta.LastError = lastError.String
	meta.GeneratedAt = time.Unix(generatedAt, 0)

	return meta, nil
}

// RecordSIRVersionIfChanged appends a history entry only when sirHash
// differs from the latest recorded one for symbolID — used by verify/drift
// flows that recompute a SIR speculatively without always wanting to bump
// history.
func (s *Store) RecordSIRVersionIfChanged(ctx context.Context, symbolID, sirHash string) (changed bool, err error) {
	latest, _, lerr := s.latestSIRHistory(ctx, symbolID)
	if lerr != nil && !errors.Is(lerr, ErrNotFound) {
		return false, lerr
	}

	if latest == sirHash {
		return false, nil
	}

	_, werr := s.WriteSIRBlob(ctx, symbolID, nil, sirHash)

	return werr == nil, werr
}

func (s *Store) latestSIRHistory(ctx context.Context, symbolID string) (sirHash string, version int, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sir_hash, version FROM sir_history WHERE symbol_id = ? ORDER BY version DESC LIMIT 1`, symbolID)

	err = row.Scan(&sirHash, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, ErrNotFound
	}

	if err != nil {
		return "", 0, fmt.Errorf("latest sir history: %w", err)
	}

	return sirHash, version, nil
}

// ListSIRHistory returns every recorded version for symbolID, oldest first.
func (s *Store) ListSIRHistory(ctx context.Context, symbolID string) ([]SIRHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol_id, version, sir_hash, body, recorded_at FROM sir_history
		WHERE symbol_id = ? ORDER BY version ASC`, symbolID)
	if err != nil {
		return nil, fmt.Errorf("list sir history: %w", err)
	}
	defer rows.Close()

	var out []SIRHistoryEntry

	for rows.Next() {
		var e SIRHistoryEntry

		var recordedAt int64

		if err := rows.Scan(&e.SymbolID, &e.Version, &e.SIRHash, &e.Body, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan sir history: %w", err)
		}

		e.RecordedAt = time.Unix(recordedAt, 0)
		out = append(out, e)
	}

	return out, rows.Err()
}

// LatestSIRHistoryPair returns the two most recent history entries for
// symbolID, used by verify-intent to diff the last-known-good SIR
// against the current one.
func (s *Store) LatestSIRHistoryPair(ctx context.Context, symbolID string) (prev, cur SIRHistoryEntry, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol_id, version, sir_hash, body, recorded_at FROM sir_history
		WHERE symbol_id = ? ORDER BY version DESC LIMIT 2`, symbolID)
	if err != nil {
		return SIRHistoryEntry{}, SIRHistoryEntry{}, fmt.Errorf("latest sir history pair: %w", err)
	}
	defer rows.Close()

	var entries []SIRHistoryEntry

	for rows.Next() {
		var e SIRHistoryEntry

		var recordedAt int64

		if err := rows.Scan(&e.SymbolID, &e.Version, &e.SIRHash, &e.Body, &recordedAt); err != nil {
			return SIRHistoryEntry{}, SIRHistoryEntry{}, fmt.Errorf("scan sir history pair: %w", err)
		}

		e.RecordedAt = time.Unix(recordedAt, 0)
		entries = append(entries, e)
	}

	if len(entries) == 0 {
		return SIRHistoryEntry{}, SIRHistoryEntry{}, ErrNotFound
	}

	if len(entries) == 1 {
		return SIRHistoryEntry{}, entries[0], nil
	}

	return entries[1], entries[0], rows.Err()
}

// ResolveSIRBaselineBySelector resolves a snapshot-intent-style baseline
// selector ("latest", "prev", or a literal version number) to a history
// entry.
func (s *Store) ResolveSIRBaselineBySelector(ctx context.Context, symbolID, selector string) (SIRHistoryEntry, error) {
	switch selector {
	case "", "latest":
		_, cur, err := s.LatestSIRHistoryPair(ctx, symbolID)

		return cur, err
	case "prev":
		prev, _, err := s.LatestSIRHistoryPair(ctx, symbolID)
		if err != nil {
			return SIRHistoryEntry{}, err
		}

		if prev.SIRHash == "" {
			return SIRHistoryEntry{}, ErrNotFound
		}

		return prev, nil
	default:
		var version int
		if _, err := fmt.Sscanf(selector, "%d", &version); err != nil {
			return SIRHistoryEntry{}, fmt.Errorf("parse baseline selector %q: %w", selector, err)
		}

		row := s.db.QueryRowContext(ctx, `
			SELECT symbol_id, version, sir_hash, body, recorded_at FROM sir_history
			WHERE symbol_id = ? AND version = ?`, symbolID, version)

		var e SIRHistoryEntry

		var recordedAt int64

		err := row.Scan(&e.SymbolID, &e.Version, &e.SIRHash, &e.Body, &recordedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return SIRHistoryEntry{}, ErrNotFound
		}

		if err != nil {
			return SIRHistoryEntry{}, fmt.Errorf("resolve sir baseline: %w", err)
		}

		e.RecordedAt = time.Unix(recordedAt, 0)

		return e, nil
	}
}

// ResolveSIRBaselineAtOrBefore returns the most recent history entry for
// symbolID recorded at or before cutoff — drift's drift window resolves a
// commit-range "from" boundary to wall-clock time (via the commit's
// committer timestamp) rather than a version selector, since sir_history
// isn't commit-indexed.
func (s *Store) ResolveSIRBaselineAtOrBefore(ctx context.Context, symbolID string, cutoff time.Time) (SIRHistoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT symbol_id, version, sir_hash, body, recorded_at FROM sir_history
		WHERE symbol_id = ? AND recorded_at <= ? ORDER BY version DESC LIMIT 1`, symbolID, cutoff.Unix())

	var e SIRHistoryEntry

	var recordedAt int64

	err := row.Scan(&e.SymbolID, &e.Version, &e.SIRHash, &e.Body, &recordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SIRHistoryEntry{}, ErrNotFound
	}

	if err != nil {
		return SIRHistoryEntry{}, fmt.Errorf("resolve sir baseline at or before: %w", err)
	}

	e.RecordedAt = time.Unix(recordedAt, 0)

	return e, nil
}
