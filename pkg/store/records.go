package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ProjectNote is a free-form annotation surfaced by `remember`/`recall`/
// `notes` and folded into unified ask. Refs link the note back to the
// entities, files, and symbols it is about.
type ProjectNote struct {
	ID             string
	Content        string
	ContentHash    string
	SourceType     string // session, agent, manual
	SourceAgent    string
	Tags           []string
	EntityRefs     []string
	FileRefs       []string
	SymbolRefs     []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	AccessCount    int
	LastAccessedAt time.Time
	IsArchived     bool
}

// UpsertProjectNote inserts or replaces a note by id.
func (s *Store) UpsertProjectNote(ctx context.Context, n ProjectNote) error {
	updatedAt := n.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = n.CreatedAt
	}

	return s.withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO project_notes (id, content, content_hash, source_type, source_agent, tags,
				entity_refs, file_refs, symbol_refs, created_at, updated_at, access_count,
				last_accessed_at, is_archived)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				content=excluded.content, content_hash=excluded.content_hash,
				source_type=excluded.source_type, source_agent=excluded.source_agent,
				tags=excluded.tags, entity_refs=excluded.entity_refs, file_refs=excluded.file_refs,
				symbol_refs=excluded.symbol_refs, updated_at=excluded.updated_at,
				is_archived=excluded.is_archived`,
			n.ID, n.Content, n.ContentHash, orManual(n.SourceType), nullableString(n.SourceAgent),
			encodeStringList(n.Tags), encodeStringList(n.EntityRefs), encodeStringList(n.FileRefs),
			encodeStringList(n.SymbolRefs), n.CreatedAt.Unix(), updatedAt.Unix(), n.AccessCount,
			n.LastAccessedAt.Unix(), boolToInt(n.IsArchived))

		return err
	})
}

const projectNoteColumns = `id, content, content_hash, source_type, COALESCE(source_agent,''), tags,
	entity_refs, file_refs, symbol_refs, created_at, updated_at, access_count, last_accessed_at, is_archived`

func scanProjectNote(scan func(dest ...any) error) (ProjectNote, error) {
	var n ProjectNote

	var tags, entityRefs, fileRefs, symbolRefs string

	var createdAt, updatedAt, lastAccessedAt int64

	var archived int

	if err := scan(&n.ID, &n.Content, &n.ContentHash, &n.SourceType, &n.SourceAgent, &tags,
		&entityRefs, &fileRefs, &symbolRefs, &createdAt, &updatedAt, &n.AccessCount,
		&lastAccessedAt, &archived); err != nil {
		return ProjectNote{}, fmt.Errorf("scan project note: %w", err)
	}

	n.Tags = decodeStringList(tags)
	n.EntityRefs = decodeStringList(entityRefs)
	n.FileRefs = decodeStringList(fileRefs)
	n.SymbolRefs = decodeStringList(symbolRefs)
	n.CreatedAt = time.Unix(createdAt, 0)
	n.UpdatedAt = time.Unix(updatedAt, 0)
	n.IsArchived = archived != 0

	if lastAccessedAt > 0 {
		n.LastAccessedAt = time.Unix(lastAccessedAt, 0)
	}

	return n, nil
}

// GetProjectNote returns a note by id.
func (s *Store) GetProjectNote(ctx context.Context, id string) (ProjectNote, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectNoteColumns+` FROM project_notes WHERE id = ?`, id)

	n, err := scanProjectNote(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ProjectNote{}, ErrNotFound
		}

		return ProjectNote{}, fmt.Errorf("get project note: %w", err)
	}

	return n, nil
}

// SearchProjectNotesLexical performs a substring match over content and
// tags, skipping archived notes.
func (s *Store) SearchProjectNotesLexical(ctx context.Context, query string, limit int) ([]ProjectNote, error) {
	like := "%" + query + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectNoteColumns+` FROM project_notes
		WHERE is_archived = 0 AND (content LIKE ? OR tags LIKE ?)
		ORDER BY access_count DESC, updated_at DESC, id ASC LIMIT ?`, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("search project notes: %w", err)
	}
	defer rows.Close()

	return scanProjectNotes(rows)
}

// ListProjectNotes returns the newest non-archived notes.
func (s *Store) ListProjectNotes(ctx context.Context, limit int) ([]ProjectNote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectNoteColumns+` FROM project_notes
		WHERE is_archived = 0 ORDER BY updated_at DESC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list project notes: %w", err)
	}
	defer rows.Close()

	return scanProjectNotes(rows)
}

// ListProjectNotesForFileRef returns non-archived notes whose file_refs
// include filePath, most recently updated first — the hover contract's
// project-context block reads these.
func (s *Store) ListProjectNotesForFileRef(ctx context.Context, filePath string, limit int) ([]ProjectNote, error) {
	like := `%"` + filePath + `"%`

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectNoteColumns+` FROM project_notes
		WHERE is_archived = 0 AND file_refs LIKE ?
		ORDER BY updated_at DESC, id ASC LIMIT ?`, like, limit)
	if err != nil {
		return nil, fmt.Errorf("list project notes for file ref: %w", err)
	}
	defer rows.Close()

	return scanProjectNotes(rows)
}

// ArchiveProjectNote soft-hides a note from search and listings.
func (s *Store) ArchiveProjectNote(ctx context.Context, id string, now time.Time) error {
	return s.withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE project_notes SET is_archived = 1, updated_at = ? WHERE id = ?`, now.Unix(), id)

		return err
	})
}

func scanProjectNotes(rows *sql.Rows) ([]ProjectNote, error) {
	var out []ProjectNote

	for rows.Next() {
		n, err := scanProjectNote(rows.Scan)
		if err != nil {
			return nil, err
		}

		out = append(out, n)
	}

	return out, rows.Err()
}

func encodeStringList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}

	buf, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}

	return string(buf)
}

func decodeStringList(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}

	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}

	return out
}

func orManual(sourceType string) string {
	switch sourceType {
	case "session", "agent", "manual":
		return sourceType
	default:
		return "manual"
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}

// IncrementProjectNoteAccess bumps the access counters for a note returned
// in a search/ask result set.
func (s *Store) IncrementProjectNoteAccess(ctx context.Context, id string, now time.Time) error {
	return s.withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE project_notes SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`,
			now.Unix(), id)

		return err
	})
}

// TestIntentRecord is a stored, store-identified TestIntent plus the
// linker's resolved target symbol and inference metadata.
type TestIntentRecord struct {
	ID         string
	FilePath   string
	TestName   string
	IntentText string
	GroupLabel string
	Language   string
	SymbolID   string
	TargetID   string
	Method     string
	Confidence float64
}

// ReplaceTestIntentsForFile atomically resyncs every test-intent row for
// filePath to the given set — the per-file step the indexer runs after
// reparsing a test file. Rows whose id is unchanged keep their linker-assigned
// target_id/method/confidence (an upsert that only touches the parsed
// fields); rows no longer present are deleted.
func (s *Store) ReplaceTestIntentsForFile(ctx context.Context, filePath string, intents []TestIntentRecord) error {
	return s.withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin replace test intents: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		keepIDs := make([]string, 0, len(intents))

		for _, ti := range intents {
			keepIDs = append(keepIDs, ti.ID)

			if _, err := tx.ExecContext(ctx, `
				INSERT INTO test_intents (id, file_path, test_name, intent_text, group_label, language,
					symbol_id, target_id, method, confidence)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET file_path=excluded.file_path, test_name=excluded.test_name,
					intent_text=excluded.intent_text, group_label=excluded.group_label,
					language=excluded.language, symbol_id=excluded.symbol_id`,
				ti.ID, ti.FilePath, ti.TestName, ti.IntentText, nullableString(ti.GroupLabel), ti.Language,
				nullableString(ti.SymbolID), nullableString(ti.TargetID), nullableString(ti.Method), ti.Confidence); err != nil {
				return fmt.Errorf("insert test intent: %w", err)
			}
		}

		deleteQuery := `DELETE FROM test_intents WHERE file_path = ?`

		args := []any{filePath}

		if len(keepIDs) > 0 {
			placeholders := make([]string, len(keepIDs))
			for i, id := range keepIDs {
				placeholders[i] = "?"
				args = append(args, id)
			}

			deleteQuery += fmt.Sprintf(" AND id NOT IN (%s)", strings.Join(placeholders, ","))
		}

		if _, err := tx.ExecContext(ctx, deleteQuery, args...); err != nil {
			return fmt.Errorf("prune stale test intents: %w", err)
		}

		return tx.Commit()
	})
}

// ListTestIntentsForTarget returns every test intent linked to targetID —
// the "tested_by" query the graph and health report use to compute test-gap signals.
func (s *Store) ListTestIntentsForTarget(ctx context.Context, targetID string) ([]TestIntentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_path, test_name, intent_text, COALESCE(group_label,''), language,
			COALESCE(symbol_id,''), COALESCE(target_id,''), COALESCE(method,''), confidence
		FROM test_intents WHERE target_id = ?`, targetID)
	if err != nil {
		return nil, fmt.Errorf("list test intents for target: %w", err)
	}
	defer rows.Close()

	var out []TestIntentRecord

	for rows.Next() {
		var ti TestIntentRecord
		if err := rows.Scan(&ti.ID, &ti.FilePath, &ti.TestName, &ti.IntentText, &ti.GroupLabel, &ti.Language,
			&ti.SymbolID, &ti.TargetID, &ti.Method, &ti.Confidence); err != nil {
			return nil, fmt.Errorf("scan test intent: %w", err)
		}

		out = append(out, ti)
	}

	return out, rows.Err()
}

// ListTestIntentsForSymbol returns every test intent AST-resolved to
// symbolID — the exact-match test-coverage lookup drift's semantic section
// report uses (distinct from ListTestIntentsForTarget's target_id join).
func (s *Store) ListTestIntentsForSymbol(ctx context.Context, symbolID string) ([]TestIntentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_path, test_name, intent_text, COALESCE(group_label,''), language,
			COALESCE(symbol_id,''), COALESCE(target_id,''), COALESCE(method,''), confidence
		FROM test_intents WHERE symbol_id = ?`, symbolID)
	if err != nil {
		return nil, fmt.Errorf("list test intents for symbol: %w", err)
	}
	defer rows.Close()

	var out []TestIntentRecord

	for rows.Next() {
		var ti TestIntentRecord
		if err := rows.Scan(&ti.ID, &ti.FilePath, &ti.TestName, &ti.IntentText, &ti.GroupLabel, &ti.Language,
			&ti.SymbolID, &ti.TargetID, &ti.Method, &ti.Confidence); err != nil {
			return nil, fmt.Errorf("scan test intent: %w", err)
		}

		out = append(out, ti)
	}

	return out, rows.Err()
}

// ListTestIntentsForFile returns every test intent recorded against
// filePath, used by intent snapshot/verify as the coarser fallback when a symbol has no
// directly resolved test intents.
func (s *Store) ListTestIntentsForFile(ctx context.Context, filePath string) ([]TestIntentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_path, test_name, intent_text, COALESCE(group_label,''), language,
			COALESCE(symbol_id,''), COALESCE(target_id,''), COALESCE(method,''), confidence
		FROM test_intents WHERE file_path = ?`, filePath)
	if err != nil {
		return nil, fmt.Errorf("list test intents for file: %w", err)
	}
	defer rows.Close()

	var out []TestIntentRecord

	for rows.Next() {
		var ti TestIntentRecord
		if err := rows.Scan(&ti.ID, &ti.FilePath, &ti.TestName, &ti.IntentText, &ti.GroupLabel, &ti.Language,
			&ti.SymbolID, &ti.TargetID, &ti.Method, &ti.Confidence); err != nil {
			return nil, fmt.Errorf("scan test intent: %w", err)
		}

		out = append(out, ti)
	}

	return out, rows.Err()
}

// SearchTestIntentsLexical performs a substring match over intent_text,
// feeding search's lexical mode and unified ask's test-guard candidates.
func (s *Store) SearchTestIntentsLexical(ctx context.Context, query string, limit int) ([]TestIntentRecord, error) {
	like := "%" + query + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_path, test_name, intent_text, COALESCE(group_label,''), language,
			COALESCE(symbol_id,''), COALESCE(target_id,''), COALESCE(method,''), confidence
		FROM test_intents WHERE intent_text LIKE ? OR test_name LIKE ? LIMIT ?`, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("search test intents: %w", err)
	}
	defer rows.Close()

	var out []TestIntentRecord

	for rows.Next() {
		var ti TestIntentRecord
		if err := rows.Scan(&ti.ID, &ti.FilePath, &ti.TestName, &ti.IntentText, &ti.GroupLabel, &ti.Language,
			&ti.SymbolID, &ti.TargetID, &ti.Method, &ti.Confidence); err != nil {
			return nil, fmt.Errorf("scan test intent: %w", err)
		}

		out = append(out, ti)
	}

	return out, rows.Err()
}

// TestedByRow is the durable form of a tested_by link; the Graph
// Store's in-memory rows are a projection rebuilt from these.
type TestedByRow struct {
	TargetFile  string
	TestFile    string
	IntentCount int
	Confidence  float64
	Method      string
}

// ReplaceTestedByForTestFile atomically swaps every tested_by row keyed by
// testFile for the given set.
func (s *Store) ReplaceTestedByForTestFile(ctx context.Context, testFile string, rows []TestedByRow) error {
	return s.withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin replace tested_by: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		if _, err := tx.ExecContext(ctx, `DELETE FROM tested_by WHERE test_file = ?`, testFile); err != nil {
			return fmt.Errorf("delete tested_by rows: %w", err)
		}

		for _, row := range rows {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO tested_by (target_file, test_file, intent_count, confidence, inference_method)
				VALUES (?, ?, ?, ?, ?)`,
				row.TargetFile, row.TestFile, row.IntentCount, row.Confidence, row.Method); err != nil {
				return fmt.Errorf("insert tested_by row: %w", err)
			}
		}

		return tx.Commit()
	})
}

// ListAllTestedBy returns every tested_by row, for graph rebuilds.
func (s *Store) ListAllTestedBy(ctx context.Context) ([]TestedByRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT target_file, test_file, intent_count, confidence, inference_method
		FROM tested_by ORDER BY test_file, target_file`)
	if err != nil {
		return nil, fmt.Errorf("list tested_by: %w", err)
	}
	defer rows.Close()

	var out []TestedByRow

	for rows.Next() {
		var row TestedByRow

		if err := rows.Scan(&row.TargetFile, &row.TestFile, &row.IntentCount, &row.Confidence, &row.Method); err != nil {
			return nil, fmt.Errorf("scan tested_by row: %w", err)
		}

		out = append(out, row)
	}

	return out, rows.Err()
}

// DriftResult is one recorded signal from a drift report: semantic,
// boundary_violation, emerging_hub, new_cycle, orphaned (the five
// user-facing kinds), plus the internal pagerank_snapshot/scc_snapshot
// bookkeeping kinds drift mining writes pre-acknowledged on every run so the
// next run has a prior-state baseline to diff against.
type DriftResult struct {
	ID               string
	Kind             string
	Subject          string // symbol id (or its first member, for multi-symbol anomalies)
	SymbolName       string
	Magnitude        float64
	CurrentSIRHash   string
	BaselineSIRHash  string
	CommitRangeStart string
	CommitRangeEnd   string
	Summary          string
	Detail           string // JSON blob with kind-specific fields
	DetectedAt       time.Time
	Acknowledged     bool
	AcknowledgedAt   *time.Time
}

// UpsertDriftResult records a single drift signal. Acknowledged is only
// honored on insert (new pagerank/scc snapshot rows are pre-acknowledged so
// they never surface as actionable drift); re-running drift on an
// already-acknowledged result does not un-acknowledge it.
func (s *Store) UpsertDriftResult(ctx context.Context, d DriftResult) error {
	var ackAt any
	if d.Acknowledged {
		ackAt = d.DetectedAt.Unix()
	}

	return s.withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO drift_results (id, kind, subject, symbol_name, magnitude, current_sir_hash,
				baseline_sir_hash, commit_range_start, commit_range_end, summary, detail, detected_at,
				acknowledged_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET magnitude=excluded.magnitude, detail=excluded.detail,
				current_sir_hash=excluded.current_sir_hash, summary=excluded.summary,
				detected_at=excluded.detected_at`,
			d.ID, d.Kind, d.Subject, d.SymbolName, d.Magnitude, d.CurrentSIRHash, d.BaselineSIRHash,
			d.CommitRangeStart, d.CommitRangeEnd, d.Summary, d.Detail, d.DetectedAt.Unix(), ackAt)

		return err
	})
}

const driftResultColumns = `id, kind, subject, symbol_name, magnitude, current_sir_hash, baseline_sir_hash,
			commit_range_start, commit_range_end, summary, detail, detected_at, acknowledged_at`

func scanDriftResult(scan func(dest ...any) error) (DriftResult, error) {
	var d DriftResult

	var detectedAt int64

	var ackAt sql.NullInt64

	if err := scan(&d.ID, &d.Kind, &d.Subject, &d.SymbolName, &d.Magnitude, &d.CurrentSIRHash,
		&d.BaselineSIRHash, &d.CommitRangeStart, &d.CommitRangeEnd, &d.Summary, &d.Detail, &detectedAt,
		&ackAt); err != nil {
		return DriftResult{}, fmt.Errorf("scan drift result: %w", err)
	}

	d.DetectedAt = time.Unix(detectedAt, 0)

	if ackAt.Valid {
		d.Acknowledged = true
		t := time.Unix(ackAt.Int64, 0)
		d.AcknowledgedAt = &t
	}

	return d, nil
}

// AcknowledgeDrift marks drift results as acknowledged — the drift
// `acknowledge` operation's bulk-mark step.
func (s *Store) AcknowledgeDrift(ctx context.Context, ids []string, now time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, now.Unix())

	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	var n int

	err := s.withBusyRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE drift_results SET acknowledged_at = ?
			WHERE id IN (`+strings.Join(placeholders, ",")+`) AND acknowledged_at IS NULL`, args...)
		if err != nil {
			return err
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("acknowledge drift rows affected: %w", err)
		}

		n = int(affected)

		return nil
	})

	return n, err
}

// ListDriftResultsByIDs returns the stored drift results matching ids, in
// no particular order (callers re-sort per report section).
func (s *Store) ListDriftResultsByIDs(ctx context.Context, ids []string) ([]DriftResult, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))

	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+driftResultColumns+` FROM drift_results
		WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("list drift results by ids: %w", err)
	}
	defer rows.Close()

	var out []DriftResult

	for rows.Next() {
		d, err := scanDriftResult(rows.Scan)
		if err != nil {
			return nil, err
		}

		out = append(out, d)
	}

	return out, rows.Err()
}

// ListDriftResultsForCommit returns every stored drift result (including
// the internal snapshot kinds) whose commit_range_end matches commit — used
// to load the prior run's pagerank/SCC snapshots as a structural baseline.
func (s *Store) ListDriftResultsForCommit(ctx context.Context, kind, commit string) ([]DriftResult, error) {
	if commit == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+driftResultColumns+` FROM drift_results
		WHERE kind = ? AND commit_range_end = ?`, kind, commit)
	if err != nil {
		return nil, fmt.Errorf("list drift results for commit: %w", err)
	}
	defer rows.Close()

	var out []DriftResult

	for rows.Next() {
		d, err := scanDriftResult(rows.Scan)
		if err != nil {
			return nil, err
		}

		out = append(out, d)
	}

	return out, rows.Err()
}

// ListDriftResultsByKind returns every drift result of the given kind,
// acknowledged or not, newest first — health's drift-magnitude signal wants
// the latest semantic reading per symbol regardless of acknowledgment.
func (s *Store) ListDriftResultsByKind(ctx context.Context, kind string) ([]DriftResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+driftResultColumns+` FROM drift_results
		WHERE kind = ? ORDER BY detected_at DESC, id ASC`, kind)
	if err != nil {
		return nil, fmt.Errorf("list drift results by kind: %w", err)
	}
	defer rows.Close()

	var out []DriftResult

	for rows.Next() {
		d, err := scanDriftResult(rows.Scan)
		if err != nil {
			return nil, err
		}

		out = append(out, d)
	}

	return out, rows.Err()
}

// ListUnacknowledgedDrift returns every drift result not yet acknowledged.
func (s *Store) ListUnacknowledgedDrift(ctx context.Context) ([]DriftResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+driftResultColumns+` FROM drift_results
		WHERE acknowledged_at IS NULL ORDER BY magnitude DESC`)
	if err != nil {
		return nil, fmt.Errorf("list unacknowledged drift: %w", err)
	}
	defer rows.Close()

	var out []DriftResult

	for rows.Next() {
		d, err := scanDriftResult(rows.Scan)
		if err != nil {
			return nil, err
		}

		out = append(out, d)
	}

	return out, rows.Err()
}

// DriftAnalysisState is the single-row cursor recording the last drift run.
type DriftAnalysisState struct {
	LastAnalysisCommit string
	LastAnalysisAt     time.Time
	SymbolsAnalyzed    int
	DriftDetected      int
}

// GetDriftAnalysisState returns the last recorded drift run, or the zero
// value if drift has never run.
func (s *Store) GetDriftAnalysisState(ctx context.Context) (DriftAnalysisState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT last_analysis_commit, last_analysis_at, symbols_analyzed,
		drift_detected FROM drift_analysis_state WHERE id = 1`)

	var st DriftAnalysisState

	var lastAt int64

	err := row.Scan(&st.LastAnalysisCommit, &lastAt, &st.SymbolsAnalyzed, &st.DriftDetected)
	if errors.Is(err, sql.ErrNoRows) {
		return DriftAnalysisState{}, nil
	}

	if err != nil {
		return DriftAnalysisState{}, fmt.Errorf("get drift analysis state: %w", err)
	}

	st.LastAnalysisAt = time.Unix(lastAt, 0)

	return st, nil
}

// SetDriftAnalysisState persists the cursor after a drift run.
func (s *Store) SetDriftAnalysisState(ctx context.Context, st DriftAnalysisState) error {
	return s.withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO drift_analysis_state (id, last_analysis_commit, last_analysis_at, symbols_analyzed,
				drift_detected)
			VALUES (1, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET last_analysis_commit=excluded.last_analysis_commit,
				last_analysis_at=excluded.last_analysis_at, symbols_analyzed=excluded.symbols_analyzed,
				drift_detected=excluded.drift_detected`,
			st.LastAnalysisCommit, st.LastAnalysisAt.Unix(), st.SymbolsAnalyzed, st.DriftDetected)

		return err
	})
}

// CouplingEdge is a fused co-change relationship between two files.
type CouplingEdge struct {
	FileA              string
	FileB              string
	TemporalScore      float64
	StaticScore        float64
	SemanticScore      float64
	FusedScore         float64
	CouplingType       string
	CoChangeCount      int
	TotalCommitsA      int
	TotalCommitsB      int
	LastCoChangeCommit string
	LastCoChangeAt     time.Time
	UpdatedAt          time.Time
}

// UpsertCouplingEdge records the fused coupling score between two files.
func (s *Store) UpsertCouplingEdge(ctx context.Context, e CouplingEdge) error {
	a, b := e.FileA, e.FileB
	totalA, totalB := e.TotalCommitsA, e.TotalCommitsB

	if a > b {
		a, b = b, a
		totalA, totalB = totalB, totalA
	}

	return s.withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO coupling_edges (file_a, file_b, temporal_score, static_score, semantic_score,
				fused_score, coupling_type, co_change_count, total_commits_a, total_commits_b,
				last_co_change_commit, last_co_change_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(file_a, file_b) DO UPDATE SET
				temporal_score=excluded.temporal_score, static_score=excluded.static_score,
				semantic_score=excluded.semantic_score, fused_score=excluded.fused_score,
				coupling_type=excluded.coupling_type, co_change_count=excluded.co_change_count,
				total_commits_a=excluded.total_commits_a, total_commits_b=excluded.total_commits_b,
				last_co_change_commit=excluded.last_co_change_commit,
				last_co_change_at=excluded.last_co_change_at, updated_at=excluded.updated_at`,
			a, b, e.TemporalScore, e.StaticScore, e.SemanticScore, e.FusedScore, e.CouplingType,
			e.CoChangeCount, totalA, totalB, e.LastCoChangeCommit, e.LastCoChangeAt.Unix(), e.UpdatedAt.Unix())

		return err
	})
}

const couplingEdgeColumns = `file_a, file_b, temporal_score, static_score, semantic_score, fused_score, coupling_type,
			co_change_count, total_commits_a, total_commits_b, last_co_change_commit, last_co_change_at, updated_at`

func scanCouplingEdge(scan func(dest ...any) error) (CouplingEdge, error) {
	var e CouplingEdge

	var lastCoChangeAt, updatedAt int64

	if err := scan(&e.FileA, &e.FileB, &e.TemporalScore, &e.StaticScore, &e.SemanticScore,
		&e.FusedScore, &e.CouplingType, &e.CoChangeCount, &e.TotalCommitsA, &e.TotalCommitsB,
		&e.LastCoChangeCommit, &lastCoChangeAt, &updatedAt); err != nil {
		return CouplingEdge{}, fmt.Errorf("scan coupling edge: %w", err)
	}

	e.LastCoChangeAt = time.Unix(lastCoChangeAt, 0)
	e.UpdatedAt = time.Unix(updatedAt, 0)

	return e, nil
}

// ListCouplingEdgesForFile returns every coupling edge touching filePath,
// ordered by fused_score desc — the blast-radius query.
func (s *Store) ListCouplingEdgesForFile(ctx context.Context, filePath string, limit int) ([]CouplingEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+couplingEdgeColumns+`
		FROM coupling_edges WHERE file_a = ? OR file_b = ?
		ORDER BY fused_score DESC LIMIT ?`, filePath, filePath, limit)
	if err != nil {
		return nil, fmt.Errorf("list coupling edges: %w", err)
	}
	defer rows.Close()

	var out []CouplingEdge

	for rows.Next() {
		e, err := scanCouplingEdge(rows.Scan)
		if err != nil {
			return nil, err
		}

		out = append(out, e)
	}

	return out, rows.Err()
}

// ListTopCouplingEdges returns the top edges by fused_score across the whole
// repository — the coupling_report query.
func (s *Store) ListTopCouplingEdges(ctx context.Context, top int) ([]CouplingEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+couplingEdgeColumns+`
		FROM coupling_edges ORDER BY fused_score DESC LIMIT ?`, top)
	if err != nil {
		return nil, fmt.Errorf("list top coupling edges: %w", err)
	}
	defer rows.Close()

	var out []CouplingEdge

	for rows.Next() {
		e, err := scanCouplingEdge(rows.Scan)
		if err != nil {
			return nil, err
		}

		out = append(out, e)
	}

	return out, rows.Err()
}

// ListCouplingEdgeFiles returns every distinct file path touched by at least
// one stored coupling edge — a cheap membership set mining can bloom-filter
// before paying for a full ListCouplingEdgesForFile round trip per pair.
func (s *Store) ListCouplingEdgeFiles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_a FROM coupling_edges UNION SELECT file_b FROM coupling_edges`)
	if err != nil {
		return nil, fmt.Errorf("list coupling edge files: %w", err)
	}
	defer rows.Close()

	var out []string

	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("scan coupling edge file: %w", err)
		}

		out = append(out, f)
	}

	return out, rows.Err()
}

// CouplingMiningState is the resumable cursor over the commit history the
// coupling miner has processed so far.
type CouplingMiningState struct {
	LastCommitOID string
	UpdatedAt     time.Time
}

// GetCouplingMiningState returns the single mining-state row, or the zero
// value if mining has never run.
func (s *Store) GetCouplingMiningState(ctx context.Context) (CouplingMiningState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT last_commit_oid, updated_at FROM coupling_mining_state WHERE id = 1`)

	var st CouplingMiningState

	var updatedAt int64

	err := row.Scan(&st.LastCommitOID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CouplingMiningState{}, nil
	}

	if err != nil {
		return CouplingMiningState{}, fmt.Errorf("get coupling mining state: %w", err)
	}

	st.UpdatedAt = time.Unix(updatedAt, 0)

	return st, nil
}

// SetCouplingMiningState records the commit the miner has now processed up to.
func (s *Store) SetCouplingMiningState(ctx context.Context, st CouplingMiningState) error {
	return s.withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO coupling_mining_state (id, last_commit_oid, updated_at) VALUES (1, ?, ?)
			ON CONFLICT(id) DO UPDATE SET last_commit_oid=excluded.last_commit_oid, updated_at=excluded.updated_at`,
			st.LastCommitOID, st.UpdatedAt.Unix())

		return err
	})
}

// IntentSnapshot is a point-in-time capture of a scope's symbol set, used
// by intent snapshot's snapshot_intent/verify_intent pair.
type IntentSnapshot struct {
	ID          string
	Label       string
	Scope       string
	Target      string
	SymbolsJSON string
	CommitHash  string
	CreatedAt   time.Time
}

// SaveIntentSnapshot persists a snapshot.
func (s *Store) SaveIntentSnapshot(ctx context.Context, snap IntentSnapshot) error {
	return s.withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO intent_snapshots (id, label, scope, target, symbols_json, commit_hash, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			snap.ID, snap.Label, snap.Scope, snap.Target, snap.SymbolsJSON, nullableString(snap.CommitHash), snap.CreatedAt.Unix())

		return err
	})
}

// GetIntentSnapshot retrieves a snapshot by id.
func (s *Store) GetIntentSnapshot(ctx context.Context, id string) (IntentSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, label, scope, target, symbols_json, commit_hash, created_at
		FROM intent_snapshots WHERE id = ?`, id)

	var (
		snap       IntentSnapshot
		commitHash sql.NullString
		createdAt  int64
	)

	err := row.Scan(&snap.ID, &snap.Label, &snap.Scope, &snap.Target, &snap.SymbolsJSON, &commitHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return IntentSnapshot{}, ErrNotFound
	}

	if err != nil {
		return IntentSnapshot{}, fmt.Errorf("get intent snapshot: %w", err)
	}

	snap.CommitHash = commitHash.String
	snap.CreatedAt = time.Unix(createdAt, 0)

	return snap, nil
}

// LegacyEmbedding is a pre-Vector-Store embedding row awaiting migration.
type LegacyEmbedding struct {
	SymbolID string
	Provider string
	Model    string
	Dim      int
	Vector   []byte
	Migrated bool
}

// ListUnmigratedEmbeddings returns every legacy embedding row not yet
// migrated to the Vector Store.
func (s *Store) ListUnmigratedEmbeddings(ctx context.Context) ([]LegacyEmbedding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol_id, provider, model, dim, vector FROM embeddings_legacy WHERE migrated = 0`)
	if err != nil {
		return nil, fmt.Errorf("list unmigrated embeddings: %w", err)
	}
	defer rows.Close()

	var out []LegacyEmbedding

	for rows.Next() {
		var e LegacyEmbedding
		if err := rows.Scan(&e.SymbolID, &e.Provider, &e.Model, &e.Dim, &e.Vector); err != nil {
			return nil, fmt.Errorf("scan legacy embedding: %w", err)
		}

		out = append(out, e)
	}

	return out, rows.Err()
}

// MarkEmbeddingMigrated flags a legacy embedding row as migrated.
func (s *Store) MarkEmbeddingMigrated(ctx context.Context, symbolID string) error {
	return s.withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE embeddings_legacy SET migrated = 1 WHERE symbol_id = ?`, symbolID)

		return err
	})
}

// CommunitySnapshot is one symbol's community/pagerank assignment at the
// time of the last drift baseline recording (drift's emerging-hub /
// boundary-violation comparison point).
type CommunitySnapshot struct {
	SymbolID   string
	Community  int
	PageRank   float64
	RecordedAt time.Time
}

// ReplaceCommunitySnapshot atomically replaces the whole community/pagerank
// baseline with a freshly computed one.
func (s *Store) ReplaceCommunitySnapshot(ctx context.Context, snaps []CommunitySnapshot, now time.Time) error {
	return s.withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin replace community snapshot: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		if _, err := tx.ExecContext(ctx, `DELETE FROM community_snapshots`); err != nil {
			return fmt.Errorf("clear community snapshot: %w", err)
		}

		for _, snap := range snaps {
			id := snap.SymbolID + "@" + now.Format(time.RFC3339)
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO community_snapshots (id, symbol_id, community, pagerank, recorded_at)
				VALUES (?, ?, ?, ?, ?)`, id, snap.SymbolID, snap.Community, snap.PageRank, now.Unix()); err != nil {
				return fmt.Errorf("insert community snapshot: %w", err)
			}
		}

		return tx.Commit()
	})
}

// ListLatestCommunitySnapshot returns the current community/pagerank baseline.
func (s *Store) ListLatestCommunitySnapshot(ctx context.Context) ([]CommunitySnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol_id, community, pagerank, recorded_at FROM community_snapshots`)
	if err != nil {
		return nil, fmt.Errorf("list community snapshot: %w", err)
	}
	defer rows.Close()

	var out []CommunitySnapshot

	for rows.Next() {
		var snap CommunitySnapshot

		var recordedAt int64

		if err := rows.Scan(&snap.SymbolID, &snap.Community, &snap.PageRank, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan community snapshot: %w", err)
		}

		snap.RecordedAt = time.Unix(recordedAt, 0)
		out = append(out, snap)
	}

	return out, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}

	return s
}
