// Package vector implements the Vector Store: a dedicated
// ANN index over SIR embeddings, partitioned per (provider, model, dim), with
// a one-time migration path from legacy Record Store embedding rows.
//
// The default build performs exact nearest-neighbor search in pure Go (no
// cgo), consistent with the Record and Graph Stores' pure-Go
// modernc.org/sqlite backend. Building with `-tags sqlite_vec,cgo` instead
// registers the real github.com/asg017/sqlite-vec-go-bindings extension
// (vec_cgo.go) for ANN search via SQLite's own vec0 virtual table.
package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when an embedding lookup misses.
var ErrNotFound = errors.New("vector: embedding not found")

// EmbeddingMeta describes one stored vector's partition key.
type EmbeddingMeta struct {
	SymbolID  string
	Provider  string
	Model     string
	Dim       int
	SIRHash   string
	UpdatedAt time.Time
}

// Match is one nearest-neighbor search result.
type Match struct {
	SymbolID string
	Score    float64 // semantic score in [0, 1]: cosine similarity, negatives floored to 0
}

// Store is the embedding index, backed by a dedicated SQLite database file
// (`.aether/vectors/`) separate from the Record Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the vector store database at dbPath.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(2000)")
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS embeddings (
			symbol_id   TEXT NOT NULL,
			provider    TEXT NOT NULL,
			model       TEXT NOT NULL,
			dim         INTEGER NOT NULL,
			vector      BLOB NOT NULL,
			sir_hash    TEXT NOT NULL DEFAULT '',
			updated_at  INTEGER NOT NULL,
			PRIMARY KEY (symbol_id, provider, model)
		);
		CREATE INDEX IF NOT EXISTS idx_embeddings_partition ON embeddings(provider, model, dim);
	`); err != nil {
		db.Close()

		return nil, fmt.Errorf("apply vector schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// UpsertEmbedding stores vec under (symbolID, provider, model), with no
// known originating sir_hash (used by the legacy migration path, where the
// source row predates SIR-keyed embeddings).
func (s *Store) UpsertEmbedding(ctx context.Context, symbolID, provider, model string, vec []float32, now time.Time) error {
	return s.upsertEmbedding(ctx, symbolID, provider, model, "", vec, now)
}

// UpsertEmbeddingForSIR stores vec under (symbolID, provider, model),
// tagged with the sir_hash it was computed from, so an embedding is always
// bound to the exact SIR version that produced it.
func (s *Store) UpsertEmbeddingForSIR(ctx context.Context, symbolID, provider, model, sirHash string, vec []float32, now time.Time) error {
	return s.upsertEmbedding(ctx, symbolID, provider, model, sirHash, vec, now)
}

func (s *Store) upsertEmbedding(ctx context.Context, symbolID, provider, model, sirHash string, vec []float32, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (symbol_id, provider, model, dim, vector, sir_hash, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol_id, provider, model) DO UPDATE SET
			dim=excluded.dim, vector=excluded.vector, sir_hash=excluded.sir_hash, updated_at=excluded.updated_at`,
		symbolID, provider, model, len(vec), encodeVector(vec), sirHash, now.Unix())
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}

	return nil
}

// GetEmbeddingMeta returns the partition metadata for a stored embedding.
func (s *Store) GetEmbeddingMeta(ctx context.Context, symbolID, provider, model string) (EmbeddingMeta, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT symbol_id, provider, model, dim, sir_hash, updated_at FROM embeddings
		WHERE symbol_id = ? AND provider = ? AND model = ?`, symbolID, provider, model)

	var meta EmbeddingMeta

	var updatedAt int64

	err := row.Scan(&meta.SymbolID, &meta.Provider, &meta.Model, &meta.Dim, &meta.SIRHash, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return EmbeddingMeta{}, ErrNotFound
	}

	if err != nil {
		return EmbeddingMeta{}, fmt.Errorf("get embedding meta: %w", err)
	}

	meta.UpdatedAt = time.Unix(updatedAt, 0)

	return meta, nil
}

// DeleteEmbedding removes a stored embedding.
func (s *Store) DeleteEmbedding(ctx context.Context, symbolID, provider, model string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE symbol_id = ? AND provider = ? AND model = ?`,
		symbolID, provider, model)
	if err != nil {
		return fmt.Errorf("delete embedding: %w", err)
	}

	return nil
}

// ListEmbeddingsForSymbols returns the stored vectors for symbolIDs within
// the (provider, model) partition — used by coupling mining to build its
// per-file embedding set for the semantic signal.
func (s *Store) ListEmbeddingsForSymbols(ctx context.Context, provider, model string, symbolIDs []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(symbolIDs))

	if len(symbolIDs) == 0 {
		return out, nil
	}

	placeholders := make([]byte, 0, len(symbolIDs)*2)
	args := make([]any, 0, len(symbolIDs)+2)
	args = append(args, provider, model)

	for i, id := range symbolIDs {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}

		placeholders = append(placeholders, '?')
		args = append(args, id)
	}

	query := fmt.Sprintf(`SELECT symbol_id, vector FROM embeddings WHERE provider = ? AND model = ? AND symbol_id IN (%s)`,
		string(placeholders))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list embeddings for symbols: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var symbolID string

		var raw []byte

		if err := rows.Scan(&symbolID, &raw); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}

		out[symbolID] = decodeVector(raw)
	}

	return out, rows.Err()
}

// SearchNearest returns the topK nearest neighbors to query within the
// (provider, model) partition, ranked by cosine similarity descending.
func (s *Store) SearchNearest(ctx context.Context, provider, model string, query []float32, topK int) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol_id, vector FROM embeddings WHERE provider = ? AND model = ? AND dim = ?`,
		provider, model, len(query))
	if err != nil {
		return nil, fmt.Errorf("search nearest: %w", err)
	}
	defer rows.Close()

	var matches []Match

	for rows.Next() {
		var symbolID string

		var raw []byte

		if err := rows.Scan(&symbolID, &raw); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}

		vec := decodeVector(raw)
		matches = append(matches, Match{SymbolID: symbolID, Score: semanticScore(cosineSimilarity(query, vec))})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}

		return matches[i].SymbolID < matches[j].SymbolID
	})

	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}

	return matches, nil
}

// semanticScore maps a raw cosine similarity onto the documented [0, 1]
// semantic_score range: a real unit-norm embedding pair can have negative
// cosine, which must not flow into fusion/boost unclamped.
func semanticScore(cos float64) float64 {
	if cos < 0 {
		return 0
	}

	if cos > 1 {
		return 1
	}

	return cos
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64

	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))

	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}

	return buf
}

func decodeVector(raw []byte) []float32 {
	vec := make([]float32, len(raw)/4)

	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}

	return vec
}
