package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aethercode/aether/pkg/graph"
	"github.com/aethercode/aether/pkg/sir"
	"github.com/aethercode/aether/pkg/store"
	"github.com/aethercode/aether/pkg/uast"
)

func (ix *Indexer) absPath(rel string) string {
	return filepath.Join(ix.repoRoot, filepath.FromSlash(rel))
}

// IndexFile parses a single file and runs the full write pipeline in
// order: write symbols, write unresolved edges, sync graph edges,
// classify the previous/current symbol diff, schedule SIR generation for
// added/updated symbols, and tombstone removed ones.
func (ix *Indexer) IndexFile(ctx context.Context, rel string) error {
	content, err := os.ReadFile(ix.absPath(rel))
	if err != nil {
		return fmt.Errorf("read %s: %w", rel, err)
	}

	language := ix.parser.GetLanguage(rel)
	if language == "" {
		return fmt.Errorf("unsupported file %s", rel)
	}

	result, err := ix.parser.ParseSymbols(ctx, language, rel, content)
	if err != nil {
		return fmt.Errorf("parse %s: %w", rel, err)
	}

	previous, err := ix.store.ListSymbolsForFile(ctx, rel)
	if err != nil {
		return fmt.Errorf("list previous symbols for %s: %w", rel, err)
	}

	now := time.Now()

	keepIDs := make([]string, 0, len(result.Symbols))

	for _, sym := range result.Symbols {
		if err := ix.store.UpsertSymbol(ctx, sym, now); err != nil {
			return fmt.Errorf("upsert symbol %s: %w", sym.ID, err)
		}

		keepIDs = append(keepIDs, sym.ID)

		ix.mu.Lock()
		ix.qualifiedIndex[sym.QualifiedName] = sym.ID
		ix.mu.Unlock()

		ix.graph.UpsertSymbolNode(ctx, sym.ID, sym.FilePath)
	}

	if err := ix.store.MarkRemoved(ctx, rel, keepIDs, now); err != nil {
		return fmt.Errorf("mark removed for %s: %w", rel, err)
	}

	if err := ix.store.UpsertEdges(ctx, rel, result.Edges); err != nil {
		return fmt.Errorf("upsert edges for %s: %w", rel, err)
	}

	ix.syncGraphEdges(ctx, rel, result.Edges)

	intents := make([]store.TestIntentRecord, 0, len(result.TestIntents))
	for _, ti := range result.TestIntents {
		intents = append(intents, store.TestIntentRecord{
			ID:         ti.IntentID(),
			FilePath:   ti.FilePath,
			TestName:   ti.TestName,
			IntentText: ti.IntentText,
			GroupLabel: ti.GroupLabel,
			Language:   ti.Language,
			SymbolID:   ti.SymbolID,
		})
	}

	if err := ix.store.ReplaceTestIntentsForFile(ctx, rel, intents); err != nil {
		return fmt.Errorf("replace test intents for %s: %w", rel, err)
	}

	for _, change := range diffSymbols(previous, result.Symbols) {
		switch change.Kind {
		case ChangeAdded, ChangeUpdated:
			ix.scheduleSIR(ctx, change.Symbol, content)
		case ChangeRemoved:
			// Soft-deleted above via MarkRemoved; no further action.
		}
	}

	return nil
}

// syncGraphEdges resolves result's edges against the global qualified-name
// index and replaces rel's contribution to the in-memory graph. Edges whose
// target can't yet be resolved (forward references to not-yet-indexed
// files) stay recorded only in the Record Store's unresolved form until a
// later file indexes the target and a future resync picks them up.
func (ix *Indexer) syncGraphEdges(ctx context.Context, rel string, edges []uast.Edge) {
	ix.graph.DeleteEdgesForFile(ctx, rel)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, e := range edges {
		targetID, ok := ix.qualifiedIndex[e.TargetQualifiedName]
		if !ok {
			continue
		}

		kind := graph.EdgeDependsOn
		if e.Kind == uast.EdgeCalls {
			kind = graph.EdgeCalls
		}

		ix.graph.UpsertEdge(ctx, graph.Edge{From: e.SourceID, To: targetID, Kind: kind, Weight: 1})
	}
}

// scheduleSIR runs SIR generation synchronously for a changed symbol. The
// Lifecycle itself bounds concurrency and coalesces duplicate in-flight
// requests, so callers (including a future concurrent batch indexer) can
// call this freely without their own throttling.
func (ix *Indexer) scheduleSIR(ctx context.Context, sym uast.Symbol, content []byte) {
	req := sir.GenerationRequest{
		SymbolID:    sym.ID,
		Language:    sym.Language,
		Declaration: fmt.Sprintf("%s %s", sym.Kind, sym.QualifiedName),
		Body:        extractLines(content, sym.Range.StartLine, sym.Range.EndLine),
		SourceHash:  sym.ContentHash,
	}

	if err := ix.sir.Generate(ctx, req); err != nil {
		ix.log.Warn("indexer: sir generation failed", "symbol_id", sym.ID, "error", err)

		return
	}

	if ix.vec == nil || ix.embed == nil {
		return
	}

	ix.embedSymbol(ctx, sym)
}

// embedSymbol computes and upserts an embedding for sym's freshly generated
// SIR, keyed by its sir_hash.
func (ix *Indexer) embedSymbol(ctx context.Context, sym uast.Symbol) {
	body, sirHash, _, err := ix.store.ReadSIRBlob(ctx, sym.ID)
	if err != nil {
		ix.log.Warn("indexer: read sir blob for embedding failed", "symbol_id", sym.ID, "error", err)

		return
	}

	vec, err := ix.embed.Embed(ctx, string(body))
	if err != nil {
		ix.log.Warn("indexer: embed failed", "symbol_id", sym.ID, "error", err)

		return
	}

	err = ix.vec.UpsertEmbeddingForSIR(ctx, sym.ID, ix.embed.Provider(), ix.embed.Model(), sirHash, vec, time.Now())
	if err != nil {
		ix.log.Warn("indexer: upsert embedding failed", "symbol_id", sym.ID, "error", err)
	}
}

// removeFile handles a file disappearing from disk between scans: every
// live symbol it owned is tombstoned and its graph contribution dropped.
func (ix *Indexer) removeFile(ctx context.Context, rel string) error {
	if err := ix.store.MarkRemoved(ctx, rel, nil, time.Now()); err != nil {
		return fmt.Errorf("mark removed for deleted file %s: %w", rel, err)
	}

	ix.graph.DeleteEdgesForFile(ctx, rel)

	if err := ix.store.ReplaceTestIntentsForFile(ctx, rel, nil); err != nil {
		return fmt.Errorf("clear test intents for deleted file %s: %w", rel, err)
	}

	return nil
}

// extractLines returns the 1-based inclusive [start, end] line range of
// content, joined with newlines — an approximation of a symbol's source
// snippet good enough for SIR generation input.
func extractLines(content []byte, start, end uint) string {
	lines := strings.Split(string(content), "\n")
	if start == 0 {
		start = 1
	}

	if int(start) > len(lines) {
		return ""
	}

	if int(end) > len(lines) {
		end = uint(len(lines))
	}

	return strings.Join(lines[start-1:end], "\n")
}

// migrateLegacyEmbeddings runs the one-time Record Store -> Vector Store
// embedding migration, skipped automatically once every row is marked
// migrated.
func (ix *Indexer) migrateLegacyEmbeddings(ctx context.Context) {
	rows, err := ix.store.ListUnmigratedEmbeddings(ctx)
	if err != nil {
		ix.log.Warn("indexer: list unmigrated embeddings failed", "error", err)

		return
	}

	if len(rows) == 0 {
		return
	}

	migrated, err := ix.vec.MigrateLegacy(ctx, legacyEmbeddingsFrom(rows), ix.store.MarkEmbeddingMigrated, time.Now())
	if err != nil {
		ix.log.Warn("indexer: legacy embedding migration failed", "error", err, "migrated", migrated)

		return
	}

	ix.log.Info("indexer: legacy embedding migration complete", "migrated", migrated)
}
