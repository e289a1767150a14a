package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethercode/aether/pkg/identity"
	"github.com/aethercode/aether/pkg/uast"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "meta.sqlite"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func storeSymbol(id, name, filePath string) uast.Symbol {
	return uast.Symbol{
		ID:                   id,
		Language:             "go",
		FilePath:             filePath,
		Kind:                 uast.KindFunction,
		Name:                 name,
		QualifiedName:        "pkg::" + name,
		SignatureFingerprint: "sig-" + id,
		ContentHash:          "hash-" + id,
	}
}

func TestSymbolLifecycleUpsertMarkRemoved(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, s.UpsertSymbol(ctx, storeSymbol("sym-a", "a", "src/a.go"), now))
	require.NoError(t, s.UpsertSymbol(ctx, storeSymbol("sym-b", "b", "src/a.go"), now))

	symbols, err := s.ListSymbolsForFile(ctx, "src/a.go")
	require.NoError(t, err)
	assert.Len(t, symbols, 2)

	// A fresh scan that only saw sym-a soft-removes sym-b.
	require.NoError(t, s.MarkRemoved(ctx, "src/a.go", []string{"sym-a"}, now.Add(time.Minute)))

	symbols, err = s.ListSymbolsForFile(ctx, "src/a.go")
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.Equal(t, "sym-a", symbols[0].ID)

	all, err := s.ListSymbols(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestProjectNoteRoundTripWithRefsAndArchive(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Unix(1_700_000_000, 0)

	note := ProjectNote{
		ID:          "note-1",
		Content:     "the retry queue drains on deploy",
		ContentHash: identity.ContentHash("the retry queue drains on deploy"),
		SourceType:  "session",
		SourceAgent: "planner",
		Tags:        []string{"deploy", "queue"},
		EntityRefs:  []string{"drift-1"},
		FileRefs:    []string{"src/queue.go"},
		SymbolRefs:  []string{"sym-queue"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	require.NoError(t, s.UpsertProjectNote(ctx, note))

	got, err := s.GetProjectNote(ctx, "note-1")
	require.NoError(t, err)
	assert.Equal(t, note.Tags, got.Tags)
	assert.Equal(t, note.FileRefs, got.FileRefs)
	assert.Equal(t, note.SymbolRefs, got.SymbolRefs)
	assert.Equal(t, "planner", got.SourceAgent)

	byFile, err := s.ListProjectNotesForFileRef(ctx, "src/queue.go", 10)
	require.NoError(t, err)
	require.Len(t, byFile, 1)

	found, err := s.SearchProjectNotesLexical(ctx, "retry queue", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)

	require.NoError(t, s.ArchiveProjectNote(ctx, "note-1", now.Add(time.Hour)))

	found, err = s.SearchProjectNotesLexical(ctx, "retry queue", 10)
	require.NoError(t, err)
	assert.Empty(t, found, "archived notes are hidden from search")
}

func TestCouplingEdgeOrderingInvariant(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	// Inserted in the wrong order; the store must normalize to file_a <= file_b.
	require.NoError(t, s.UpsertCouplingEdge(ctx, CouplingEdge{
		FileA:         "src/z.go",
		FileB:         "src/a.go",
		CoChangeCount: 3,
		FusedScore:    0.5,
		CouplingType:  "temporal",
	}))

	edges, err := s.ListCouplingEdgesForFile(ctx, "src/z.go", 10)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.LessOrEqual(t, edges[0].FileA, edges[0].FileB)
}

func TestSIRHistoryUniquePerHashAndMonotonicVersions(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	v1, err := s.WriteSIRBlob(ctx, "sym-a", []byte(`{"intent":"one"}`), "hash-1")
	require.NoError(t, err)
	assert.Equal(t, 1, v1)

	v2, err := s.WriteSIRBlob(ctx, "sym-a", []byte(`{"intent":"two"}`), "hash-2")
	require.NoError(t, err)
	assert.Equal(t, 2, v2)

	changed, err := s.RecordSIRVersionIfChanged(ctx, "sym-a", "hash-2")
	require.NoError(t, err)
	assert.False(t, changed, "same hash must not append history")

	history, err := s.ListSIRHistory(ctx, "sym-a")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Less(t, history[0].Version, history[1].Version)
}

func TestWriteSIRBlobSameHashDoesNotBumpVersionOrHistory(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	v1, err := s.WriteSIRBlob(ctx, "sym-a", []byte(`{"intent":"one"}`), "hash-1")
	require.NoError(t, err)
	assert.Equal(t, 1, v1)

	// A regeneration that re-derives an identical SIR (e.g. after a
	// body-only source edit) must be a version/history no-op.
	again, err := s.WriteSIRBlob(ctx, "sym-a", []byte(`{"intent":"one"}`), "hash-1")
	require.NoError(t, err)
	assert.Equal(t, 1, again)

	history, err := s.ListSIRHistory(ctx, "sym-a")
	require.NoError(t, err)
	require.Len(t, history, 1, "exactly one history row per (symbol_id, sir_hash)")

	body, hash, version, err := s.ReadSIRBlob(ctx, "sym-a")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"intent":"one"}`), body)
	assert.Equal(t, "hash-1", hash)
	assert.Equal(t, 1, version)
}

func TestTestedByReplaceIsAtomicPerTestFile(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.ReplaceTestedByForTestFile(ctx, "tests/a_test.go", []TestedByRow{
		{TargetFile: "src/a.go", TestFile: "tests/a_test.go", IntentCount: 2, Confidence: 0.9, Method: "naming_convention"},
		{TargetFile: "src/b.go", TestFile: "tests/a_test.go", IntentCount: 2, Confidence: 0.4, Method: "import_analysis"},
	}))

	rows, err := s.ListAllTestedBy(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	require.NoError(t, s.ReplaceTestedByForTestFile(ctx, "tests/a_test.go", []TestedByRow{
		{TargetFile: "src/a.go", TestFile: "tests/a_test.go", IntentCount: 3, Confidence: 0.9, Method: "naming_convention"},
	}))

	rows, err = s.ListAllTestedBy(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].IntentCount)
}

func TestIncrementSymbolAccessDebounced(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, s.UpsertSymbol(ctx, storeSymbol("sym-a", "a", "src/a.go"), now))

	require.NoError(t, s.IncrementSymbolAccessDebounced(ctx, "sym-a", now))
	require.NoError(t, s.IncrementSymbolAccessDebounced(ctx, "sym-a", now.Add(time.Second)))

	hit, err := s.GetSymbolHit(ctx, "sym-a")
	require.NoError(t, err)
	assert.Equal(t, 1, hit.AccessCount, "second increment inside the window is suppressed")

	require.NoError(t, s.IncrementSymbolAccessDebounced(ctx, "sym-a", now.Add(time.Minute)))

	hit, err = s.GetSymbolHit(ctx, "sym-a")
	require.NoError(t, err)
	assert.Equal(t, 2, hit.AccessCount)
}

func TestCommunitySnapshotAtomicReplace(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, s.ReplaceCommunitySnapshot(ctx, []CommunitySnapshot{
		{SymbolID: "sym-a", Community: 0},
		{SymbolID: "sym-b", Community: 1},
	}, now))

	require.NoError(t, s.ReplaceCommunitySnapshot(ctx, []CommunitySnapshot{
		{SymbolID: "sym-a", Community: 2},
	}, now.Add(time.Hour)))

	latest, err := s.ListLatestCommunitySnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, 2, latest[0].Community)
}
