package ask

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethercode/aether/pkg/identity"
	"github.com/aethercode/aether/pkg/store"
	"github.com/aethercode/aether/pkg/uast"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "meta.sqlite"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return st
}

func paymentSymbol() uast.Symbol {
	return uast.Symbol{
		ID:                   "sym-payment",
		Language:             "rust",
		FilePath:             "src/payment.rs",
		Kind:                 uast.KindFunction,
		Name:                 "charge_payment",
		QualifiedName:        "payment::charge_payment",
		SignatureFingerprint: "sig",
		ContentHash:          "hash",
	}
}

func TestAskReturnsMixedResultKinds(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, st.UpsertSymbol(ctx, paymentSymbol(), now))
	require.NoError(t, st.UpsertProjectNote(ctx, store.ProjectNote{
		ID:          "note-1",
		Content:     "payment retries use exponential backoff",
		ContentHash: identity.ContentHash("payment retries use exponential backoff"),
		SourceType:  "manual",
		CreatedAt:   now,
		UpdatedAt:   now,
	}))
	require.NoError(t, st.ReplaceTestIntentsForFile(ctx, "tests/payment_test.rs", []store.TestIntentRecord{{
		ID:         "intent-1",
		FilePath:   "tests/payment_test.rs",
		TestName:   "test_charge",
		IntentText: "payment is charged exactly once",
		Language:   "rust",
	}}))
	require.NoError(t, st.UpsertCouplingEdge(ctx, store.CouplingEdge{
		FileA:         "src/ledger.rs",
		FileB:         "src/payment.rs",
		CoChangeCount: 6,
		TotalCommitsA: 10,
		TotalCommitsB: 8,
		TemporalScore: 0.75,
		FusedScore:    0.7,
		CouplingType:  "multi",
		LastCoChangeAt: now,
		UpdatedAt:      now,
	}))

	engine := NewEngine(Options{Store: st})

	result, err := engine.Ask(ctx, Request{Query: "payment", Limit: 10, Now: now})
	require.NoError(t, err)

	assert.Equal(t, SchemaVersion, result.SchemaVersion)
	assert.Equal(t, "payment", result.Query)

	kinds := make(map[string]bool)
	for _, item := range result.Results {
		kinds[item.Kind] = true
		assert.GreaterOrEqual(t, item.RelevanceScore, 0.0)
		assert.LessOrEqual(t, item.RelevanceScore, 1.0)
	}

	assert.True(t, kinds[KindSymbol], "expected a symbol result")
	assert.True(t, kinds[KindNote], "expected a note result")
	assert.True(t, kinds[KindTestGuard], "expected a test-guard result")
	assert.True(t, kinds[KindCoupledFile], "expected a coupled-file result")
}

func TestAskIncrementsAccessCountsForSymbolsAndNotes(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, st.UpsertSymbol(ctx, paymentSymbol(), now))
	require.NoError(t, st.UpsertProjectNote(ctx, store.ProjectNote{
		ID:          "note-1",
		Content:     "payment notes",
		ContentHash: identity.ContentHash("payment notes"),
		CreatedAt:   now,
		UpdatedAt:   now,
	}))

	engine := NewEngine(Options{Store: st})

	_, err := engine.Ask(ctx, Request{Query: "payment", Limit: 10, Now: now})
	require.NoError(t, err)

	hit, err := st.GetSymbolHit(ctx, "sym-payment")
	require.NoError(t, err)
	assert.Equal(t, 1, hit.AccessCount)

	note, err := st.GetProjectNote(ctx, "note-1")
	require.NoError(t, err)
	assert.Equal(t, 1, note.AccessCount)
}

func TestAskHonorsIncludeFlags(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, st.UpsertSymbol(ctx, paymentSymbol(), now))
	require.NoError(t, st.UpsertProjectNote(ctx, store.ProjectNote{
		ID:          "note-1",
		Content:     "payment notes",
		ContentHash: identity.ContentHash("payment notes"),
		CreatedAt:   now,
		UpdatedAt:   now,
	}))

	engine := NewEngine(Options{Store: st})

	result, err := engine.Ask(ctx, Request{Query: "payment", Limit: 10, Include: []string{IncludeNotes}, Now: now})
	require.NoError(t, err)

	require.NotEmpty(t, result.Results)

	for _, item := range result.Results {
		assert.Equal(t, KindNote, item.Kind)
	}
}

func TestAskEmptyQueryReturnsEmptyEnvelope(t *testing.T) {
	engine := NewEngine(Options{Store: openStore(t)})

	result, err := engine.Ask(context.Background(), Request{Query: "   "})
	require.NoError(t, err)

	assert.Empty(t, result.Results)
	assert.Empty(t, result.Query)
}

func TestMergeCandidatesPrefersMoreAccessedItemOnEqualBase(t *testing.T) {
	engine := NewEngine(Options{Store: nil})
	now := time.Unix(1_700_000_000, 0)

	symbols := []rankedCandidate{{
		key:  "symbol:a",
		item: ResultItem{Kind: KindSymbol, ID: "a"},
	}}
	notes := []rankedCandidate{{
		key:            "note:n1",
		accessCount:    200,
		lastAccessedAt: now,
		item:           ResultItem{Kind: KindNote, ID: "n1"},
	}}

	results := engine.mergeCandidates(now, 10, symbols, notes)
	require.Len(t, results, 2)
	assert.Equal(t, KindNote, results[0].Kind)
	assert.Greater(t, results[0].RelevanceScore, results[1].RelevanceScore)
}

func TestCompactSnippetTruncatesOnRuneBoundary(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "日本"
	}

	snippet := compactSnippet(long)
	assert.LessOrEqual(t, len(snippet), snippetLimit+3)
	assert.True(t, len(snippet) > 0)
}
