package testintent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethercode/aether/pkg/graph"
	"github.com/aethercode/aether/pkg/identity"
	"github.com/aethercode/aether/pkg/store"
	"github.com/aethercode/aether/pkg/uast"
)

func writeFile(t *testing.T, workspace, rel, content string) {
	t.Helper()

	full := filepath.Join(workspace, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func testIntent(filePath, testName, intentText string) store.TestIntentRecord {
	return store.TestIntentRecord{
		ID:         identity.ContentHash(filePath + "\x1f" + testName + "\x1f" + intentText),
		FilePath:   filePath,
		TestName:   testName,
		IntentText: intentText,
		Language:   "rust",
	}
}

func newLinker(t *testing.T, workspace string) (*Linker, *store.Store, *graph.Graph) {
	t.Helper()

	st, err := store.Open(context.Background(), filepath.Join(workspace, "meta.sqlite"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	g := graph.New()

	return New(Config{Workspace: workspace, Store: st, Graph: g}), st, g
}

func TestRefreshInfersTargetFromNamingConvention(t *testing.T) {
	ctx := context.Background()
	workspace := t.TempDir()
	writeFile(t, workspace, "src/payment.rs", "fn charge() {}\n")
	writeFile(t, workspace, "tests/payment_test.rs", "#[test]\nfn test_charge() {}\n")

	linker, st, _ := newLinker(t, workspace)
	require.NoError(t, st.ReplaceTestIntentsForFile(ctx, "tests/payment_test.rs",
		[]store.TestIntentRecord{testIntent("tests/payment_test.rs", "test_charge", "charges correctly")}))

	links, err := linker.RefreshForTestFile(ctx, "tests/payment_test.rs")
	require.NoError(t, err)

	require.Len(t, links, 1)
	assert.Equal(t, "src/payment.rs", links[0].TargetFile)
	assert.Equal(t, MethodNaming, links[0].Method)
	assert.InDelta(t, 0.9, links[0].Confidence, 1e-9)
	assert.Equal(t, 1, links[0].IntentCount)
}

func TestRefreshInfersTargetsFromImportEdgesWithSplitConfidence(t *testing.T) {
	ctx := context.Background()
	workspace := t.TempDir()
	writeFile(t, workspace, "src/payment.ts", "export const x = 1;\n")
	writeFile(t, workspace, "src/ledger.ts", "export const y = 2;\n")
	writeFile(t, workspace, "tests/payment.test.ts",
		"import { x } from \"../src/payment\";\nimport { y } from \"../src/ledger\";\n")

	linker, st, _ := newLinker(t, workspace)
	require.NoError(t, st.ReplaceTestIntentsForFile(ctx, "tests/payment.test.ts",
		[]store.TestIntentRecord{testIntent("tests/payment.test.ts", "test", "handles payment flows")}))

	sourceID := identity.FileSourceID("tests/payment.test.ts")
	require.NoError(t, st.UpsertEdges(ctx, "tests/payment.test.ts", []uast.Edge{
		{SourceID: sourceID, TargetQualifiedName: "../src/payment", Kind: uast.EdgeDependsOn, FilePath: "tests/payment.test.ts"},
		{SourceID: sourceID, TargetQualifiedName: "../src/ledger", Kind: uast.EdgeDependsOn, FilePath: "tests/payment.test.ts"},
	}))

	links, err := linker.RefreshForTestFile(ctx, "tests/payment.test.ts")
	require.NoError(t, err)

	byTarget := make(map[string]InferredTarget, len(links))
	for _, link := range links {
		byTarget[link.TargetFile] = link
	}

	require.Contains(t, byTarget, "src/payment.ts")
	require.Contains(t, byTarget, "src/ledger.ts")
	assert.Equal(t, MethodImport, byTarget["src/payment.ts"].Method)
	assert.InDelta(t, 0.4, byTarget["src/payment.ts"].Confidence, 1e-9)
	assert.InDelta(t, 0.4, byTarget["src/ledger.ts"].Confidence, 1e-9)
}

func TestRefreshSeedsTargetsFromCouplingEdges(t *testing.T) {
	ctx := context.Background()
	workspace := t.TempDir()
	writeFile(t, workspace, "src/payment.rs", "fn charge() {}\n")
	writeFile(t, workspace, "tests/payment_cases.rs", "#[test]\nfn test_charge() {}\n")

	linker, st, _ := newLinker(t, workspace)
	require.NoError(t, st.ReplaceTestIntentsForFile(ctx, "tests/payment_cases.rs",
		[]store.TestIntentRecord{testIntent("tests/payment_cases.rs", "test_charge", "charges correctly")}))
	require.NoError(t, st.UpsertCouplingEdge(ctx, store.CouplingEdge{
		FileA:         "src/payment.rs",
		FileB:         "tests/payment_cases.rs",
		CoChangeCount: 5,
		TotalCommitsA: 10,
		TotalCommitsB: 7,
		TemporalScore: 0.5,
		FusedScore:    0.6,
		CouplingType:  "temporal",
		LastCoChangeAt: time.Unix(1_700_000_000, 0),
		UpdatedAt:      time.Unix(1_700_000_100, 0),
	}))

	links, err := linker.RefreshForTestFile(ctx, "tests/payment_cases.rs")
	require.NoError(t, err)

	var found bool

	for _, link := range links {
		if link.TargetFile == "src/payment.rs" && link.Method == MethodCoupling {
			found = true

			assert.InDelta(t, 0.42, link.Confidence, 1e-9)
		}
	}

	assert.True(t, found, "expected coupling-derived target with weighted confidence")
}

func TestRefreshDetectsRustSameFileTests(t *testing.T) {
	ctx := context.Background()
	workspace := t.TempDir()
	writeFile(t, workspace, "src/charge.rs",
		"fn charge() {}\n\n#[cfg(test)]\nmod tests {\n  #[test]\n  fn test_charge() {}\n}\n")

	linker, st, _ := newLinker(t, workspace)
	require.NoError(t, st.ReplaceTestIntentsForFile(ctx, "src/charge.rs",
		[]store.TestIntentRecord{testIntent("src/charge.rs", "test_charge", "charges correctly")}))

	links, err := linker.RefreshForTestFile(ctx, "src/charge.rs")
	require.NoError(t, err)

	require.Len(t, links, 1)
	assert.Equal(t, "src/charge.rs", links[0].TargetFile)
	assert.Equal(t, MethodSameFile, links[0].Method)
	assert.InDelta(t, 1.0, links[0].Confidence, 1e-9)
}

func TestRefreshWithNoIntentsClearsRows(t *testing.T) {
	ctx := context.Background()
	workspace := t.TempDir()

	linker, _, g := newLinker(t, workspace)
	g.ReplaceTestedByForTestFile(ctx, "tests/stale_test.rs", []graph.TestedBy{{
		TargetFile: "src/stale.rs", TestFile: "tests/stale_test.rs", Confidence: 0.9, Method: MethodNaming,
	}})

	links, err := linker.RefreshForTestFile(ctx, "tests/stale_test.rs")
	require.NoError(t, err)

	assert.Empty(t, links)
	assert.Empty(t, g.ListTestedByForTargetFile(ctx, "src/stale.rs"))
}

func TestGuardsIncludeIntentsForTargetFile(t *testing.T) {
	ctx := context.Background()
	workspace := t.TempDir()

	linker, st, g := newLinker(t, workspace)
	require.NoError(t, st.ReplaceTestIntentsForFile(ctx, "tests/payment_test.rs", []store.TestIntentRecord{
		testIntent("tests/payment_test.rs", "test_charge", "charges correctly"),
		testIntent("tests/payment_test.rs", "test_errors", "handles invalid input"),
	}))
	g.ReplaceTestedByForTestFile(ctx, "tests/payment_test.rs", []graph.TestedBy{{
		TargetFile:  "src/payment.rs",
		TestFile:    "tests/payment_test.rs",
		IntentCount: 2,
		Confidence:  0.9,
		Method:      MethodNaming,
	}})

	guards, err := linker.ListGuardsForTargetFile(ctx, "src/payment.rs")
	require.NoError(t, err)

	require.Len(t, guards, 1)
	assert.Equal(t, "tests/payment_test.rs", guards[0].TestFile)
	assert.Contains(t, guards[0].Intents, "charges correctly")
	assert.Contains(t, guards[0].Intents, "handles invalid input")
}

func TestAddCandidateKeepsStrongestAndBreaksTiesByMethodRank(t *testing.T) {
	candidates := make(map[string]candidate)
	addCandidate(candidates, "src/a.rs", candidate{confidence: 0.4, method: MethodCoupling})
	addCandidate(candidates, "src/a.rs", candidate{confidence: 0.9, method: MethodNaming})
	addCandidate(candidates, "src/a.rs", candidate{confidence: 0.9, method: MethodImport})

	assert.Equal(t, MethodNaming, candidates["src/a.rs"].method)

	addCandidate(candidates, "src/a.rs", candidate{confidence: 1.0, method: MethodSameFile})
	assert.Equal(t, MethodSameFile, candidates["src/a.rs"].method)
}

func TestIsProbablyTestFile(t *testing.T) {
	assert.True(t, isProbablyTestFile("tests/a.rs"))
	assert.True(t, isProbablyTestFile("pkg/__tests__/a.ts"))
	assert.True(t, isProbablyTestFile("src/a.test.ts"))
	assert.True(t, isProbablyTestFile("src/test_a.py"))
	assert.False(t, isProbablyTestFile("src/a.rs"))
}
