package health

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethercode/aether/pkg/config"
	"github.com/aethercode/aether/pkg/graph"
	"github.com/aethercode/aether/pkg/store"
	"github.com/aethercode/aether/pkg/uast"
)

func defaultWeights() config.HealthRiskWeights {
	return config.HealthRiskWeights{
		PageRank: 0.3,
		TestGap:  0.25,
		Drift:    0.2,
		NoSIR:    0.15,
		Recency:  0.1,
	}
}

func testSymbol(id, name, filePath string) uast.Symbol {
	return uast.Symbol{
		ID:                   id,
		Language:             "rust",
		FilePath:             filePath,
		Kind:                 uast.KindFunction,
		Name:                 name,
		QualifiedName:        "demo::" + name,
		SignatureFingerprint: "sig-" + id,
		ContentHash:          "hash-" + id,
	}
}

func TestRiskScoreFormulaAppliesWeights(t *testing.T) {
	sc := symbolContext{
		symbol:             testSymbol("sym-a", "a", "src/a.rs"),
		pageRank:           0.5,
		pageRankNormalized: 0.5,
		pageRankPercentile: 5,
		testCount:          1,
		testCoverageRatio:  0.25,
		driftMagnitude:     0.4,
		hasSIR:             false,
		edgeCaseCount:      4,
		accessRecency:      0.8,
	}

	score, factors := computeRiskScore(sc, defaultWeights())

	expected := 0.3*0.5 + 0.25*0.75 + 0.2*0.4 + 0.15 + 0.1*0.8
	assert.InDelta(t, expected, score, 1e-9)
	assert.NotEmpty(t, factors)
}

func TestRiskScoreSurfacesBoundaryViolations(t *testing.T) {
	sc := symbolContext{
		symbol:             testSymbol("sym-a", "a", "src/a.rs"),
		boundaryViolations: 3,
	}

	_, factors := computeRiskScore(sc, defaultWeights())

	assert.Contains(t, factors, "boundary violation: calls into 3 other communities")
}

func TestCoverageRatio(t *testing.T) {
	assert.InDelta(t, 0.5, coverageRatio(2, 4), 1e-9)
	assert.InDelta(t, 1.0, coverageRatio(9, 4), 1e-9)
	assert.InDelta(t, 1.0, coverageRatio(1, 0), 1e-9)
	assert.InDelta(t, 0.0, coverageRatio(0, 0), 1e-9)
}

func TestLeafName(t *testing.T) {
	assert.Equal(t, "run", leafName("Widget::run"))
	assert.Equal(t, "run", leafName("run"))
	assert.Equal(t, "Widget::", leafName("Widget::"))
}

func TestEffectiveIncludesDefaultsToAllSections(t *testing.T) {
	all := effectiveIncludes(nil)
	assert.Len(t, all, 5)

	only := effectiveIncludes([]string{IncludeCycles, "bogus"})
	assert.Equal(t, map[string]bool{IncludeCycles: true}, only)
}

func TestReportFindsCyclesOrphansAndHotspots(t *testing.T) {
	ctx := context.Background()

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "meta.sqlite"), nil)
	require.NoError(t, err)
	defer st.Close()

	g := graph.New()
	now := time.Now()

	symbols := []uast.Symbol{
		testSymbol("sym-a", "a", "src/a.rs"),
		testSymbol("sym-b", "b", "src/b.rs"),
		testSymbol("sym-c", "c", "src/c.rs"),
		testSymbol("sym-orphan", "orphan", "src/legacy/orphan.rs"),
	}

	for _, sym := range symbols {
		require.NoError(t, st.UpsertSymbol(ctx, sym, now))
		g.UpsertSymbolNode(ctx, sym.ID, sym.FilePath)
	}

	g.UpsertEdge(ctx, graph.Edge{From: "sym-a", To: "sym-b", Kind: graph.EdgeCalls})
	g.UpsertEdge(ctx, graph.Edge{From: "sym-b", To: "sym-c", Kind: graph.EdgeCalls})
	g.UpsertEdge(ctx, graph.Edge{From: "sym-c", To: "sym-a", Kind: graph.EdgeCalls})

	analyzer := New(Config{
		Store:  st,
		Graph:  g,
		Health: config.HealthConfig{Enabled: true, RiskWeights: defaultWeights()},
	})

	report, err := analyzer.Report(ctx, ReportRequest{
		Include: []string{IncludeCycles, IncludeOrphans, IncludeRiskHotspots},
		Limit:   10,
		MinRisk: 0.01,
	})
	require.NoError(t, err)

	assert.Equal(t, SchemaVersion, report.SchemaVersion)
	assert.Equal(t, 4, report.Analysis.TotalSymbols)
	assert.Equal(t, 3, report.Analysis.TotalEdges)
	assert.Equal(t, 1, report.Analysis.CyclesDetected)
	require.NotEmpty(t, report.Cycles)
	assert.Contains(t, report.Cycles[0].Note, "Circular:")
	require.NotEmpty(t, report.Orphans)
	assert.Equal(t, "sym-orphan", report.Orphans[0].Symbols[0].ID)
	assert.NotEmpty(t, report.RiskHotspots)
	assert.Empty(t, report.CriticalSymbols, "critical_symbols was not requested")
}

func TestReportDisabledByConfigShortCircuits(t *testing.T) {
	ctx := context.Background()

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "meta.sqlite"), nil)
	require.NoError(t, err)
	defer st.Close()

	analyzer := New(Config{Store: st, Graph: graph.New()})

	report, err := analyzer.Report(ctx, ReportRequest{})
	require.NoError(t, err)

	assert.Contains(t, report.Notes[0], "disabled by config")
	assert.Empty(t, report.CriticalSymbols)
	assert.Empty(t, report.Cycles)
}
