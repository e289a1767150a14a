package coupling

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethercode/aether/pkg/config"
	"github.com/aethercode/aether/pkg/store"
)

func testAnalyzer() *Analyzer {
	return New(Config{
		Coupling: config.CouplingConfig{
			Enabled:             true,
			CommitWindow:        500,
			MinCoChangeCount:    3,
			BulkCommitThreshold: 30,
			TemporalWeight:      0.5,
			StaticWeight:        0.3,
			SemanticWeight:      0.2,
		},
	})
}

func TestFusedScoreWeightsSignals(t *testing.T) {
	a := testAnalyzer()

	assert.InDelta(t, 0.5*0.8+0.3*1.0+0.2*0.4, a.fusedScore(0.8, 1.0, 0.4), 1e-9)
	assert.InDelta(t, 0.0, a.fusedScore(0, 0, 0), 1e-9)
	assert.InDelta(t, 1.0, a.fusedScore(1, 1, 1), 1e-9)
}

func TestFusedScoreNormalizesNonUnitWeights(t *testing.T) {
	a := New(Config{
		Coupling: config.CouplingConfig{
			TemporalWeight: 1,
			StaticWeight:   1,
			SemanticWeight: 2,
		},
	})

	// 1/4 + 1/4 + 2/4 over unit signals.
	assert.InDelta(t, 1.0, a.fusedScore(1, 1, 1), 1e-9)
	assert.InDelta(t, 0.5, a.fusedScore(0, 0, 1), 1e-9)
}

func TestClassifyCouplingTypeBranches(t *testing.T) {
	a := testAnalyzer()

	cases := []struct {
		temporal, static, semantic float64
		want                       string
	}{
		{0.3, 1.0, 0.0, "multi"},
		{0.1, 1.0, 0.0, "structural"},
		{0.1, 0.0, 0.5, "semantic"},
		{0.6, 0.0, 0.1, "hidden_operational"},
		{0.3, 0.0, 0.1, "temporal"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, a.classifyCouplingType(tc.temporal, tc.static, tc.semantic),
			"temporal=%v static=%v semantic=%v", tc.temporal, tc.static, tc.semantic)
	}
}

func TestRiskLevelBuckets(t *testing.T) {
	assert.Equal(t, RiskCritical, RiskLevelFromScore(0.8))
	assert.Equal(t, RiskHigh, RiskLevelFromScore(0.5))
	assert.Equal(t, RiskMedium, RiskLevelFromScore(0.25))
	assert.Equal(t, RiskLow, RiskLevelFromScore(0.1))
}

func TestParseCouplingTypeLenient(t *testing.T) {
	assert.Equal(t, "multi", ParseCouplingType("multi"))
	assert.Equal(t, "temporal", ParseCouplingType("unheard-of"))
}

func TestMineWithoutGitRepoDegradesGracefully(t *testing.T) {
	ctx := context.Background()

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "meta.sqlite"), nil)
	require.NoError(t, err)
	defer st.Close()

	a := New(Config{
		RepoRoot: t.TempDir(), // no .git anywhere underneath
		Store:    st,
		Coupling: config.CouplingConfig{Enabled: true, CommitWindow: 500},
	})

	outcome, err := a.Mine(ctx, nil)
	require.NoError(t, err)

	assert.False(t, outcome.GitRepoFound)
	assert.False(t, outcome.Mined)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}), 1e-9)
}
