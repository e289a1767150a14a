package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func match(id string) Match {
	return Match{SymbolID: id, QualifiedName: id}
}

func TestRRFScoreMatchesFormula(t *testing.T) {
	assert.InDelta(t, 1.0/61.0, RRFScore(0), 1e-12)
	assert.InDelta(t, 1.0/70.0, RRFScore(9), 1e-12)
}

func TestRRFFuseIsOrderInsensitiveToListPermutation(t *testing.T) {
	listA := []Match{match("x"), match("y"), match("z")}
	listB := []Match{match("z"), match("q")}

	fused := rrfFuse(listA, listB)
	permuted := rrfFuse(listB, listA)

	require.Equal(t, len(fused), len(permuted))

	for i := range fused {
		assert.Equal(t, fused[i].SymbolID, permuted[i].SymbolID)
		assert.InDelta(t, fused[i].Score, permuted[i].Score, 1e-12)
	}
}

func TestRRFFuseAccumulatesAcrossLists(t *testing.T) {
	fused := rrfFuse([]Match{match("x")}, []Match{match("x")})

	require.Len(t, fused, 1)
	assert.InDelta(t, 2.0/61.0, fused[0].Score, 1e-12)
}

func TestBoostIsMonotonicInAccessCount(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	low := RecencyAccessBoost(1.0, 1, now, 14*24*time.Hour, now)
	high := RecencyAccessBoost(1.0, 50, now, 14*24*time.Hour, now)

	assert.Greater(t, high, low)
}

func TestBoostIsMonotonicInRecency(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	halfLife := 14 * 24 * time.Hour

	recent := RecencyAccessBoost(1.0, 5, now.Add(-24*time.Hour), halfLife, now)
	stale := RecencyAccessBoost(1.0, 5, now.Add(-30*24*time.Hour), halfLife, now)

	assert.Greater(t, recent, stale)
}

func TestBoostSkipsRecencyFactorWhenNeverAccessed(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	boosted := RecencyAccessBoost(1.0, 0, time.Time{}, 14*24*time.Hour, now)

	assert.InDelta(t, 1.0, boosted, 1e-12)
}

func TestApplyBoostPreservesMatchOrderFields(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	in := []Match{{SymbolID: "a", Score: 0.5, AccessCount: 3, LastAccessedAt: now.Add(-time.Hour)}}

	out := applyBoost(in, 14*24*time.Hour, now)

	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].SymbolID)
	assert.Greater(t, out[0].Score, 0.5)
}

func TestThresholdPrecedenceAndClamp(t *testing.T) {
	thresholds := Thresholds{
		Default:    0.55,
		Manual:     map[string]float64{"rust": 0.99},
		Calibrated: map[string]float64{"rust": 0.5, "python": 0.1},
	}

	assert.InDelta(t, 0.95, thresholds.For("rust"), 1e-9, "manual wins, clamped to 0.95")
	assert.InDelta(t, 0.3, thresholds.For("python"), 1e-9, "calibrated wins, clamped to 0.3")
	assert.InDelta(t, 0.55, thresholds.For("go"), 1e-9, "default otherwise")
}
