package causal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aethercode/aether/pkg/store"
)

func TestParseLookbackSpecGrammar(t *testing.T) {
	assert.Equal(t, lookbackSpec{kind: lookbackCommits, n: 20}, parseLookbackSpec(""))
	assert.Equal(t, lookbackSpec{kind: lookbackCommits, n: 15}, parseLookbackSpec("15 commits"))
	assert.Equal(t, lookbackSpec{kind: lookbackDays, n: 90}, parseLookbackSpec("90d"))
	assert.Equal(t, lookbackSpec{kind: lookbackSinceCommit, prefix: "abc"}, parseLookbackSpec("since:abc"))
	assert.Equal(t, lookbackSpec{kind: lookbackCommits, n: 20}, parseLookbackSpec("nonsense"))
}

func TestBuildPathIDsWalksParentTree(t *testing.T) {
	parentOf := map[string]string{
		"c": "b",
		"b": "a",
	}

	assert.Equal(t, []string{"a", "b", "c"}, buildPathIDs("a", "c", parentOf))
	assert.Equal(t, []string{"a"}, buildPathIDs("a", "a", parentOf))

	// A broken parent chain degrades to the two endpoints.
	assert.Equal(t, []string{"a", "z"}, buildPathIDs("a", "z", parentOf))
}

func TestLatestChangeIndexInWindow(t *testing.T) {
	cutoff := time.Unix(1_700_000_000, 0)

	history := []store.SIRHistoryEntry{
		{Version: 1, RecordedAt: cutoff.Add(-48 * time.Hour)},
		{Version: 2, RecordedAt: cutoff.Add(-24 * time.Hour)},
		{Version: 3, RecordedAt: cutoff.Add(24 * time.Hour)},
		{Version: 4, RecordedAt: cutoff.Add(48 * time.Hour)},
	}

	// The latest entry at or after the cutoff.
	assert.Equal(t, 3, latestChangeIndexInWindow(history, cutoff))

	// Nothing inside the window.
	old := history[:2]
	assert.Equal(t, -1, latestChangeIndexInWindow(old, cutoff))
}

func TestRecencyWeightDecaysWithAge(t *testing.T) {
	// recency_weight = 1 / (1 + days_since_change); sanity-check the
	// clamped score composition at the formula level.
	recent := 1.0 / (1 + 1.0)
	stale := 1.0 / (1 + 30.0)

	assert.Greater(t, recent, stale)
	assert.InDelta(t, 0.5, recent, 1e-9)
}

func TestClampHelpers(t *testing.T) {
	assert.Equal(t, 1, clampInt(0, 1, 10))
	assert.Equal(t, 10, clampInt(50, 1, 10))
	assert.InDelta(t, 0.0, clamp01(-2), 1e-9)
	assert.InDelta(t, 1.0, clamp01(7), 1e-9)
}
