package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethercode/aether/pkg/analyzers/coupling"
	"github.com/aethercode/aether/pkg/config"
)

func TestRootCommandRegistersCoreOperations(t *testing.T) {
	root := NewRootCommand()

	names := make(map[string]bool)
	for _, sub := range root.Commands() {
		names[sub.Name()] = true
	}

	for _, expected := range []string{
		"index", "watch", "search", "calibrate", "hover",
		"remember", "recall", "notes", "ask",
		"coupling", "drift", "causal", "intent", "health", "test-intents", "models",
	} {
		assert.True(t, names[expected], "missing subcommand %q", expected)
	}
}

func TestThresholdsFromConfigPrecedence(t *testing.T) {
	cfg := config.SearchConfig{
		Thresholds: config.SearchThresholds{
			Default: 0.55,
			Rust:    0.6,
		},
		CalibratedThresholds: map[string]float64{"rust": 0.4, "python": 0.45},
	}

	thresholds := thresholdsFromConfig(cfg)

	// Manual beats calibrated; calibrated beats default.
	assert.InDelta(t, 0.6, thresholds.For("rust"), 1e-9)
	assert.InDelta(t, 0.45, thresholds.For("python"), 1e-9)
	assert.InDelta(t, 0.55, thresholds.For("go"), 1e-9)
}

func TestParseRiskLevel(t *testing.T) {
	assert.Equal(t, coupling.RiskCritical, parseRiskLevel("critical"))
	assert.Equal(t, coupling.RiskLow, parseRiskLevel("low"))
	assert.Equal(t, coupling.RiskMedium, parseRiskLevel("bogus"))
}

func TestColorizeHoverMarkdownKeepsContent(t *testing.T) {
	markdown := "### alpha\n\n> AETHER WARNING: SIR is stale.\n\n**Intent**\nx"

	colorized := colorizeHoverMarkdown(markdown)
	require.Contains(t, colorized, "alpha")
	assert.Contains(t, colorized, "AETHER WARNING")
	assert.Contains(t, colorized, "**Intent**\nx")
}

func TestTruncateAndShortID(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Len(t, truncate("0123456789abcdef", 10), 10)
	assert.Equal(t, "deadbeef", shortID("deadbeefcafebabe"))
	assert.Equal(t, "abc", shortID("abc"))
}
