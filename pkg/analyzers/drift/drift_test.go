package drift

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethercode/aether/pkg/sir"
)

func TestParseWindowSpecGrammar(t *testing.T) {
	assert.Equal(t, windowSpec{kind: windowCommits, n: 100}, parseWindowSpec(""))
	assert.Equal(t, windowSpec{kind: windowCommits, n: 50}, parseWindowSpec("50 commits"))
	assert.Equal(t, windowSpec{kind: windowCommits, n: 7}, parseWindowSpec("7"))
	assert.Equal(t, windowSpec{kind: windowDays, n: 30}, parseWindowSpec("30d"))
	assert.Equal(t, windowSpec{kind: windowSinceCommit, prefix: "abc123"}, parseWindowSpec("since:abc123"))
	assert.Equal(t, windowSpec{kind: windowCommits, n: 100}, parseWindowSpec("garbage"))
	assert.Equal(t, windowSpec{kind: windowCommits, n: 100}, parseWindowSpec("since:"))
}

func TestBuildStructuredDiffTracksFieldChanges(t *testing.T) {
	before := sir.SIR{
		Intent:     "initial behavior",
		Inputs:     []string{"x"},
		ErrorModes: []string{"timeout"},
	}
	after := sir.SIR{
		Intent:     "batch processing",
		Inputs:     []string{"x", "batch"},
		ErrorModes: []string{"partial failure"},
	}

	diff := BuildStructuredDiff(before, after)

	assert.True(t, diff.IntentChanged)
	assert.Equal(t, []string{"batch"}, diff.InputsAdded)
	assert.Equal(t, []string{"partial failure"}, diff.ErrorModesAdded)
	assert.Equal(t, []string{"timeout"}, diff.ErrorModesRemoved)
}

func TestStructuralMagnitudeFromDiff(t *testing.T) {
	same := BuildStructuredDiff(sir.SIR{Intent: "a"}, sir.SIR{Intent: "a"})
	assert.Zero(t, StructuralChangeMagnitudeFromDiff(same))

	intentOnly := BuildStructuredDiff(sir.SIR{Intent: "a"}, sir.SIR{Intent: "b"})
	assert.InDelta(t, 0.5, StructuralChangeMagnitudeFromDiff(intentOnly), 1e-9)

	big := BuildStructuredDiff(
		sir.SIR{Intent: "a", Inputs: []string{"1", "2", "3"}, Outputs: []string{"4", "5"}},
		sir.SIR{Intent: "b", ErrorModes: []string{"6", "7"}},
	)
	assert.InDelta(t, 1.0, StructuralChangeMagnitudeFromDiff(big), 1e-9)
}

func TestMechanicalDiffSummaryMentionsIntentShift(t *testing.T) {
	diff := BuildStructuredDiff(
		sir.SIR{Intent: "initial behavior"},
		sir.SIR{Intent: "batch processing"},
	)

	summary := mechanicalDiffSummary(diff)

	require.NotEmpty(t, summary)
	assert.Contains(t, summary, "intent")
}

func TestCosineSimilarityBounds(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{0.6, 0.8}, []float32{0.6, 0.8}), 1e-6)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, 0.0, CosineSimilarity(nil, []float32{1}), 1e-6)
}
