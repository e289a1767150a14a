package infer

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethercode/aether/pkg/config"
)

func TestMockProviderGeneratesDeterministicSIR(t *testing.T) {
	record, err := MockProvider{}.GenerateSIR(context.Background(), "rust", "fn charge(amount: u64)", "body")
	require.NoError(t, err)

	assert.Equal(t, "Mock summary for charge", record.Intent)
	assert.InDelta(t, 1.0, record.Confidence, 1e-9)
}

func TestSymbolNameFromDeclaration(t *testing.T) {
	cases := map[string]string{
		"fn charge(amount: u64)":          "charge",
		"pub async fn run()":              "run",
		"func (s *Store) Close() error":   "Close",
		"def process_batch(items):":       "process_batch",
		"export const handler = () => {}": "handler",
		"class PaymentGateway:":           "PaymentGateway",
	}

	for declaration, want := range cases {
		assert.Equal(t, want, symbolNameFromDeclaration(declaration), declaration)
	}
}

func TestMockEmbeddingIsUnitNormAndDeterministic(t *testing.T) {
	a := MockEmbeddingForText("process payment batches")
	b := MockEmbeddingForText("process payment batches")

	require.Len(t, a, MockEmbeddingDim)
	assert.Equal(t, a, b)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}

	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)
}

func TestMockEmbeddingOfEmptyTextIsZeroVector(t *testing.T) {
	vec := MockEmbeddingForText("  \n\t ")

	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestParseAndValidateRejectsExtraKeys(t *testing.T) {
	_, err := parseAndValidate([]byte(`{
		"intent": "x", "inputs": [], "outputs": [], "side_effects": [],
		"dependencies": [], "error_modes": [], "confidence": 0.5, "extra": true
	}`))
	require.Error(t, err)
}

func TestParseAndValidateAcceptsWellFormedCandidate(t *testing.T) {
	record, err := parseAndValidate([]byte(`{
		"intent": "process payment", "inputs": ["amount"], "outputs": ["receipt"],
		"side_effects": [], "dependencies": [], "error_modes": ["timeout"], "confidence": 0.8
	}`))
	require.NoError(t, err)

	assert.Equal(t, "process payment", record.Intent)
	assert.Equal(t, []string{"timeout"}, record.ErrorModes)
}

func TestGenerateWithParseRetriesExhaustsBudget(t *testing.T) {
	calls := 0

	_, err := generateWithParseRetries(context.Background(), func(context.Context) (string, error) {
		calls++

		return "not json", nil
	})

	require.ErrorIs(t, err, ErrParseValidationExhausted)
	assert.Equal(t, parseValidationRetries+1, calls)
}

func TestGenerateWithParseRetriesStopsOnTransportError(t *testing.T) {
	transportErr := errors.New("connection refused")
	calls := 0

	_, err := generateWithParseRetries(context.Background(), func(context.Context) (string, error) {
		calls++

		return "", transportErr
	})

	require.ErrorIs(t, err, transportErr)
	assert.Equal(t, 1, calls)
}

func TestLoadProviderAutoFallsBackToMockWithoutKey(t *testing.T) {
	t.Setenv("AETHER_TEST_GEMINI_KEY", "")

	loaded, err := LoadProvider(context.Background(), config.InferenceConfig{
		Provider:  "auto",
		APIKeyEnv: "AETHER_TEST_GEMINI_KEY",
	})
	require.NoError(t, err)

	assert.Equal(t, "mock", loaded.ProviderName)
	assert.Equal(t, "mock", loaded.ModelName)
}

func TestLoadEmbedderHonorsDisabledFlag(t *testing.T) {
	_, ok, _ := LoadEmbedder(config.EmbeddingsConfig{Enabled: false})
	assert.False(t, ok)

	loaded, ok, warnings := LoadEmbedder(config.EmbeddingsConfig{Enabled: true, Provider: "mock"})
	require.True(t, ok)
	assert.Empty(t, warnings)
	assert.Equal(t, "mock", loaded.ProviderName)
}

func TestLoadEmbedderCandleDegradesToMockWithWarning(t *testing.T) {
	loaded, ok, warnings := LoadEmbedder(config.EmbeddingsConfig{Enabled: true, Provider: "candle"})
	require.True(t, ok)

	assert.Equal(t, "mock", loaded.ProviderName)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "candle")
}

func TestLoadRerankerNoneAndCandle(t *testing.T) {
	_, ok, warnings, err := LoadReranker(config.SearchConfig{Reranker: "none"}, config.ProvidersConfig{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, warnings)

	_, ok, warnings, err = LoadReranker(config.SearchConfig{Reranker: "candle"}, config.ProvidersConfig{})
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, warnings, 1)
}
