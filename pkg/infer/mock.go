package infer

import (
	"context"
	"math"
	"strings"

	"github.com/aethercode/aether/pkg/sir"
)

// MockEmbeddingDim is the mock embedder's fixed dimensionality.
const MockEmbeddingDim = 64

// MockProvider generates deterministic SIRs without any network access —
// the default when no API key is configured, and the provider every test
// uses.
type MockProvider struct{}

// GenerateSIR implements sir.Provider.
func (MockProvider) GenerateSIR(_ context.Context, _, declaration, _ string) (sir.SIR, error) {
	record := sir.SIR{
		Intent:     "Mock summary for " + symbolNameFromDeclaration(declaration),
		Confidence: 1.0,
	}

	if err := record.Validate(); err != nil {
		return sir.SIR{}, err
	}

	return record, nil
}

// MockEmbedder hashes tokens into a fixed 64-dimensional unit vector —
// deterministic, cheap, and similarity-preserving enough for tests and
// offline use.
type MockEmbedder struct{}

// Provider implements search.Embedder.
func (MockEmbedder) Provider() string { return "mock" }

// Model implements search.Embedder.
func (MockEmbedder) Model() string { return "mock-64d" }

// Embed implements search.Embedder.
func (MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return MockEmbeddingForText(text), nil
}

// MockEmbeddingForText is the deterministic token-hash embedding shared by
// MockEmbedder and tests that need to precompute expected vectors. Text
// with no ASCII-alphanumeric tokens embeds to the zero vector.
func MockEmbeddingForText(text string) []float32 {
	embedding := make([]float32, MockEmbeddingDim)
	sawToken := false

	for _, token := range tokenizeForEmbedding(text) {
		sawToken = true

		hash := fnv1a64([]byte(strings.ToLower(token)))
		index := int(hash % MockEmbeddingDim)

		sign := float32(1)
		if (hash>>8)&1 == 1 {
			sign = -1
		}

		embedding[index] += sign
	}

	if !sawToken {
		return embedding
	}

	return normalizeUnit(embedding)
}

func tokenizeForEmbedding(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		isDigit := r >= '0' && r <= '9'
		isAlpha := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')

		return !isDigit && !isAlpha
	})
}

func fnv1a64(data []byte) uint64 {
	hash := uint64(0xcbf29ce484222325)

	for _, b := range data {
		hash ^= uint64(b)
		hash *= 0x100000001b3
	}

	return hash
}

func normalizeUnit(vec []float32) []float32 {
	var sum float64

	for _, v := range vec {
		sum += float64(v) * float64(v)
	}

	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}

	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}

	return out
}
