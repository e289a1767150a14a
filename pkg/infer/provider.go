// Package infer hosts the concrete inference, embedding, and rerank
// providers behind the abstract interfaces the core consumes
// (pkg/sir.Provider, pkg/search.Embedder, pkg/search.Reranker), plus the
// config-driven loaders that select one.
package infer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aethercode/aether/pkg/sir"
)

// parseValidationRetries is how many times a provider re-requests a
// candidate after a parse/schema failure before giving up.
const parseValidationRetries = 2

// ErrParseValidationExhausted wraps the last parse/validation failure after
// the retry budget is spent.
var ErrParseValidationExhausted = errors.New("infer: failed to parse or validate SIR after retries")

// buildStrictJSONPrompt is the shared SIR prompt every text-generation
// provider sends: strict JSON, fixed field set, no extra keys.
func buildStrictJSONPrompt(language, declaration, body string) string {
	return fmt.Sprintf("You are generating a Leaf SIR annotation. "+
		"Respond with STRICT JSON only (no markdown, no prose) and exactly these fields: "+
		"intent (string), inputs (array of string), outputs (array of string), "+
		"side_effects (array of string), dependencies (array of string), "+
		"error_modes (array of string), confidence (number in [0.0,1.0]). "+
		"Do not add any extra keys.\n\nContext:\n- language: %s\n- declaration: %s\n\nSymbol text:\n%s",
		language, declaration, body)
}

// parseAndValidate turns a raw candidate into a validated SIR: JSON Schema
// first (catches structural hallucinations with a precise message), then
// decode, then the semantic invariants.
func parseAndValidate(raw []byte) (sir.SIR, error) {
	if err := sir.ValidateSchema(raw); err != nil {
		return sir.SIR{}, err
	}

	var record sir.SIR
	if err := json.Unmarshal(raw, &record); err != nil {
		return sir.SIR{}, fmt.Errorf("infer: decode sir candidate: %w", err)
	}

	if err := record.Validate(); err != nil {
		return sir.SIR{}, err
	}

	return record, nil
}

// generateWithParseRetries re-requests a candidate on parse/validation
// failure up to parseValidationRetries times. Transport errors are returned
// immediately — only malformed candidates are worth retrying.
func generateWithParseRetries(ctx context.Context, load func(context.Context) (string, error)) (sir.SIR, error) {
	lastError := "unknown parse/validation failure"

	for attempt := 0; attempt <= parseValidationRetries; attempt++ {
		candidate, err := load(ctx)
		if err != nil {
			return sir.SIR{}, err
		}

		record, parseErr := parseAndValidate([]byte(strings.TrimSpace(candidate)))
		if parseErr == nil {
			return record, nil
		}

		lastError = parseErr.Error()
	}

	return sir.SIR{}, fmt.Errorf("%w: %s", ErrParseValidationExhausted, lastError)
}

// symbolNameFromDeclaration extracts a readable symbol name from a
// declaration prefix, for mock output ("fn charge(" -> "charge").
func symbolNameFromDeclaration(declaration string) string {
	fields := strings.Fields(declaration)
	inReceiver := false

	for _, field := range fields {
		if inReceiver {
			if strings.HasSuffix(field, ")") {
				inReceiver = false
			}

			continue
		}

		// A Go method receiver "(s *Store)" precedes the name; skip it.
		if strings.HasPrefix(field, "(") {
			if !strings.HasSuffix(field, ")") {
				inReceiver = true
			}

			continue
		}

		switch field {
		case "fn", "func", "def", "class", "struct", "enum", "trait", "interface",
			"pub", "async", "const", "static", "export", "type", "let", "var":
			continue
		}

		name := field
		if idx := strings.IndexAny(name, "(<:{"); idx >= 0 {
			name = name[:idx]
		}

		if name != "" {
			return name
		}
	}

	return strings.TrimSpace(declaration)
}
