// Package sir implements the SIR (Semantic Intent Record) lifecycle:
// canonical serialization, hashing, the fresh/stale/failed status state
// machine, retry budgeting, and the bounded worker pool that generates
// SIRs for newly indexed or changed symbols.
package sir

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// Status is a SIR's lifecycle state.
type Status string

// Status constants.
const (
	StatusFresh  Status = "fresh"
	StatusStale  Status = "stale"
	StatusFailed Status = "failed"
)

// Sentinel validation errors.
var (
	ErrEmptyIntent     = errors.New("sir: intent must be non-empty")
	ErrConfidenceRange = errors.New("sir: confidence must be in [0, 1]")
	ErrHashMismatch    = errors.New("sir: parsed hash does not match recomputed canonical hash")
)

// SIR is a symbol's Semantic Intent Record, the Glossary
// entry: fields are exactly `intent`, `inputs`, `outputs`, `side_effects`,
// `dependencies`, `error_modes`, `confidence`, serialized with sorted keys
// (Go struct field order, which json.Marshal already emits deterministically
// for a fixed struct) so two equal SIRs always hash identically.
type SIR struct {
	Intent      string   `json:"intent"`
	Inputs      []string `json:"inputs"`
	Outputs     []string `json:"outputs"`
	SideEffects []string `json:"side_effects"`
	Dependencies []string `json:"dependencies"`
	ErrorModes  []string `json:"error_modes"`
	Confidence  float64  `json:"confidence"`
}

// Validate checks the SIR invariants: non-empty intent,
// string-array fields (guaranteed by the Go type system here), and
// confidence clamped to [0, 1].
func (s SIR) Validate() error {
	if s.Intent == "" {
		return ErrEmptyIntent
	}

	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("%w: got %f", ErrConfidenceRange, s.Confidence)
	}

	return nil
}

// Canonicalize serializes s to its canonical JSON form: compact, sorted
// keys (struct field order is fixed and ascending-alphabetical by design:
// confidence, dependencies, error_modes, inputs, intent, outputs,
// side_effects — re-expressed as a map to guarantee key order independent
// of struct literal order), LF-terminated.
func Canonicalize(s SIR) ([]byte, error) {
	ordered := map[string]any{
		"confidence":   s.Confidence,
		"dependencies": orEmpty(s.Dependencies),
		"error_modes":  orEmpty(s.ErrorModes),
		"inputs":       orEmpty(s.Inputs),
		"intent":       s.Intent,
		"outputs":      orEmpty(s.Outputs),
		"side_effects": orEmpty(s.SideEffects),
	}

	buf, err := marshalSortedKeys(ordered)
	if err != nil {
		return nil, fmt.Errorf("canonicalize sir: %w", err)
	}

	return append(buf, '\n'), nil
}

func orEmpty(ss []string) []string {
	if ss == nil {
		return []string{}
	}

	return ss
}

// marshalSortedKeys relies on Go's encoding/json, which already serializes
// map[string]any keys in sorted order — this is the stdlib guarantee
// canonical_json depends on, documented here since it is load-bearing.
func marshalSortedKeys(v map[string]any) ([]byte, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Hash computes sir_hash = H(canonical_json) for s.
func Hash(canonicalJSON []byte) string {
	sum := sha256.Sum256(canonicalJSON)

	return hex.EncodeToString(sum[:])
}

// ParseAndVerify decodes raw JSON into a SIR, recanonicalizes it, and
// confirms the recomputed hash matches expectedHash — required before
// trusting a stored or provider-returned blob.
func ParseAndVerify(raw []byte, expectedHash string) (SIR, error) {
	var s SIR
	if err := json.Unmarshal(raw, &s); err != nil {
		return SIR{}, fmt.Errorf("parse sir: %w", err)
	}

	canon, err := Canonicalize(s)
	if err != nil {
		return SIR{}, err
	}

	if Hash(canon) != expectedHash {
		return SIR{}, ErrHashMismatch
	}

	return s, nil
}

// Provider generates a SIR for a symbol's source text. Concrete
// implementations (e.g. the gemini provider) live outside this package;
// Provider is the abstraction boundary the provider design calls for.
type Provider interface {
	GenerateSIR(ctx context.Context, language, declaration, body string) (SIR, error)
}
