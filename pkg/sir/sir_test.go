package sir

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSIR() SIR {
	return SIR{
		Intent:       "process payment batches",
		Inputs:       []string{"batch"},
		Outputs:      []string{"receipts"},
		SideEffects:  []string{"writes ledger"},
		Dependencies: []string{"ledger::append"},
		ErrorModes:   []string{"timeout", "partial failure"},
		Confidence:   0.85,
	}
}

func TestCanonicalizeIsStableAcrossReEmits(t *testing.T) {
	first, err := Canonicalize(sampleSIR())
	require.NoError(t, err)

	second, err := Canonicalize(sampleSIR())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, Hash(first), Hash(second))
	assert.Len(t, Hash(first), 64)
}

func TestCanonicalizeRoundTripsThroughParse(t *testing.T) {
	canon, err := Canonicalize(sampleSIR())
	require.NoError(t, err)

	var decoded SIR
	require.NoError(t, json.Unmarshal(canon, &decoded))

	recanon, err := Canonicalize(decoded)
	require.NoError(t, err)

	assert.Equal(t, canon, recanon)
}

func TestCanonicalFormEndsWithLFAndSortsKeys(t *testing.T) {
	canon, err := Canonicalize(sampleSIR())
	require.NoError(t, err)

	require.NotEmpty(t, canon)
	assert.Equal(t, byte('\n'), canon[len(canon)-1])

	text := string(canon)
	assert.Less(t, indexOfKey(text, "confidence"), indexOfKey(text, "dependencies"))
	assert.Less(t, indexOfKey(text, "dependencies"), indexOfKey(text, "error_modes"))
	assert.Less(t, indexOfKey(text, "intent"), indexOfKey(text, "outputs"))
}

func TestValidateRejectsEmptyIntentAndBadConfidence(t *testing.T) {
	empty := sampleSIR()
	empty.Intent = ""
	assert.ErrorIs(t, empty.Validate(), ErrEmptyIntent)

	over := sampleSIR()
	over.Confidence = 1.5
	assert.ErrorIs(t, over.Validate(), ErrConfidenceRange)
}

func TestParseAndVerifyDetectsHashMismatch(t *testing.T) {
	canon, err := Canonicalize(sampleSIR())
	require.NoError(t, err)

	parsed, err := ParseAndVerify(canon, Hash(canon))
	require.NoError(t, err)
	assert.Equal(t, sampleSIR().Intent, parsed.Intent)

	_, err = ParseAndVerify(canon, "deadbeef")
	assert.ErrorIs(t, err, ErrHashMismatch)
}

func TestValidateSchemaRejectsExtraKeysAndWrongTypes(t *testing.T) {
	canon, err := Canonicalize(sampleSIR())
	require.NoError(t, err)
	require.NoError(t, ValidateSchema(canon))

	assert.ErrorIs(t, ValidateSchema([]byte(`{
		"intent": "x", "inputs": [], "outputs": [], "side_effects": [],
		"dependencies": [], "error_modes": [], "confidence": 0.5, "bogus": 1
	}`)), ErrSchemaViolation)

	assert.ErrorIs(t, ValidateSchema([]byte(`{
		"intent": "x", "inputs": "not-an-array", "outputs": [], "side_effects": [],
		"dependencies": [], "error_modes": [], "confidence": 0.5
	}`)), ErrSchemaViolation)
}

func indexOfKey(text, key string) int {
	return strings.Index(text, `"`+key+`"`)
}
