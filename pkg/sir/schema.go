package sir

import (
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// ErrSchemaViolation wraps JSON Schema validation failures on
// provider-returned SIR candidates.
var ErrSchemaViolation = errors.New("sir: candidate violates schema")

// sirSchema is the JSON Schema every provider-returned candidate must
// satisfy before canonicalization. It rejects extra keys, wrong field
// types, and out-of-range confidence — cheaper and more precise feedback
// than a Go unmarshal error when a provider hallucinates structure.
const sirSchema = `{
	"type": "object",
	"required": ["intent", "inputs", "outputs", "side_effects", "dependencies", "error_modes", "confidence"],
	"additionalProperties": false,
	"properties": {
		"intent": {"type": "string", "minLength": 1},
		"inputs": {"type": "array", "items": {"type": "string"}},
		"outputs": {"type": "array", "items": {"type": "string"}},
		"side_effects": {"type": "array", "items": {"type": "string"}},
		"dependencies": {"type": "array", "items": {"type": "string"}},
		"error_modes": {"type": "array", "items": {"type": "string"}},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`

var schemaLoader = gojsonschema.NewStringLoader(sirSchema)

// ValidateSchema checks a raw JSON candidate against the SIR schema.
func ValidateSchema(raw []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}

	if result.Valid() {
		return nil
	}

	first := ""
	if errs := result.Errors(); len(errs) > 0 {
		first = errs[0].String()
	}

	return fmt.Errorf("%w: %s", ErrSchemaViolation, first)
}
