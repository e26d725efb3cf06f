// Package schema embeds the JSON schemas for the two trigger payload shapes
// and provides a shared validation helper over gojsonschema.
package schema

import (
	_ "embed"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed trigger_call.schema.json
var triggerCallSchema string

//go:embed speed_dial.schema.json
var speedDialSchema string

// ValidationError is one field-level schema violation.
type ValidationError struct {
	Field       string
	Description string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Description)
}

// ValidationResult is the outcome of validating one payload.
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// ValidateTriggerCall validates a /trigger-call request body.
func ValidateTriggerCall(body []byte) (*ValidationResult, error) {
	return validateAgainst(triggerCallSchema, body)
}

// ValidateSpeedDial validates a /webhook/speed-dial request body.
func ValidateSpeedDial(body []byte) (*ValidationResult, error) {
	return validateAgainst(speedDialSchema, body)
}

func validateAgainst(schemaJSON string, body []byte) (*ValidationResult, error) {
	schemaLoader := gojsonschema.NewStringLoader(schemaJSON)
	docLoader := gojsonschema.NewBytesLoader(body)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}

	vr := &ValidationResult{Valid: result.Valid()}
	for _, e := range result.Errors() {
		vr.Errors = append(vr.Errors, ValidationError{Field: e.Field(), Description: e.Description()})
	}
	return vr, nil
}
