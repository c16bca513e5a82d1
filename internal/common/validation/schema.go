// Package validation checks inbound wire messages against JSON Schemas before decoding.
package validation

import (
	"fmt"
	"strings"

	"rfq-workers/internal/common/errors"

	"github.com/xeipuuv/gojsonschema"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

const nonEmptyString = `{"type": "string", "minLength": 1}`

var (
	// DispatchRequestSchema describes {"stack_id": "..."}.
	DispatchRequestSchema = MustSchema(`{
		"type": "object",
		"required": ["stack_id"],
		"properties": {
			"stack_id": ` + nonEmptyString + `
		}
	}`)

	// BidSubmissionSchema describes a vendor bid callback. The payload is free-form but must be present.
	BidSubmissionSchema = MustSchema(`{
		"type": "object",
		"required": ["session_id", "token", "category", "payload"],
		"properties": {
			"session_id": ` + nonEmptyString + `,
			"token": ` + nonEmptyString + `,
			"category": ` + nonEmptyString + `,
			"payload": {"not": {"type": "null"}}
		}
	}`)

	// ActionEnvelopeSchema describes the routed entry point {"action": "..."}.
	ActionEnvelopeSchema = MustSchema(`{
		"type": "object",
		"required": ["action"],
		"properties": {
			"action": {"type": "string"}
		}
	}`)
)

// MustSchema compiles a built-in schema and panics when it is malformed.
func MustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("invalid built-in schema: %v", err))
	}
	return schema
}

// Check validates a raw JSON document and reports every violation.
func Check(schema *gojsonschema.Schema, document []byte) (*ValidationResult, error) {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(document))
	if err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if p, ok := desc.Details()["property"].(string); ok && field == "(root)" {
			field = p
		}
		out.Errors = append(out.Errors, ValidationError{
			Field:   field,
			Message: desc.Description(),
			Code:    strings.ToUpper(desc.Type()),
		})
	}
	return out, nil
}

// Validate returns an INVALID_INPUT error describing the first violations, or nil.
func Validate(schema *gojsonschema.Schema, document []byte) error {
	result, err := Check(schema, document)
	if err != nil {
		return errors.NewInvalidInputError(err.Error())
	}
	if result.Valid {
		return nil
	}

	msgs := make([]string, len(result.Errors))
	for i, e := range result.Errors {
		msgs[i] = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return errors.NewInvalidInputError(strings.Join(msgs, "; "))
}
