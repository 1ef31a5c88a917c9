// Package schema provides per-record payload validation for the write path.
// Validation failures are non-fatal: writers record them in the task's
// WriteStatus and keep going. Both JSON Schema and Avro payloads are
// supported.
package schema

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/hamba/avro/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/unijord/mortable/pkg/record"
)

var (
	// ErrInvalidSchema is returned when a schema definition cannot be compiled.
	ErrInvalidSchema = errors.New("invalid schema")
)

// Validator checks one record payload against a schema. Implementations
// return a *ValidationError (wrapping record.ErrRecordRejected) on mismatch so
// writers can tell a rejected record apart from an I/O fault.
type Validator interface {
	Validate(payload []byte) error
}

// ValidationError reports a payload that does not conform to its schema.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payload validation failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("payload validation failed: %s", e.Reason)
}

// Unwrap returns record.ErrRecordRejected so errors.Is classification works.
func (e *ValidationError) Unwrap() error { return record.ErrRecordRejected }

// jsonValidator validates JSON payloads against a compiled JSON Schema.
type jsonValidator struct {
	schema *jsonschema.Schema
}

// NewJSONValidator compiles schemaJSON (draft 2020-12) into a Validator.
func NewJSONValidator(schemaJSON string) (Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	return &jsonValidator{schema: compiled}, nil
}

func (v *jsonValidator) Validate(payload []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return &ValidationError{Reason: "payload is not valid JSON", Err: err}
	}

	if err := v.schema.Validate(inst); err != nil {
		return &ValidationError{Reason: "schema mismatch", Err: err}
	}
	return nil
}

// avroValidator validates Avro-encoded payloads by decoding them.
// Structure is checked during unmarshal.
type avroValidator struct {
	schema avro.Schema
}

// NewAvroValidator parses an Avro schema into a Validator.
func NewAvroValidator(schemaJSON string) (Validator, error) {
	parsed, err := avro.Parse(schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return &avroValidator{schema: parsed}, nil
}

func (v *avroValidator) Validate(payload []byte) error {
	var out map[string]any
	if err := avro.Unmarshal(v.schema, payload, &out); err != nil {
		return &ValidationError{Reason: "avro decode failed", Err: err}
	}
	return nil
}

// NoopValidator accepts every payload. Used when the table carries no schema.
type NoopValidator struct{}

func (NoopValidator) Validate([]byte) error { return nil }

var (
	_ Validator = (*jsonValidator)(nil)
	_ Validator = (*avroValidator)(nil)
	_ Validator = NoopValidator{}
)
