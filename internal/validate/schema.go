package validate

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	runReadySchema      = "run_ready.json"
	detectRequestSchema = "detect_request.json"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// ErrInvalid wraps every schema violation
var ErrInvalid = errors.New("document does not match schema")

// SchemaValidator validates inbound JSON documents against the embedded schemas
type SchemaValidator struct {
	runReady      *jsonschema.Schema
	detectRequest *jsonschema.Schema
	logger        *slog.Logger
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(logger *slog.Logger) (*SchemaValidator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	for _, name := range []string{runReadySchema, detectRequestSchema} {
		data, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", name, err)
		}
		if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to add schema resource %s: %w", name, err)
		}
	}

	runReady, err := compiler.Compile(runReadySchema)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", runReadySchema, err)
	}
	detectRequest, err := compiler.Compile(detectRequestSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", detectRequestSchema, err)
	}

	logger.Debug("Schema validator initialized")
	return &SchemaValidator{
		runReady:      runReady,
		detectRequest: detectRequest,
		logger:        logger,
	}, nil
}

// ValidateRunReady checks the field types of a run-ready message.
// A missing run_id is not a schema error; the decoder reports it.
func (v *SchemaValidator) ValidateRunReady(data []byte) error {
	return v.validate(v.runReady, runReadySchema, data)
}

// ValidateDetectRequest checks a synchronous detection request
func (v *SchemaValidator) ValidateDetectRequest(data []byte) error {
	return v.validate(v.detectRequest, detectRequestSchema, data)
}

func (v *SchemaValidator) validate(schema *jsonschema.Schema, name string, data []byte) error {
	doc, err := decodeJSON(data)
	if err != nil {
		return fmt.Errorf("%w: invalid JSON: %w", ErrInvalid, err)
	}
	if err := schema.Validate(doc); err != nil {
		v.logger.Debug("Schema validation failed", "schema", name, "error", err.Error())
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// decodeJSON decodes data the way the validator expects: numbers kept as
// json.Number and exactly one top-level value.
func decodeJSON(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("unexpected data after top-level value")
	}
	return doc, nil
}
