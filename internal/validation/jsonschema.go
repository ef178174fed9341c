package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/loomery/loom/pkg/schema"
)

// payloadSchemaJSON is the JSON Schema for WorkflowPayload validation.
// Embedded as a constant to avoid filesystem dependencies. The node arrays
// accept null because Go serializes empty slices that way.
const payloadSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://loomery.dev/schemas/workflow.json",
  "type": "object",
  "required": ["graph"],
  "properties": {
    "name": { "type": "string" },
    "graph": { "$ref": "#/$defs/graph" },
    "positions": {}
  },
  "additionalProperties": false,
  "$defs": {
    "graph": {
      "type": "object",
      "properties": {
        "jobs": {
          "type": ["array", "null"],
          "items": { "$ref": "#/$defs/job" }
        },
        "triggers": {
          "type": ["array", "null"],
          "items": { "$ref": "#/$defs/trigger" }
        },
        "edges": {
          "type": ["array", "null"],
          "items": { "$ref": "#/$defs/edge" }
        }
      },
      "additionalProperties": false
    },
    "job": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "name": { "type": "string" },
        "adaptor": { "type": "string" },
        "body": { "type": "string" },
        "credential_id": { "type": "string" },
        "enabled": { "type": "boolean" }
      },
      "additionalProperties": false
    },
    "trigger": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "type": {
          "type": "string",
          "enum": ["webhook", "cron", "manual"]
        },
        "cron_expression": { "type": "string" },
        "enabled": { "type": "boolean" }
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["id", "condition_type"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "source_trigger_id": { "type": "string" },
        "source_job_id": { "type": "string" },
        "target_job_id": { "type": "string" },
        "condition_type": {
          "type": "string",
          "enum": ["always", "on_success", "on_failure", "js_expression"]
        },
        "condition_expression": { "type": "string" },
        "enabled": { "type": "boolean" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator validates workflow save payloads against the embedded
// JSON Schema. It is safe for concurrent use.
type JSONSchemaValidator struct {
	payloadSchema *jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the payload schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(payloadSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal payload schema: %w", err)
	}
	if err := c.AddResource("https://loomery.dev/schemas/workflow.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add payload schema resource: %w", err)
	}

	compiled, err := c.Compile("https://loomery.dev/schemas/workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile payload schema: %w", err)
	}

	return &JSONSchemaValidator{payloadSchema: compiled}, nil
}

// ValidatePayload validates a WorkflowPayload against the payload JSON Schema.
func (v *JSONSchemaValidator) ValidatePayload(payload *schema.WorkflowPayload) error {
	if payload == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow payload is nil")
	}

	doc, err := toJSONValue(payload)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow payload").WithCause(err)
	}

	if err := v.payloadSchema.Validate(doc); err != nil {
		return toLoomError(err)
	}

	return nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toLoomError converts a jsonschema.ValidationError into a LoomError with
// one message per violated constraint.
func toLoomError(err error) *schema.LoomError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
