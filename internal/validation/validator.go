package validation

import "github.com/loomery/loom/pkg/schema"

// Validator checks workflow save payloads for correctness before a snapshot
// is cut. Uses JSON Schema Draft 2020-12 for structural validation.
type Validator interface {
	ValidatePayload(payload *schema.WorkflowPayload) error
	Validate(payload *schema.WorkflowPayload) *schema.ValidationResult
}

// GraphValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (duplicate IDs, edge source/target references, cron expressions)
// 3. Topology (job-to-job cycles, unreachable jobs)
type GraphValidator struct {
	jsonSchema *JSONSchemaValidator
}

// NewGraphValidator creates a GraphValidator with the payload schema pre-compiled.
func NewGraphValidator() (*GraphValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &GraphValidator{jsonSchema: jsv}, nil
}

// Validate runs the full 3-stage pipeline and returns an aggregated result.
// Structural errors short-circuit: semantic and topology stages are skipped.
func (gv *GraphValidator) Validate(payload *schema.WorkflowPayload) *schema.ValidationResult {
	if payload == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow payload is nil")
		return r
	}

	// Stage 1: Structural (JSON Schema).
	result := validateStructural(gv.jsonSchema, payload)
	if !result.Valid() {
		return result
	}

	// Stage 2: Semantic.
	result.Merge(validateSemantic(&payload.Graph))

	// Stage 3: Topology (skipped when semantic errors exist, since references may be invalid).
	if result.Valid() {
		result.Merge(validateTopology(&payload.Graph))
	}

	return result
}

// ValidatePayload satisfies the Validator interface.
func (gv *GraphValidator) ValidatePayload(payload *schema.WorkflowPayload) error {
	return gv.Validate(payload).ToError()
}

// validateStructural wraps JSONSchemaValidator.ValidatePayload, converting
// its error output into ValidationResult.
func validateStructural(v *JSONSchemaValidator, payload *schema.WorkflowPayload) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidatePayload(payload)
	if err == nil {
		return result
	}

	lerr, ok := err.(*schema.LoomError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if lerr.Details != nil {
		if violations, ok := lerr.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError("/", schema.ErrCodeValidation, v)
			}
			return result
		}
	}
	result.AddError("/", schema.ErrCodeValidation, lerr.Message)
	return result
}
