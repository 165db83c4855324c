package validation

import (
	"github.com/rendis/flowforge/internal/graph"
	"github.com/rendis/flowforge/pkg/schema"
)

// GraphValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Graph (ids, dangling edges, triggers, condition edges, cycles)
// 3. Semantic (action types, transforms, conditions, templates, schedules)
type GraphValidator struct {
	jsonSchema *JSONSchemaValidator
	actions    ActionLookup
}

// NewGraphValidator creates a GraphValidator.
// lookup may be nil to skip action type checks.
func NewGraphValidator(lookup ActionLookup) (*GraphValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &GraphValidator{
		jsonSchema: jsv,
		actions:    lookup,
	}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit the later stages.
func (gv *GraphValidator) Validate(def *schema.Graph) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "graph is nil")
		return r
	}

	result := validateStructural(gv.jsonSchema, def)
	if !result.Valid() {
		return result
	}

	result.Merge(graph.Validate(def))
	if hasStructuralGraphError(result) {
		return result
	}

	result.Merge(validateSemantic(def, gv.actions))
	return result
}

// ValidateGraph satisfies the Validator interface.
func (gv *GraphValidator) ValidateGraph(def *schema.Graph) error {
	return gv.Validate(def).ToError()
}

// ValidateConfig delegates to the underlying JSONSchemaValidator.
func (gv *GraphValidator) ValidateConfig(config map[string]any, configSchema []byte) error {
	return gv.jsonSchema.ValidateConfig(config, configSchema)
}

// Schemas exposes the underlying JSON Schema validator.
func (gv *GraphValidator) Schemas() *JSONSchemaValidator {
	return gv.jsonSchema
}

// hasStructuralGraphError reports errors after which node configs are not
// worth inspecting. A missing trigger is not one of them.
func hasStructuralGraphError(r *schema.ValidationResult) bool {
	for _, e := range r.Errors {
		if e.Code != schema.ErrCodeNoTrigger {
			return true
		}
	}
	return false
}

// validateStructural converts JSON Schema violations into issues.
func validateStructural(v *JSONSchemaValidator, def *schema.Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateGraph(def)
	if err == nil {
		return result
	}

	flowErr, ok := err.(*schema.FlowError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	if violations, ok := flowErr.Details["violations"].([]string); ok {
		for _, msg := range violations {
			result.AddError("/", schema.ErrCodeValidation, msg)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, flowErr.Message)
	return result
}

var _ Validator = (*GraphValidator)(nil)
