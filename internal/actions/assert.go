package actions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rendis/flowforge/internal/expressions"
	"github.com/rendis/flowforge/pkg/schema"
)

const assertConfigSchema = `{
  "type": "object",
  "properties": {
    "expression": {"type": "string", "minLength": 1},
    "data": {},
    "message": {"type": "string"}
  },
  "required": ["expression"]
}`

// AssertStep implements the "assert" action type: a CEL expression over
// `data` and `config` that must evaluate to true.
type AssertStep struct {
	cel *expressions.CELEngine
}

// NewAssertStep creates an assert step backed by a CEL engine.
func NewAssertStep(cel *expressions.CELEngine) *AssertStep {
	return &AssertStep{cel: cel}
}

func (s *AssertStep) Name() string { return "assert" }

func (s *AssertStep) Schema() StepSchema {
	return StepSchema{
		Description:  "Fail unless a CEL expression over data and config evaluates to true.",
		ConfigSchema: json.RawMessage(assertConfigSchema),
		OutputSchema: json.RawMessage(`{"type":"object","properties":{"pass":{"type":"boolean"}}}`),
	}
}

func (s *AssertStep) Emitter() Emitter {
	return Emitter{Import: RuntimeModule, Function: "assert", Args: []string{"expression", "data", "message"}}
}

func (s *AssertStep) Execute(ctx context.Context, input StepInput) (*StepOutput, error) {
	expression := stringParam(input.Config, "expression", "")
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "assert: missing required config 'expression'")
	}

	out, err := s.cel.Evaluate(ctx, expression, map[string]any{
		"data":   normalizeJSON(input.Config["data"]),
		"config": normalizeJSON(input.Config),
	})
	if err != nil {
		return nil, err
	}

	pass, ok := out.(bool)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeStepFailed, "assert: %q evaluated to %T, not a boolean", expression, out)
	}
	if !pass {
		msg := stringParam(input.Config, "message", "")
		if msg == "" {
			msg = fmt.Sprintf("assertion failed: %s", expression)
		}
		return nil, schema.NewError(schema.ErrCodeStepFailed, msg).
			WithDetails(map[string]any{"expression": expression})
	}
	return &StepOutput{Data: map[string]any{"pass": true}}, nil
}

// normalizeJSON converts Go numeric types to float64 so CEL sees the same
// numbers a decoded JSON document would carry.
func normalizeJSON(v any) any {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return v
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeJSON(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeJSON(item)
		}
		return out
	default:
		return v
	}
}
