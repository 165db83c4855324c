package actions

import (
	"context"
	"encoding/json"

	"github.com/rendis/flowforge/internal/expressions"
	"github.com/rendis/flowforge/pkg/schema"
)

// ExpressionSteps returns the steps that evaluate an expression language
// against resolved config.
func ExpressionSteps(jq *expressions.GoJQEngine, ex *expressions.ExprEngine) []Step {
	return []Step{
		&jqStep{engine: jq},
		&exprEvalStep{engine: ex},
	}
}

// --- jq ---

type jqStep struct {
	engine *expressions.GoJQEngine
}

func (s *jqStep) Name() string { return "jq" }

func (s *jqStep) Schema() StepSchema {
	return StepSchema{
		Description: "Run a jq program against config.input",
		ConfigSchema: json.RawMessage(`{
  "type": "object",
  "properties": {"expression": {"type": "string", "minLength": 1}, "input": {}},
  "required": ["expression"]
}`),
	}
}

func (s *jqStep) Emitter() Emitter {
	return Emitter{Import: RuntimeModule, Function: "jq", Args: []string{"expression", "input"}}
}

func (s *jqStep) Execute(ctx context.Context, input StepInput) (*StepOutput, error) {
	expression := stringParam(input.Config, "expression", "")
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "jq requires non-empty 'expression' string config")
	}

	result, err := s.engine.Run(ctx, expression, input.Config["input"])
	if err != nil {
		return nil, err
	}
	return &StepOutput{Data: map[string]any{"result": result}}, nil
}

// --- expr.eval ---

type exprEvalStep struct {
	engine *expressions.ExprEngine
}

func (s *exprEvalStep) Name() string { return "expr.eval" }

func (s *exprEvalStep) Schema() StepSchema {
	return StepSchema{
		Description: "Evaluate an Expr expression with config.data in scope as `data`",
		ConfigSchema: json.RawMessage(`{
  "type": "object",
  "properties": {"expression": {"type": "string", "minLength": 1}, "data": {}},
  "required": ["expression"]
}`),
	}
}

func (s *exprEvalStep) Emitter() Emitter {
	return Emitter{Import: RuntimeModule, Function: "evaluate", Args: []string{"expression", "data"}}
}

func (s *exprEvalStep) Execute(ctx context.Context, input StepInput) (*StepOutput, error) {
	expression := stringParam(input.Config, "expression", "")
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "expr.eval requires non-empty 'expression' string config")
	}

	scope := map[string]any{"data": input.Config["data"]}
	result, err := s.engine.Evaluate(ctx, expression, scope)
	if err != nil {
		return nil, err
	}
	return &StepOutput{Data: map[string]any{"result": result}}, nil
}
