package engine

import (
	"context"
	"maps"
	"time"

	"github.com/rendis/flowforge/internal/expressions"
	"github.com/rendis/flowforge/pkg/schema"
)

// transformer applies a transform node's program to its parent's output.
type transformer struct {
	jq   *expressions.GoJQEngine
	expr *expressions.ExprEngine
	now  func() time.Time
}

func newTransformer() *transformer {
	return &transformer{
		jq:   expressions.NewGoJQEngine(),
		expr: expressions.NewExprEngine(),
		now:  time.Now,
	}
}

// apply runs transformType against input. passthrough (the default) copies
// input and stamps transformedAt; a non-object input is carried under "data".
func (t *transformer) apply(ctx context.Context, node *schema.Node, input any) (any, error) {
	kind := node.ConfigString(schema.ConfigTransformType)
	program := node.ConfigString(schema.ConfigExpression)

	switch kind {
	case "", schema.TransformPassthrough:
		stamp := t.now().UTC().Format(time.RFC3339Nano)
		if m, ok := input.(map[string]any); ok {
			out := make(map[string]any, len(m)+1)
			maps.Copy(out, m)
			out["transformedAt"] = stamp
			return out, nil
		}
		return map[string]any{"data": input, "transformedAt": stamp}, nil

	case schema.TransformJQ:
		if program == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "jq transform requires an expression").WithNode(node.ID)
		}
		out, err := t.jq.Run(ctx, program, input)
		if err != nil {
			return nil, nodeError(node.ID, err)
		}
		return out, nil

	case schema.TransformExpr:
		if program == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "expr transform requires an expression").WithNode(node.ID)
		}
		out, err := t.expr.Evaluate(ctx, program, map[string]any{"data": input})
		if err != nil {
			return nil, nodeError(node.ID, err)
		}
		return out, nil
	}

	return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown transform type %q", kind).WithNode(node.ID)
}
