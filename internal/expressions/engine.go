package expressions

import "context"

// Engine evaluates an expression language against a data map.
// Three implementations: Expr (conditions, expr transforms), GoJQ (jq
// transforms and steps), CEL (assert steps).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
