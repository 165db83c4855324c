package expressions

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"

	"github.com/rendis/flowforge/pkg/schema"
)

const placeholderPrefix = "__tpl"

// Condition is a condition text with its templates replaced by placeholder
// identifiers and parsed into a restricted expression tree.
type Condition struct {
	Source string
	// Expr is Source with the i-th template replaced by Placeholder(i).
	Expr  string
	Spans []TemplateSpan
	// Refs[i] is the parsed Spans[i]; nil when the template did not parse.
	Refs []*Reference
	tree ast.Node
}

// Placeholder returns the identifier standing in for the i-th template.
func Placeholder(i int) string {
	return placeholderPrefix + strconv.Itoa(i)
}

// Empty reports whether the condition has no text, which always holds.
func (c *Condition) Empty() bool {
	return c.tree == nil
}

var allowedBinary = map[string]string{
	"==": "===", "!=": "!==",
	"<": "<", ">": ">", "<=": "<=", ">=": ">=",
	"&&": "&&", "and": "&&", "||": "||", "or": "||",
	"+": "+", "-": "-", "*": "*", "/": "/", "%": "%",
}

var allowedUnary = map[string]string{
	"!": "!", "not": "!", "-": "-", "+": "+",
}

// RewriteCondition replaces every template in text with a placeholder and
// parses the result. Only literals, comparison, boolean and arithmetic
// operators and the placeholders are accepted; anything else is a
// CONDITION_ERROR.
func RewriteCondition(text string) (*Condition, error) {
	c := &Condition{Source: text, Spans: FindTemplates(text)}

	var b strings.Builder
	last := 0
	for i, sp := range c.Spans {
		b.WriteString(text[last:sp.Start])
		b.WriteString(Placeholder(i))
		last = sp.End

		if ref, err := ParseTemplate(sp.Expr); err == nil {
			c.Refs = append(c.Refs, &ref)
		} else {
			c.Refs = append(c.Refs, nil)
		}
	}
	b.WriteString(text[last:])
	c.Expr = strings.TrimSpace(b.String())

	if c.Expr == "" {
		return c, nil
	}

	tree, err := parser.Parse(c.Expr)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCondition, "condition %q does not parse: %s", text, err.Error()).
			WithCause(err)
	}
	if err := c.check(tree.Node); err != nil {
		return nil, err
	}
	c.tree = tree.Node
	return c, nil
}

func (c *Condition) check(node ast.Node) error {
	switch n := node.(type) {
	case *ast.NilNode, *ast.IntegerNode, *ast.FloatNode, *ast.BoolNode, *ast.StringNode:
		return nil
	case *ast.IdentifierNode:
		if i, ok := c.placeholderIndex(n.Value); ok && i < len(c.Spans) {
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeCondition,
			"condition %q: bare identifier %q; reference node outputs with {{...}}", c.Source, n.Value)
	case *ast.UnaryNode:
		if _, ok := allowedUnary[n.Operator]; !ok {
			return schema.NewErrorf(schema.ErrCodeCondition, "condition %q: operator %q is not supported", c.Source, n.Operator)
		}
		return c.check(n.Node)
	case *ast.BinaryNode:
		if _, ok := allowedBinary[n.Operator]; !ok {
			return schema.NewErrorf(schema.ErrCodeCondition, "condition %q: operator %q is not supported", c.Source, n.Operator)
		}
		if err := c.check(n.Left); err != nil {
			return err
		}
		return c.check(n.Right)
	default:
		return schema.NewErrorf(schema.ErrCodeCondition,
			"condition %q: only comparisons, boolean and arithmetic operators are supported", c.Source)
	}
}

func (c *Condition) placeholderIndex(name string) (int, bool) {
	if !strings.HasPrefix(name, placeholderPrefix) {
		return 0, false
	}
	i, err := strconv.Atoi(name[len(placeholderPrefix):])
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

// Env binds every placeholder to its live value. A template that does not
// resolve is bound to its literal text.
func (c *Condition) Env(ctx context.Context, r *Resolver, outputs Outputs) map[string]any {
	env := make(map[string]any, len(c.Spans))
	for i, sp := range c.Spans {
		var v any = sp.Raw
		if c.Refs[i] != nil {
			if val, ok := r.Lookup(*c.Refs[i], outputs); ok {
				v = val
			} else {
				r.logger.WarnContext(ctx, "template did not resolve", "template", sp.Raw)
			}
		}
		env[Placeholder(i)] = v
	}
	return env
}

// Evaluate resolves the condition against outputs and runs it with engine.
// An empty condition is true.
func (c *Condition) Evaluate(ctx context.Context, engine *ExprEngine, r *Resolver, outputs Outputs) (bool, error) {
	if c.Empty() {
		return true, nil
	}
	return engine.EvaluateBool(ctx, c.Expr, c.Env(ctx, r, outputs))
}

// TypeScript renders the condition as a TypeScript expression. Each placeholder
// becomes the access expression for its reference, or a quoted literal of
// the template text when the reference has no variable.
func (c *Condition) TypeScript(r *Resolver, vars map[string]string) string {
	if c.Empty() {
		return "true"
	}
	return c.print(c.tree, r, vars, false)
}

func (c *Condition) print(node ast.Node, r *Resolver, vars map[string]string, nested bool) string {
	switch n := node.(type) {
	case *ast.NilNode:
		return "null"
	case *ast.IntegerNode:
		return strconv.Itoa(n.Value)
	case *ast.FloatNode:
		return formatFloat(n.Value)
	case *ast.BoolNode:
		return strconv.FormatBool(n.Value)
	case *ast.StringNode:
		return QuoteJS(n.Value)
	case *ast.IdentifierNode:
		i, _ := c.placeholderIndex(n.Value)
		if ref := c.Refs[i]; ref != nil {
			if access, ok := r.AccessExpr(*ref, vars); ok {
				return access
			}
		}
		return QuoteJS(c.Spans[i].Raw)
	case *ast.UnaryNode:
		operand := c.print(n.Node, r, vars, true)
		if _, ok := n.Node.(*ast.UnaryNode); ok {
			operand = "(" + operand + ")"
		}
		return allowedUnary[n.Operator] + operand
	case *ast.BinaryNode:
		s := fmt.Sprintf("%s %s %s",
			c.print(n.Left, r, vars, true), allowedBinary[n.Operator], c.print(n.Right, r, vars, true))
		if nested {
			return "(" + s + ")"
		}
		return s
	}
	return "false"
}
