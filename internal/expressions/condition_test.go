package expressions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowforge/pkg/schema"
)

func conditionResolver() *Resolver {
	return NewResolver([]*schema.Node{
		{ID: "nodeX", Kind: schema.NodeKindAction, Label: "Label"},
		{ID: "T", Kind: schema.NodeKindTrigger, Label: "Start"},
	}, nil)
}

func TestRewriteCondition(t *testing.T) {
	c, err := RewriteCondition("{{@nodeX:Label.count}} > 3")
	require.NoError(t, err)
	assert.Equal(t, "__tpl0 > 3", c.Expr)
	require.Len(t, c.Refs, 1)
	assert.Equal(t, "nodeX", c.Refs[0].NodeRef)
	assert.False(t, c.Empty())

	empty, err := RewriteCondition("   ")
	require.NoError(t, err)
	assert.True(t, empty.Empty())
}

func TestRewriteCondition_Rejects(t *testing.T) {
	for _, text := range []string{
		"len({{$T.items}}) > 0",
		"{{$T.a}} > limit",
		"{{$T.a}} ? 1 : 2",
		"{{$T.items}}[0] == 1",
		"{{$T.a}} in [1, 2]",
		"{{$T.a}} >",
		"__tpl5 == 1",
	} {
		t.Run(text, func(t *testing.T) {
			_, err := RewriteCondition(text)
			require.Error(t, err)
			var flowErr *schema.FlowError
			require.True(t, errors.As(err, &flowErr))
			assert.Equal(t, schema.ErrCodeCondition, flowErr.Code)
		})
	}
}

func TestCondition_TypeScript(t *testing.T) {
	r := conditionResolver()
	vars := map[string]string{"nodeX": "label", "T": "input"}

	tests := []struct {
		text string
		want string
	}{
		{"{{@nodeX:Label.count}} > 3", "label.count > 3"},
		{"{{$T.status}} == \"ok\" && not {{$T.muted}}", `(input.status === "ok") && !input.muted`},
		{"{{$T.a}} != nil or {{$T.b}} <= 2.5", "(input.a !== null) || (input.b <= 2.5)"},
		{"- -{{$T.n}} > 0", "-(-input.n) > 0"},
		{"{{$ghost.x}} == 1", `"{{$ghost.x}}" === 1`},
		{"", "true"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			c, err := RewriteCondition(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.TypeScript(r, vars))
		})
	}
}

func TestCondition_TypeScriptEscapesStrings(t *testing.T) {
	c, err := RewriteCondition(`{{$T.name}} == "a\"b${x}` + "`" + `"`)
	require.NoError(t, err)
	out := c.TypeScript(conditionResolver(), map[string]string{"T": "input"})
	assert.Equal(t, `input.name === "a\"b${x}`+"`"+`"`, out)
}

func TestCondition_Evaluate(t *testing.T) {
	r := conditionResolver()
	engine := NewExprEngine()
	ctx := context.Background()
	outputs := OutputMap{
		"nodeX": {Label: "Label", Data: map[string]any{"count": float64(5)}},
		"T":     {Label: "Start", Data: map[string]any{"status": "ok", "muted": false}},
	}

	tests := []struct {
		text string
		want bool
	}{
		{"{{@nodeX:Label.count}} > 3", true},
		{"{{@nodeX:Label.count}} > 9", false},
		{"{{$T.status}} == \"ok\" && not {{$T.muted}}", true},
		{"{{@nodeX:Label.count}} == 5", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			c, err := RewriteCondition(tt.text)
			require.NoError(t, err)
			got, err := c.Evaluate(ctx, engine, r, outputs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCondition_EvaluateNonBoolean(t *testing.T) {
	c, err := RewriteCondition("{{$T.status}}")
	require.NoError(t, err)

	_, err = c.Evaluate(context.Background(), NewExprEngine(), conditionResolver(),
		OutputMap{"T": {Data: map[string]any{"status": "ok"}}})
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, schema.ErrCodeCondition, flowErr.Code)
}

func TestCondition_EnvBindsMissToLiteral(t *testing.T) {
	c, err := RewriteCondition("{{$ghost.x}} == \"x\"")
	require.NoError(t, err)

	env := c.Env(context.Background(), conditionResolver(), OutputMap{})
	assert.Equal(t, "{{$ghost.x}}", env["__tpl0"])
}
