package codegen

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/flowforge/internal/expressions"
	"github.com/rendis/flowforge/pkg/schema"
)

func TestEscapeTemplateText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"backtick", "a`b", "a\\`b"},
		{"interpolation", "${x}", "\\${x}"},
		{"lone dollar", "$5", "$5"},
		{"backslash", `a\b`, `a\\b`},
		{"quotes", `"x" 'y'`, `\"x\" \'y\'`},
		{"newlines", "a\nb\r\nc", `a\nb\r\nc`},
		{"line separators", "a\u2028b\u2029c", `a\u2028b\u2029c`},
		{"control", "a\x00b", `a\x00b`},
		{"unicode", "café", "café"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, escapeTemplateText(tt.in))
		})
	}
}

func TestRenderer_Values(t *testing.T) {
	nodes := []*schema.Node{{ID: "T", Kind: schema.NodeKindTrigger, Label: "Start"}, {ID: "A", Kind: schema.NodeKindAction, Label: "Order"}}
	r := &renderer{
		resolver: expressions.NewResolver(nodes, nil),
		vars:     map[string]string{"T": "input", "A": "order"},
	}

	assert.Equal(t, "null", r.value(nil, ""))
	assert.Equal(t, "true", r.value(true, ""))
	assert.Equal(t, "3.5", r.value(3.5, ""))
	assert.Equal(t, "42", r.value(42, ""))
	assert.Equal(t, `"plain"`, r.value("plain", ""))
	assert.Equal(t, "order.items[0].sku", r.value("{{$A.items[0].sku}}", ""))
	assert.Equal(t, "`Hi ${format(input.name)}!`", r.value("Hi {{$T.name}}!", ""))
	assert.Equal(t, `[1, "a", format(input)]`, r.value([]any{1, "a", "{{$T}}"}, ""))
	assert.Equal(t, "format(order)", r.value("{{@A:Order}}", ""))
	assert.Equal(t, "{\n  a: 1,\n  \"b-c\": {\n    d: order.id,\n  },\n}", r.value(map[string]any{"b-c": map[string]any{"d": "{{$A.id}}"}, "a": 1}, ""))
	assert.Equal(t, 0, r.misses)

	assert.Equal(t, `"{{$missing}}"`, r.value("{{$missing}}", ""))
	assert.Equal(t, 1, r.misses)
}

func TestComment(t *testing.T) {
	assert.Equal(t, "a b c d", comment("a\nb\r\nc\u2028d"))
}
