package expressions

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string unchanged", "hello {{x}}", "hello {{x}}"},
		{"nil", nil, ""},
		{"integer float", float64(5), "5"},
		{"fraction", 1.25, "1.25"},
		{"int", 42, "42"},
		{"bool", true, "true"},
		{"json number", json.Number("12.50"), "12.50"},
		{"array", []any{"a", float64(1), false}, "a, 1, false"},
		{"nested array", []any{[]any{"a", "b"}, "c"}, "a, b, c"},
		{"title wins", map[string]any{"name": "n", "title": "The Title"}, "The Title"},
		{"name before id", map[string]any{"id": 3, "name": "Ann"}, "Ann"},
		{"id", map[string]any{"id": float64(3), "other": 1}, "3"},
		{"message", map[string]any{"message": "ok"}, "ok"},
		{"empty title skipped", map[string]any{"title": "", "name": "fallback"}, "fallback"},
		{"json fallback", map[string]any{"b": 1, "a": "x"}, `{"a":"x","b":1}`},
		{"array of objects", []any{map[string]any{"title": "x"}, map[string]any{"title": "y"}}, "x, y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.in))
		})
	}
}

func TestQuoteJS(t *testing.T) {
	assert.Equal(t, `"plain"`, QuoteJS("plain"))
	assert.Equal(t, `"a\"b\\c"`, QuoteJS(`a"b\c`))
	assert.Equal(t, `"line\nnext\r"`, QuoteJS("line\nnext\r"))
	assert.Equal(t, `"\u2028\u2029"`, QuoteJS("\u2028\u2029"))
	assert.Equal(t, `"\u0000"`, QuoteJS("\x00"))
	assert.Equal(t, `"${x} `+"`"+`"`, QuoteJS("${x} `"))
}
