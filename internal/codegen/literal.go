package codegen

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rendis/flowforge/internal/expressions"
)

// renderer turns config values into TypeScript source, binding templates to
// the variables chosen for their nodes.
type renderer struct {
	resolver *expressions.Resolver
	vars     map[string]string
	// misses counts templates that fell back to their literal text.
	misses int
}

// value renders v as a TypeScript expression.
func (r *renderer) value(v any, indent string) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return r.str(val)
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return number(val)
	case float32:
		return number(float64(val))
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	case []any:
		if len(val) == 0 {
			return "[]"
		}
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = r.value(item, indent)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		return r.object(val, nil, indent)
	}
	return expressions.QuoteJS(fmt.Sprint(v))
}

// object renders m as an object literal with keys sorted, leaving out skip.
func (r *renderer) object(m map[string]any, skip map[string]bool, indent string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if !skip[k] {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return "{}"
	}
	sort.Strings(keys)

	inner := indent + "  "
	var b strings.Builder
	b.WriteString("{\n")
	for _, k := range keys {
		b.WriteString(inner)
		b.WriteString(propertyKey(k))
		b.WriteString(": ")
		b.WriteString(r.value(m[k], inner))
		b.WriteString(",\n")
	}
	b.WriteString(indent)
	b.WriteString("}")
	return b.String()
}

// str renders a config string. A string that is exactly one field reference
// becomes the access expression so the value keeps its type, and a
// whole-node reference is passed through format(); text mixed with templates
// becomes a template literal; anything else a quoted literal.
func (r *renderer) str(s string) string {
	if sp, ok := expressions.WholeTemplate(s); ok {
		if access, ok := r.access(sp); ok {
			if ref, err := expressions.ParseTemplate(sp.Expr); err == nil && ref.WholeNode() {
				return "format(" + access + ")"
			}
			return access
		}
		r.misses++
		return expressions.QuoteJS(s)
	}

	spans := expressions.FindTemplates(s)
	if len(spans) == 0 {
		return expressions.QuoteJS(s)
	}

	var b strings.Builder
	b.WriteByte('`')
	last := 0
	for _, sp := range spans {
		b.WriteString(escapeTemplateText(s[last:sp.Start]))
		if access, ok := r.access(sp); ok {
			b.WriteString("${format(")
			b.WriteString(access)
			b.WriteString(")}")
		} else {
			r.misses++
			b.WriteString(escapeTemplateText(sp.Raw))
		}
		last = sp.End
	}
	b.WriteString(escapeTemplateText(s[last:]))
	b.WriteByte('`')
	return b.String()
}

func (r *renderer) access(sp expressions.TemplateSpan) (string, bool) {
	ref, err := expressions.ParseTemplate(sp.Expr)
	if err != nil {
		return "", false
	}
	return r.resolver.AccessExpr(ref, r.vars)
}

// escapeTemplateText escapes s for use between the backticks of a template
// literal. The result can neither close the literal nor open an
// interpolation, and holds no raw line terminators or quotes.
func escapeTemplateText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			b.WriteString(`\\`)
		case '`':
			b.WriteString("\\`")
		case '$':
			if i+1 < len(s) && s[i+1] == '{' {
				b.WriteString(`\$`)
			} else {
				b.WriteByte('$')
			}
		case '"':
			b.WriteString(`\"`)
		case '\'':
			b.WriteString(`\'`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			switch {
			case strings.HasPrefix(s[i:], "\u2028"):
				b.WriteString(`\u2028`)
				i += len("\u2028") - 1
			case strings.HasPrefix(s[i:], "\u2029"):
				b.WriteString(`\u2029`)
				i += len("\u2029") - 1
			case c < 0x20 || c == 0x7f:
				fmt.Fprintf(&b, `\x%02x`, c)
			default:
				b.WriteByte(c)
			}
		}
	}
	return b.String()
}

// propertyKey renders an object key, quoting it unless it is an identifier.
func propertyKey(k string) string {
	if expressions.IsIdentifier(k) {
		return k
	}
	return expressions.QuoteJS(k)
}

func number(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// comment flattens s onto one line for use in a // comment.
func comment(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "\u2028", " ", "\u2029", " ").Replace(s)
}
