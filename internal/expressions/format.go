package expressions

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// labelKeys are tried in order when an object is formatted for display.
var labelKeys = []string{"title", "name", "id", "message"}

// FormatValue renders a resolved value as text: strings pass through,
// numbers and booleans are stringified, nil is empty, arrays are joined with
// ", " and objects prefer a title, name, id or message field before falling
// back to JSON.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return formatFloat(val)
	case float32:
		return formatFloat(float64(val))
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case json.Number:
		return val.String()
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = FormatValue(item)
		}
		return strings.Join(parts, ", ")
	case []string:
		return strings.Join(val, ", ")
	case map[string]any:
		for _, k := range labelKeys {
			if item, ok := val[k]; ok && present(item) {
				return FormatValue(item)
			}
		}
		return toJSON(val)
	case map[string]string:
		for _, k := range labelKeys {
			if item := val[k]; item != "" {
				return item
			}
		}
		return toJSON(val)
	default:
		return fmt.Sprint(val)
	}
}

// present mirrors a truthiness check on a label field: empty strings and nil
// do not count.
func present(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	}
	return true
}

func formatFloat(f float64) string {
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

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// QuoteJS returns s as a double-quoted TypeScript string literal. Line
// terminators, quotes, backslashes and control characters are escaped so the
// literal can never terminate early.
func QuoteJS(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\u2028':
			b.WriteString(`\u2028`)
		case '\u2029':
			b.WriteString(`\u2029`)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&b, `\u%04x`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
