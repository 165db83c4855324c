package codegen

import (
	"strconv"
	"strings"
	"unicode"
)

// reserved are names generated variables must never take: TypeScript
// keywords, well-known globals and the orchestrator's own identifiers.
var reserved = map[string]bool{
	"break": true, "case": true, "catch": true, "class": true, "const": true,
	"continue": true, "debugger": true, "default": true, "delete": true, "do": true,
	"else": true, "enum": true, "export": true, "extends": true, "false": true,
	"finally": true, "for": true, "function": true, "if": true, "import": true,
	"in": true, "instanceof": true, "new": true, "null": true, "return": true,
	"super": true, "switch": true, "this": true, "throw": true, "true": true,
	"try": true, "typeof": true, "var": true, "void": true, "while": true,
	"with": true, "yield": true, "let": true, "static": true, "implements": true,
	"interface": true, "package": true, "private": true, "protected": true,
	"public": true, "await": true, "async": true, "of": true, "as": true,
	"type": true, "declare": true, "namespace": true, "module": true,
	"any": true, "unknown": true, "never": true, "number": true, "string": true,
	"boolean": true, "symbol": true, "object": true, "undefined": true,
	"arguments": true, "eval": true, "NaN": true, "Infinity": true,
	"Promise": true, "Object": true, "Array": true, "JSON": true, "Error": true,
	"String": true, "Number": true, "Boolean": true, "Math": true, "Date": true,
	"console": true, "globalThis": true,

	"input": true, "join": true, "result": true, "format": true,
	"transform": true, "credentials": true, "runWorkflow": true,
}

// namer hands out unique identifiers. The first claim of a base name gets it
// as-is, later ones get a numeric suffix starting at 2.
type namer struct {
	taken map[string]bool
}

func newNamer() *namer {
	taken := make(map[string]bool, len(reserved))
	for k := range reserved {
		taken[k] = true
	}
	return &namer{taken: taken}
}

// claim returns base, or base2, base3, ... whichever is free first.
func (n *namer) claim(base string) string {
	if !n.taken[base] {
		n.taken[base] = true
		return base
	}
	for i := 2; ; i++ {
		candidate := base + strconv.Itoa(i)
		if !n.taken[candidate] {
			n.taken[candidate] = true
			return candidate
		}
	}
}

// camelCase turns a node label into an identifier: "Send Email" becomes
// sendEmail. Labels with no usable characters fall back to fallback, and an
// identifier that would start with a digit is prefixed with it.
func camelCase(label, fallback string) string {
	words := splitWords(label)
	if len(words) == 0 {
		return fallback
	}

	var b strings.Builder
	for i, w := range words {
		w = strings.ToLower(w)
		if i > 0 {
			w = capitalize(w)
		}
		b.WriteString(w)
	}
	name := b.String()
	if unicode.IsDigit(rune(name[0])) {
		name = fallback + capitalize(name)
	}
	return name
}

// pascalCase is camelCase with the first letter upper-cased.
func pascalCase(label, fallback string) string {
	return capitalize(camelCase(label, fallback))
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !(r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)))
	})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
