package expressions

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rendis/flowforge/pkg/schema"
)

// Addressing identifies which grammar a template reference was written in.
type Addressing int

const (
	// AddrID is `@<nodeId>:<DisplayName>[.<path>]`.
	AddrID Addressing = iota
	// AddrLegacyID is `$<nodeId>[.<path>]`.
	AddrLegacyID
	// AddrLabel is `<label>[.<path>]`, matched case-insensitively.
	AddrLabel
)

func (a Addressing) String() string {
	switch a {
	case AddrID:
		return "id"
	case AddrLegacyID:
		return "legacy-id"
	case AddrLabel:
		return "label"
	}
	return "unknown"
}

// PathSegment is one `name` or `name[n]` element of a field path.
type PathSegment struct {
	Field    string
	Index    int
	HasIndex bool
}

// Reference is a parsed template expression.
type Reference struct {
	Addressing Addressing
	NodeRef    string
	// Display is the cosmetic name of an AddrID reference.
	Display string
	Path    []PathSegment
}

// WholeNode reports whether the reference addresses a node's entire data.
func (r Reference) WholeNode() bool {
	return len(r.Path) == 0
}

// TemplateSpan is one `{{...}}` occurrence inside a string.
type TemplateSpan struct {
	Start int
	End   int
	// Raw is the full text including braces.
	Raw string
	// Expr is the trimmed text between the braces.
	Expr string
}

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// FindTemplates returns every `{{...}}` occurrence in text, left to right.
// An opening delimiter without a closing one is plain text.
func FindTemplates(text string) []TemplateSpan {
	var spans []TemplateSpan
	i := 0
	for i < len(text) {
		idx := strings.Index(text[i:], openDelim)
		if idx == -1 {
			break
		}
		start := i + idx
		end := strings.Index(text[start+len(openDelim):], closeDelim)
		if end == -1 {
			break
		}
		end += start + len(openDelim) + len(closeDelim)

		raw := text[start:end]
		spans = append(spans, TemplateSpan{
			Start: start,
			End:   end,
			Raw:   raw,
			Expr:  strings.TrimSpace(raw[len(openDelim) : len(raw)-len(closeDelim)]),
		})
		i = end
	}
	return spans
}

// WholeTemplate returns the span when text consists of exactly one template
// and nothing else, ignoring surrounding whitespace.
func WholeTemplate(text string) (TemplateSpan, bool) {
	trimmed := strings.TrimSpace(text)
	spans := FindTemplates(trimmed)
	if len(spans) != 1 || spans[0].Start != 0 || spans[0].End != len(trimmed) {
		return TemplateSpan{}, false
	}
	return spans[0], true
}

// ParseTemplate parses the text between the braces of a template. The three
// grammars are tried in order: `@id:Display`, `$id`, then a bare label.
func ParseTemplate(expr string) (Reference, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Reference{}, schema.NewError(schema.ErrCodeTemplateMiss, "empty template expression")
	}

	var ref Reference
	var rest string
	var hasPath bool

	switch expr[0] {
	case '@':
		colon := strings.IndexByte(expr, ':')
		if colon == -1 {
			return Reference{}, schema.NewErrorf(schema.ErrCodeTemplateMiss,
				"template %q: missing ':' after node id", expr)
		}
		ref.Addressing = AddrID
		ref.NodeRef = expr[1:colon]
		ref.Display, rest, hasPath = splitHead(expr[colon+1:])
	case '$':
		ref.Addressing = AddrLegacyID
		ref.NodeRef, rest, hasPath = splitHead(expr[1:])
	default:
		ref.Addressing = AddrLabel
		ref.NodeRef, rest, hasPath = splitHead(expr)
		ref.NodeRef = strings.TrimSpace(ref.NodeRef)
	}

	if ref.NodeRef == "" {
		return Reference{}, schema.NewErrorf(schema.ErrCodeTemplateMiss, "template %q: missing node reference", expr)
	}

	if hasPath {
		path, err := parsePath(rest)
		if err != nil {
			return Reference{}, schema.NewErrorf(schema.ErrCodeTemplateMiss, "template %q: %s", expr, err.Error())
		}
		ref.Path = path
	}
	return ref, nil
}

// splitHead splits at the first '.', returning the head, the remainder
// without the dot and whether a dot was found.
func splitHead(s string) (string, string, bool) {
	if dot := strings.IndexByte(s, '.'); dot != -1 {
		return s[:dot], s[dot+1:], true
	}
	return s, "", false
}

func parsePath(s string) ([]PathSegment, error) {
	parts := strings.Split(s, ".")
	path := make([]PathSegment, 0, len(parts))
	for _, p := range parts {
		seg, err := parseSegment(p)
		if err != nil {
			return nil, err
		}
		path = append(path, seg)
	}
	return path, nil
}

func parseSegment(p string) (PathSegment, error) {
	open := strings.IndexByte(p, '[')
	if open == -1 {
		if p == "" || strings.ContainsRune(p, ']') {
			return PathSegment{}, fmt.Errorf("invalid path segment %q", p)
		}
		return PathSegment{Field: p}, nil
	}

	if open == 0 || !strings.HasSuffix(p, "]") {
		return PathSegment{}, fmt.Errorf("invalid path segment %q", p)
	}
	n, err := strconv.Atoi(p[open+1 : len(p)-1])
	if err != nil || n < 0 {
		return PathSegment{}, fmt.Errorf("invalid index in path segment %q", p)
	}
	return PathSegment{Field: p[:open], Index: n, HasIndex: true}, nil
}
