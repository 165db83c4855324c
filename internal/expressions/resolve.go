package expressions

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/rendis/flowforge/internal/logging"
	"github.com/rendis/flowforge/pkg/schema"
)

// NodeOutput is what one node contributed to a run.
type NodeOutput struct {
	Label string `json:"label"`
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

// Outputs is read access to the outputs accumulated so far in a run.
type Outputs interface {
	Output(nodeID string) (NodeOutput, bool)
}

// OutputMap is a plain Outputs, convenient for previews and tests.
type OutputMap map[string]NodeOutput

// Output implements Outputs.
func (m OutputMap) Output(nodeID string) (NodeOutput, bool) {
	o, ok := m[nodeID]
	return o, ok
}

// Resolver binds template references to node ids of one graph. It is shared
// by value resolution (live outputs) and expression resolution (generated
// variable names).
type Resolver struct {
	nodes  []*schema.Node
	byID   map[string]*schema.Node
	logger *slog.Logger
}

// NewResolver creates a resolver over nodes in declaration order.
func NewResolver(nodes []*schema.Node, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = logging.Discard()
	}
	byID := make(map[string]*schema.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	return &Resolver{nodes: nodes, byID: byID, logger: logger}
}

// ResolveNodeID returns the id of the node ref points to. Label references
// match case-insensitively and the first node in declaration order wins.
func (r *Resolver) ResolveNodeID(ref Reference) (string, bool) {
	if ref.Addressing != AddrLabel {
		_, ok := r.byID[ref.NodeRef]
		return ref.NodeRef, ok
	}
	for _, n := range r.nodes {
		if strings.EqualFold(n.Label, ref.NodeRef) {
			return n.ID, true
		}
	}
	return "", false
}

// Lookup returns the live value ref points to. Any missing node, failed node
// or absent path segment is a miss.
func (r *Resolver) Lookup(ref Reference, outputs Outputs) (any, bool) {
	id, ok := r.ResolveNodeID(ref)
	if !ok || outputs == nil {
		return nil, false
	}
	out, ok := outputs.Output(id)
	if !ok || out.Error != "" {
		return nil, false
	}
	return walkPath(out.Data, ref.Path)
}

func walkPath(v any, path []PathSegment) (any, bool) {
	cur := v
	for _, seg := range path {
		next, ok := field(cur, seg.Field)
		if !ok {
			return nil, false
		}
		if seg.HasIndex {
			next, ok = index(next, seg.Index)
			if !ok {
				return nil, false
			}
		}
		cur = next
	}
	return cur, true
}

func field(v any, name string) (any, bool) {
	switch m := v.(type) {
	case map[string]any:
		val, ok := m[name]
		return val, ok
	case map[string]string:
		val, ok := m[name]
		return val, ok
	}
	return nil, false
}

func index(v any, i int) (any, bool) {
	switch s := v.(type) {
	case []any:
		if i < len(s) {
			return s[i], true
		}
	case []string:
		if i < len(s) {
			return s[i], true
		}
	case []map[string]any:
		if i < len(s) {
			return s[i], true
		}
	}
	return nil, false
}

// Interpolate substitutes every template in text with its formatted live
// value. Misses keep their literal text and are logged at warn level.
func (r *Resolver) Interpolate(ctx context.Context, text string, outputs Outputs) string {
	spans := FindTemplates(text)
	if len(spans) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, sp := range spans {
		b.WriteString(text[last:sp.Start])
		if v, ok := r.resolveSpan(ctx, sp, outputs); ok {
			b.WriteString(FormatValue(v))
		} else {
			b.WriteString(sp.Raw)
		}
		last = sp.End
	}
	b.WriteString(text[last:])
	return b.String()
}

// ResolveValue resolves a single config value. A string made of exactly one
// field reference resolves to the raw value so numbers and objects keep
// their type. A whole-node reference is formatted like interpolated text;
// any other string is interpolated.
func (r *Resolver) ResolveValue(ctx context.Context, text string, outputs Outputs) any {
	if sp, ok := WholeTemplate(text); ok {
		v, ok := r.resolveSpan(ctx, sp, outputs)
		if !ok {
			return text
		}
		if ref, err := ParseTemplate(sp.Expr); err == nil && ref.WholeNode() {
			return FormatValue(v)
		}
		return v
	}
	return r.Interpolate(ctx, text, outputs)
}

// ResolveConfig returns a copy of config with every string, at any depth,
// passed through ResolveValue.
func (r *Resolver) ResolveConfig(ctx context.Context, config map[string]any, outputs Outputs) map[string]any {
	if config == nil {
		return map[string]any{}
	}
	out, _ := r.resolveAny(ctx, config, outputs).(map[string]any)
	return out
}

func (r *Resolver) resolveAny(ctx context.Context, v any, outputs Outputs) any {
	switch val := v.(type) {
	case string:
		return r.ResolveValue(ctx, val, outputs)
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[k] = r.resolveAny(ctx, item, outputs)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, item := range val {
			s[i] = r.resolveAny(ctx, item, outputs)
		}
		return s
	}
	return v
}

func (r *Resolver) resolveSpan(ctx context.Context, sp TemplateSpan, outputs Outputs) (any, bool) {
	ref, err := ParseTemplate(sp.Expr)
	if err != nil {
		logging.LogWith(ctx, r.logger).Warn("unparseable template", slog.String("template", sp.Raw), slog.String("error", err.Error()))
		return nil, false
	}
	v, ok := r.Lookup(ref, outputs)
	if !ok {
		logging.LogWith(ctx, r.logger).Warn("template did not resolve", slog.String("template", sp.Raw))
	}
	return v, ok
}

// AccessExpr returns the source-level expression for ref given the variable
// names chosen for node ids, e.g. `order.items[0].sku`. References to nodes
// without a variable are a miss.
func (r *Resolver) AccessExpr(ref Reference, vars map[string]string) (string, bool) {
	id, ok := r.ResolveNodeID(ref)
	if !ok {
		return "", false
	}
	name, ok := vars[id]
	if !ok || name == "" {
		return "", false
	}

	var b strings.Builder
	b.WriteString(name)
	for _, seg := range ref.Path {
		if IsIdentifier(seg.Field) {
			b.WriteByte('.')
			b.WriteString(seg.Field)
		} else {
			b.WriteByte('[')
			b.WriteString(QuoteJS(seg.Field))
			b.WriteByte(']')
		}
		if seg.HasIndex {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(seg.Index))
			b.WriteByte(']')
		}
	}
	return b.String(), true
}

// IsIdentifier reports whether s can be used after a '.' in generated source.
func IsIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_' || c == '$':
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

// References returns the ids of every node referenced by a template in any
// node's config, the condition text included. Unresolvable references are
// ignored.
func (r *Resolver) References() map[string]bool {
	refs := make(map[string]bool)
	for _, n := range r.nodes {
		for id := range r.NodeReferences(n) {
			refs[id] = true
		}
	}
	return refs
}

// NodeReferences returns the ids of the nodes referenced from n's config.
func (r *Resolver) NodeReferences(n *schema.Node) map[string]bool {
	refs := make(map[string]bool)
	collectRefs(n.Config, func(text string) {
		for _, sp := range FindTemplates(text) {
			ref, err := ParseTemplate(sp.Expr)
			if err != nil {
				continue
			}
			if id, ok := r.ResolveNodeID(ref); ok {
				refs[id] = true
			}
		}
	})
	return refs
}

func collectRefs(v any, fn func(string)) {
	switch val := v.(type) {
	case string:
		fn(val)
	case map[string]any:
		for _, item := range val {
			collectRefs(item, fn)
		}
	case []any:
		for _, item := range val {
			collectRefs(item, fn)
		}
	}
}
