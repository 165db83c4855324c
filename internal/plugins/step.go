package plugins

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"unicode"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/flowforge/internal/actions"
	"github.com/rendis/flowforge/pkg/schema"
)

// toolStep runs one MCP tool as a step. Node config minus the keys the
// engine reserves becomes the tool arguments.
type toolStep struct {
	m      *Manager
	p      *plugin
	tool   mcp.Tool
	params []string
}

func newToolStep(m *Manager, p *plugin, tool mcp.Tool) *toolStep {
	params := make([]string, 0, len(tool.InputSchema.Properties))
	for k := range tool.InputSchema.Properties {
		params = append(params, k)
	}
	sort.Strings(params)
	return &toolStep{m: m, p: p, tool: tool, params: params}
}

func (s *toolStep) Name() string { return s.p.name + "." + s.tool.Name }

func (s *toolStep) Schema() actions.StepSchema {
	return actions.StepSchema{Description: s.tool.Description}
}

func (s *toolStep) Emitter() actions.Emitter {
	return actions.Emitter{
		Import:   ModulePrefix + s.p.name,
		Function: identifier(s.tool.Name),
		Args:     s.params,
	}
}

func (s *toolStep) Execute(ctx context.Context, in actions.StepInput) (*actions.StepOutput, error) {
	if st := s.m.statusOf(s.p); st != StatusHealthy {
		return nil, schema.NewErrorf(schema.ErrCodeActionUnavailable, "plugin %q is %s", s.p.name, st)
	}

	args := make(map[string]any, len(in.Config))
	for k, v := range in.Config {
		switch k {
		case schema.ConfigActionType, schema.ConfigCredentialRef:
			continue
		}
		args[k] = v
	}
	if len(in.Credentials) > 0 {
		creds := make(map[string]any, len(in.Credentials))
		for k, v := range in.Credentials {
			creds[k] = v
		}
		args["credentials"] = creds
	}

	timeout := s.m.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallLimit
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = s.tool.Name
	req.Params.Arguments = args
	res, err := s.p.client.CallTool(ctx, req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStepFailed, "plugin %q tool %q", s.p.name, s.tool.Name).WithCause(err)
	}
	if res.IsError {
		return nil, schema.NewErrorf(schema.ErrCodeStepFailed, "plugin %q tool %q: %s", s.p.name, s.tool.Name, resultText(res))
	}
	return &actions.StepOutput{Data: resultData(res)}, nil
}

// resultData prefers structured content, then JSON text, then plain text.
func resultData(res *mcp.CallToolResult) any {
	if res.StructuredContent != nil {
		return res.StructuredContent
	}
	text := resultText(res)
	var v any
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		return v
	}
	return text
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if t := mcp.GetTextFromContent(c); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// identifier turns a tool name such as "send-mail" into sendMail.
func identifier(name string) string {
	var b strings.Builder
	upper := false
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = b.Len() > 0
			continue
		}
		if b.Len() == 0 && unicode.IsDigit(r) {
			b.WriteByte('_')
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return "tool"
	}
	return b.String()
}
