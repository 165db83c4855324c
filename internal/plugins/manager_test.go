package plugins

import (
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowforge/internal/actions"
	"github.com/rendis/flowforge/internal/codegen"
	"github.com/rendis/flowforge/pkg/schema"
)

func mailServer() *server.MCPServer {
	srv := server.NewMCPServer("mail", "1.0.0", server.WithToolCapabilities(false))
	srv.AddTool(
		mcp.NewTool("send-mail",
			mcp.WithDescription("Send an email"),
			mcp.WithString("to", mcp.Required()),
			mcp.WithString("body"),
		),
		func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			if _, leaked := args[schema.ConfigActionType]; leaked {
				return mcp.NewToolResultError("actionType leaked"), nil
			}
			user := ""
			if creds, ok := args["credentials"].(map[string]any); ok {
				user, _ = creds["user"].(string)
			}
			return mcp.NewToolResultText(`{"sent": true, "to": "` + req.GetString("to", "") + `", "user": "` + user + `"}`), nil
		},
	)
	srv.AddTool(mcp.NewTool("bounce", mcp.WithDescription("Always fails")),
		func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultError("mailbox full"), nil
		},
	)
	srv.AddTool(mcp.NewTool("version"),
		func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText("v2"), nil
		},
	)
	return srv
}

func attachMail(t *testing.T) (*Manager, *actions.Registry) {
	t.Helper()
	ctx := context.Background()
	c, err := client.NewInProcessClient(mailServer())
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))

	reg := actions.NewRegistry(nil)
	m := NewManager(reg, nil)
	require.NoError(t, m.Attach(ctx, "mail", c))
	t.Cleanup(func() { _ = m.StopAll() })
	return m, reg
}

func TestAttach_RegistersToolsAsSteps(t *testing.T) {
	m, reg := attachMail(t)

	assert.Equal(t, []string{"mail.bounce", "mail.send-mail", "mail.version"}, m.Steps("mail"))
	assert.Equal(t, map[string]string{"mail": StatusHealthy}, m.Status())

	step, err := reg.Get("mail.send-mail")
	require.NoError(t, err)
	assert.Equal(t, "Send an email", step.Schema().Description)
	assert.Equal(t, actions.Emitter{
		Import:   "@flowforge/plugins/mail",
		Function: "sendMail",
		Args:     []string{"body", "to"},
	}, step.Emitter())
}

func TestToolStep_Execute(t *testing.T) {
	_, reg := attachMail(t)
	ctx := context.Background()

	step, err := reg.Get("mail.send-mail")
	require.NoError(t, err)
	out, err := step.Execute(ctx, actions.StepInput{
		NodeID:      "n1",
		Config:      map[string]any{schema.ConfigActionType: "mail.send-mail", schema.ConfigCredentialRef: "smtp", "to": "a@b.com"},
		Credentials: map[string]string{"user": "bot"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"sent": true, "to": "a@b.com", "user": "bot"}, out.Data)

	step, err = reg.Get("mail.version")
	require.NoError(t, err)
	out, err = step.Execute(ctx, actions.StepInput{Config: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "v2", out.Data)
}

func TestToolStep_ToolErrorFailsStep(t *testing.T) {
	_, reg := attachMail(t)

	step, err := reg.Get("mail.bounce")
	require.NoError(t, err)
	_, err = step.Execute(context.Background(), actions.StepInput{Config: map[string]any{}})
	var fe *schema.FlowError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, schema.ErrCodeStepFailed, fe.Code)
	assert.Contains(t, fe.Message, "mailbox full")
}

func TestStop_StepsFailFast(t *testing.T) {
	m, reg := attachMail(t)
	require.NoError(t, m.Stop("mail"))
	assert.Equal(t, StatusStopped, m.Status()["mail"])

	step, err := reg.Get("mail.version")
	require.NoError(t, err)
	_, err = step.Execute(context.Background(), actions.StepInput{Config: map[string]any{}})
	var fe *schema.FlowError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, schema.ErrCodeActionUnavailable, fe.Code)

	var nf *schema.FlowError
	require.True(t, errors.As(m.Stop("ghost"), &nf))
	assert.Equal(t, schema.ErrCodeNotFound, nf.Code)
}

func TestAttach_Rejects(t *testing.T) {
	m, _ := attachMail(t)
	ctx := context.Background()

	err := m.Attach(ctx, "mail", &fakeClient{})
	var fe *schema.FlowError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, schema.ErrCodeConflict, fe.Code)

	err = m.Attach(ctx, "Bad Name", &fakeClient{})
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)

	err = m.Attach(ctx, "broken", &fakeClient{initErr: errors.New("eof")})
	assert.ErrorContains(t, err, "handshake")
	assert.NotContains(t, m.Status(), "broken")
}

func TestLoad_RequiresCommand(t *testing.T) {
	m := NewManager(actions.NewRegistry(nil), nil)
	assert.Error(t, m.Load(context.Background(), PluginConfig{Name: "x"}))
}

// fakeClient is an MCPClient whose handshake and ping results are scripted.
type fakeClient struct {
	MCPClient
	initErr error
	pingErr error
}

func (f *fakeClient) Initialize(context.Context, mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	return &mcp.InitializeResult{}, f.initErr
}

func (f *fakeClient) ListTools(context.Context, mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	return &mcp.ListToolsResult{}, nil
}

func (f *fakeClient) Ping(context.Context) error { return f.pingErr }
func (f *fakeClient) Close() error               { return nil }

func TestHealthCheck_MarksUnhealthyAndRecovers(t *testing.T) {
	ctx := context.Background()
	fc := &fakeClient{}
	m := NewManager(actions.NewRegistry(nil), nil)
	require.NoError(t, m.Attach(ctx, "flaky", fc))
	defer m.StopAll()

	m.mu.RLock()
	p := m.plugins["flaky"]
	m.mu.RUnlock()

	fc.pingErr = errors.New("broken pipe")
	for range unhealthyAfter - 1 {
		m.check(ctx, p)
	}
	assert.Equal(t, StatusHealthy, m.Status()["flaky"])
	m.check(ctx, p)
	assert.Equal(t, StatusUnhealthy, m.Status()["flaky"])

	fc.pingErr = nil
	m.check(ctx, p)
	assert.Equal(t, StatusHealthy, m.Status()["flaky"])
}

func TestPluginStepCompiles(t *testing.T) {
	_, reg := attachMail(t)
	def := &schema.Graph{
		Nodes: []schema.Node{
			{ID: "T", Kind: schema.NodeKindTrigger, Label: "Start"},
			{ID: "M", Kind: schema.NodeKindAction, Label: "Mail", Config: map[string]any{
				schema.ConfigActionType: "mail.send-mail", "to": "a@b.com",
			}},
		},
		Edges: []schema.Edge{{ID: "e", Source: "T", Target: "M"}},
	}
	out, err := codegen.NewCompiler(codegen.Config{Steps: reg, SkipSyntaxCheck: true}).Compile(context.Background(), def)
	require.NoError(t, err)
	assert.Contains(t, out.Imports, `import { sendMail } from "@flowforge/plugins/mail";`)
	assert.Contains(t, out.Source, `await sendMail(undefined, "a@b.com");`)
}

func TestIdentifier(t *testing.T) {
	tests := map[string]string{
		"send-mail":  "sendMail",
		"list_files": "listFiles",
		"get":        "get",
		"2fa.check":  "_2faCheck",
		"---":        "tool",
	}
	for in, want := range tests {
		assert.Equal(t, want, identifier(in), in)
	}
}
