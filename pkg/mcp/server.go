package mcp

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowforge/internal/codegen"
	"github.com/rendis/flowforge/internal/engine"
	"github.com/rendis/flowforge/internal/store"
	"github.com/rendis/flowforge/internal/streaming"
	"github.com/rendis/flowforge/internal/validation"
	"github.com/rendis/flowforge/pkg/schema"
)

// Runner interprets graphs. Satisfied by *engine.Executor.
type Runner interface {
	RunWith(ctx context.Context, def *schema.Graph, input any, opts engine.RunOptions) (*engine.ExecutionResult, error)
}

// Compiler turns graphs into TypeScript. Satisfied by *codegen.Compiler.
type Compiler interface {
	Compile(ctx context.Context, def *schema.Graph) (*codegen.Output, error)
}

// ScheduleSyncer keeps the cron jobs of a saved workflow current.
// Satisfied by *scheduler.Scheduler.
type ScheduleSyncer interface {
	Sync(ctx context.Context, wf *store.Workflow) error
}

// CompileObserver records compilations. Satisfied by *metrics.Metrics.
type CompileObserver interface {
	ObserveCompile(d time.Duration, warnings []schema.ValidationIssue, err error)
}

// FlowServerDeps holds the dependencies for creating a FlowServer. Only the
// collaborators a tool needs must be set for that tool to work.
type FlowServerDeps struct {
	Executor  Runner
	Compiler  Compiler
	Store     store.Store
	Validator *validation.GraphValidator
	Scheduler ScheduleSyncer
	Metrics   CompileObserver
	// Events, when set, feeds node progress to async run subscribers.
	Events streaming.EventHub
	Logger *slog.Logger
}

// FlowServer wraps an MCP server with the workflow tool handlers.
type FlowServer struct {
	executor  Runner
	compiler  Compiler
	store     store.Store
	validator *validation.GraphValidator
	scheduler ScheduleSyncer
	metrics   CompileObserver
	events    streaming.EventHub
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  Notifier
	mcpServer *server.MCPServer
}

// NewFlowServer creates a new FlowServer with all tools registered.
func NewFlowServer(deps FlowServerDeps) *FlowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &FlowServer{
		executor:  deps.Executor,
		compiler:  deps.Compiler,
		store:     deps.Store,
		validator: deps.Validator,
		scheduler: deps.Scheduler,
		metrics:   deps.Metrics,
		events:    deps.Events,
		logger:    logger,
		sessions:  NewSessionRegistry(),
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.Remove(session.SessionID())
	})

	mcpSrv := server.NewMCPServer(
		"flowforge",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("FlowForge runs and compiles workflow graphs of triggers, actions, conditions and transforms. Use flowforge.save to store a graph, flowforge.run to execute it, flowforge.logs to inspect a run, flowforge.compile to export TypeScript, flowforge.validate to check a graph and flowforge.diagram to draw it."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *FlowServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *FlowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *FlowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: compileTool(), Handler: s.handleCompile},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: saveTool(), Handler: s.handleSave},
		{Tool: getTool(), Handler: s.handleGet},
		{Tool: logsTool(), Handler: s.handleLogs},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func graphArg() mcp.ToolOption {
	return mcp.WithObject("graph", mcp.Description("Inline graph {nodes, edges}; used when workflow_id is absent"))
}

func workflowIDArg() mcp.ToolOption {
	return mcp.WithString("workflow_id", mcp.Description("ID of a saved workflow"))
}

func runTool() mcp.Tool {
	return mcp.NewTool("flowforge.run",
		mcp.WithDescription("Run a workflow graph in-process against live steps"),
		workflowIDArg(),
		graphArg(),
		mcp.WithObject("input", mcp.Description("Trigger input, available as the trigger's output")),
		mcp.WithString("trigger_id", mcp.Description("Run only this trigger (default: all)")),
		mcp.WithBoolean("async", mcp.Description("Return the run id at once and notify the subscriber when the run finishes")),
		mcp.WithString("subscriber", mcp.Description("Name to receive run.progress and run.finished notifications on this session")),
	)
}

func compileTool() mcp.Tool {
	return mcp.NewTool("flowforge.compile",
		mcp.WithDescription("Compile a workflow graph into freestanding TypeScript"),
		workflowIDArg(),
		graphArg(),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("flowforge.validate",
		mcp.WithDescription("Validate a workflow graph and list errors and warnings"),
		workflowIDArg(),
		graphArg(),
	)
}

func saveTool() mcp.Tool {
	return mcp.NewTool("flowforge.save",
		mcp.WithDescription("Validate and store a workflow graph"),
		mcp.WithObject("graph", mcp.Required(), mcp.Description("Graph {nodes, edges}")),
		mcp.WithString("workflow_id", mcp.Description("ID to store under (default: a new id)")),
		mcp.WithString("name", mcp.Description("Workflow name")),
		mcp.WithString("description", mcp.Description("Workflow description")),
	)
}

func getTool() mcp.Tool {
	return mcp.NewTool("flowforge.get",
		mcp.WithDescription("Fetch a saved workflow"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
	)
}

func logsTool() mcp.Tool {
	return mcp.NewTool("flowforge.logs",
		mcp.WithDescription("Get the execution log of a run and the latest state of each node"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("flowforge.diagram",
		mcp.WithDescription("Draw a workflow graph as ASCII, Mermaid, SVG or a PNG image"),
		workflowIDArg(),
		graphArg(),
		mcp.WithString("run_id", mcp.Description("Overlay the node states of this run")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "svg", "image"),
			mcp.Description("Output format"),
		),
	)
}
