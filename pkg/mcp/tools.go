package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowforge/internal/diagram"
	"github.com/rendis/flowforge/internal/engine"
	"github.com/rendis/flowforge/internal/store"
	"github.com/rendis/flowforge/internal/streaming"
	"github.com/rendis/flowforge/pkg/schema"
)

// handleRun interprets a saved or inline graph.
func (s *FlowServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.executor == nil {
		return mcp.NewToolResultError("run is not available: no executor configured"), nil
	}
	def, workflowID, errResult := s.graphFromRequest(ctx, req)
	if errResult != nil {
		return errResult, nil
	}

	opts := engine.RunOptions{RunID: uuid.NewString(), WorkflowID: workflowID}
	if triggerID := req.GetString("trigger_id", ""); triggerID != "" {
		opts.TriggerIDs = []string{triggerID}
	}
	input := req.GetArguments()["input"]

	subscriber := req.GetString("subscriber", "")
	if subscriber != "" {
		s.captureSession(ctx, subscriber)
	}

	if req.GetBool("async", false) {
		go s.runAsync(context.WithoutCancel(ctx), def, input, opts, subscriber)
		return marshalResult(map[string]any{
			"run_id": opts.RunID,
			"status": schema.RunStatusRunning,
		})
	}

	result, runErr := s.executor.RunWith(ctx, def, input, opts)
	if runErr != nil {
		return toolError("run failed", runErr), nil
	}
	return marshalResult(result)
}

func (s *FlowServer) runAsync(ctx context.Context, def *schema.Graph, input any, opts engine.RunOptions, subscriber string) {
	payload := map[string]any{"event": "run.finished", "run_id": opts.RunID}
	stop := s.forwardProgress(ctx, subscriber, opts.RunID)
	result, err := s.executor.RunWith(ctx, def, input, opts)
	stop()
	if err != nil {
		payload["status"] = schema.RunStatusFailed
		payload["error"] = err.Error()
	} else {
		payload["status"] = result.Status
		payload["failed_nodes"] = result.Failed()
	}
	if subscriber == "" || s.notifier == nil {
		return
	}
	if nErr := s.notifier.Notify(ctx, subscriber, payload); nErr != nil {
		s.logger.Warn("run notification failed",
			slog.String("run_id", opts.RunID),
			slog.String("error", nErr.Error()),
		)
	}
}

// forwardProgress relays the node events of runID to subscriber until the
// returned stop is called. Events already buffered at stop are still sent.
func (s *FlowServer) forwardProgress(ctx context.Context, subscriber, runID string) (stop func()) {
	if s.events == nil || s.notifier == nil || subscriber == "" {
		return func() {}
	}
	ch, cancel, err := s.events.Subscribe(ctx, streaming.EventFilter{RunID: runID})
	if err != nil {
		return func() {}
	}

	done := make(chan struct{})
	finished := make(chan struct{})
	send := func(ev streaming.RunEvent) {
		if ev.EventType == streaming.EventRunFinished {
			return
		}
		_ = s.notifier.Notify(ctx, subscriber, map[string]any{
			"event":     "run.progress",
			"run_id":    ev.RunID,
			"node_id":   ev.NodeID,
			"node_type": ev.NodeType,
			"status":    ev.Status,
			"error":     ev.Error,
		})
	}
	go func() {
		defer close(finished)
		for {
			select {
			case ev := <-ch:
				send(ev)
			case <-done:
				for {
					select {
					case ev := <-ch:
						send(ev)
					default:
						return
					}
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
		cancel()
	}
}

// handleCompile emits TypeScript for a saved or inline graph.
func (s *FlowServer) handleCompile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.compiler == nil {
		return mcp.NewToolResultError("compile is not available: no compiler configured"), nil
	}
	def, _, errResult := s.graphFromRequest(ctx, req)
	if errResult != nil {
		return errResult, nil
	}

	start := time.Now()
	out, err := s.compiler.Compile(ctx, def)
	if s.metrics != nil {
		var warnings []schema.ValidationIssue
		if out != nil {
			warnings = out.Warnings
		}
		s.metrics.ObserveCompile(time.Since(start), warnings, err)
	}
	if err != nil {
		return toolError("compile failed", err), nil
	}
	return marshalResult(map[string]any{
		"source":   out.Source,
		"warnings": out.Warnings,
		"triggers": out.Triggers,
	})
}

// handleValidate reports every problem of a graph without running it.
func (s *FlowServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.validator == nil {
		return mcp.NewToolResultError("validate is not available: no validator configured"), nil
	}
	def, _, errResult := s.graphFromRequest(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	res := s.validator.Validate(def)
	return marshalResult(map[string]any{
		"valid":    res.Valid(),
		"errors":   res.Errors,
		"warnings": res.Warnings,
	})
}

// handleSave validates a graph, stores it and syncs its schedules.
func (s *FlowServer) handleSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("save is not available: no store configured"), nil
	}
	def, errResult := parseGraph(mcp.ParseStringMap(req, "graph", nil))
	if errResult != nil {
		return errResult, nil
	}

	var warnings []schema.ValidationIssue
	if s.validator != nil {
		res := s.validator.Validate(def)
		if err := res.ToError(); err != nil {
			return toolError("graph is invalid", err), nil
		}
		warnings = res.Warnings
	}

	wf := &store.Workflow{
		ID:          req.GetString("workflow_id", ""),
		Name:        req.GetString("name", ""),
		Description: req.GetString("description", ""),
		Graph:       *def,
	}
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	if err := s.store.SaveWorkflow(ctx, wf); err != nil {
		return toolError("failed to save workflow", err), nil
	}
	if s.scheduler != nil {
		if err := s.scheduler.Sync(ctx, wf); err != nil {
			return toolError("workflow saved but schedules were not synced", err), nil
		}
	}

	s.logger.Info("workflow saved", slog.String("workflow_id", wf.ID), slog.Int("nodes", len(def.Nodes)))
	return marshalResult(map[string]any{
		"workflow_id": wf.ID,
		"warnings":    warnings,
	})
}

// handleGet returns a saved workflow.
func (s *FlowServer) handleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	if s.store == nil {
		return mcp.NewToolResultError("get is not available: no store configured"), nil
	}
	wf, getErr := s.store.GetWorkflow(ctx, id)
	if getErr != nil {
		return toolError("workflow lookup failed", getErr), nil
	}
	return marshalResult(wf)
}

// handleLogs returns the execution log of a run folded per node.
func (s *FlowServer) handleLogs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	if s.store == nil {
		return mcp.NewToolResultError("logs are not available: no store configured"), nil
	}

	entries, entErr := s.store.Entries(ctx, runID)
	if entErr != nil {
		return toolError("log query failed", entErr), nil
	}
	nodes, snapErr := store.Snapshot(entries)
	if snapErr != nil {
		return toolError("log is inconsistent", snapErr), nil
	}

	out := map[string]any{"run_id": runID, "entries": entries, "nodes": nodes}
	if run, runErr := s.store.GetRun(ctx, runID); runErr == nil {
		out["run"] = run
	}
	return marshalResult(out)
}

// handleDiagram draws a graph, optionally with the node states of a run.
func (s *FlowServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	switch format {
	case "ascii", "mermaid", "svg", "image":
	default:
		return mcp.NewToolResultError("format must be ascii, mermaid, svg, or image"), nil
	}

	def, _, errResult := s.graphFromRequest(ctx, req)
	if errResult != nil {
		return errResult, nil
	}

	var states map[string]*store.NodeState
	if runID := req.GetString("run_id", ""); runID != "" {
		if s.store == nil {
			return mcp.NewToolResultError("run overlay needs a store"), nil
		}
		entries, entErr := s.store.Entries(ctx, runID)
		if entErr != nil {
			return toolError("log query failed", entErr), nil
		}
		if states, err = store.Snapshot(entries); err != nil {
			return toolError("log is inconsistent", err), nil
		}
	}

	model, buildErr := diagram.Build(def, states)
	if buildErr != nil {
		return toolError("diagram build failed", buildErr), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	case "svg":
		svg, svgErr := diagram.RenderGraphviz(ctx, model, diagram.FormatSVG)
		if svgErr != nil {
			return toolError("svg render failed", svgErr), nil
		}
		return mcp.NewToolResultText(string(svg)), nil
	default:
		png, imgErr := diagram.RenderImage(ctx, model)
		if imgErr != nil {
			return toolError("image render failed", imgErr), nil
		}
		return mcp.NewToolResultImage("workflow diagram", base64.StdEncoding.EncodeToString(png), "image/png"), nil
	}
}

// --- Internal helpers ---

// graphFromRequest loads the graph named by workflow_id, or parses the
// inline graph argument.
func (s *FlowServer) graphFromRequest(ctx context.Context, req mcp.CallToolRequest) (*schema.Graph, string, *mcp.CallToolResult) {
	if id := req.GetString("workflow_id", ""); id != "" {
		if s.store == nil {
			return nil, "", mcp.NewToolResultError("workflow_id needs a store")
		}
		wf, err := s.store.GetWorkflow(ctx, id)
		if err != nil {
			return nil, "", toolError("workflow lookup failed", err)
		}
		return &wf.Graph, wf.ID, nil
	}
	raw := mcp.ParseStringMap(req, "graph", nil)
	if raw == nil {
		return nil, "", mcp.NewToolResultError("one of workflow_id or graph is required")
	}
	def, errResult := parseGraph(raw)
	return def, "", errResult
}

// parseGraph round-trips a raw argument through JSON into a schema.Graph.
func parseGraph(raw map[string]any) (*schema.Graph, *mcp.CallToolResult) {
	if raw == nil {
		return nil, mcp.NewToolResultError("graph is required")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("invalid graph: %v", err))
	}
	var def schema.Graph
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("invalid graph: %v", err))
	}
	return &def, nil
}

// captureSession maps the subscriber to its current MCP session for notifications.
func (s *FlowServer) captureSession(ctx context.Context, subscriber string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(subscriber, session.SessionID())
	}
}

// toolError renders err as a tool error; a FlowError keeps its code in the text.
func toolError(prefix string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
