package engine

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rendis/flowforge/internal/actions"
	"github.com/rendis/flowforge/internal/expressions"
	"github.com/rendis/flowforge/internal/graph"
	"github.com/rendis/flowforge/internal/logging"
	"github.com/rendis/flowforge/internal/secrets"
	"github.com/rendis/flowforge/internal/store"
	"github.com/rendis/flowforge/internal/validation"
	"github.com/rendis/flowforge/pkg/schema"
)

// RunRecorder persists run records. Satisfied by store.Store.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *store.Run) error
	UpdateRun(ctx context.Context, id string, update store.RunUpdate) error
}

// RunObserver is notified once per finished run.
type RunObserver interface {
	RunFinished(result *ExecutionResult)
}

// RunStartObserver is implemented by observers that also want to know when
// a run begins.
type RunStartObserver interface {
	RunStarted(runID string)
}

// Observers fans run notifications out to several observers in order.
type Observers []RunObserver

// RunStarted forwards to every observer that implements RunStartObserver.
func (o Observers) RunStarted(runID string) {
	for _, obs := range o {
		if so, ok := obs.(RunStartObserver); ok {
			so.RunStarted(runID)
		}
	}
}

func (o Observers) RunFinished(result *ExecutionResult) {
	for _, obs := range o {
		obs.RunFinished(result)
	}
}

// Config holds the collaborators of an Executor. Only Registry is required.
type Config struct {
	Registry *actions.Registry
	// Credentials resolves `credentialRef`; nil fails nodes that declare one.
	Credentials secrets.CredentialResolver
	// Log receives every node transition. Defaults to a MemoryLog.
	Log       store.ExecutionLog
	Runs      RunRecorder
	Validator *validation.GraphValidator
	Observer  RunObserver
	Logger    *slog.Logger
	// MaxParallel bounds the concurrent branches of one fan-out; 0 means no limit.
	MaxParallel int
}

// RunOptions carries caller-chosen identifiers for a run.
type RunOptions struct {
	RunID      string
	WorkflowID string
	// TriggerIDs restricts the run to these triggers; empty runs them all.
	TriggerIDs []string
}

// Executor interprets workflow graphs against live steps.
type Executor struct {
	cfg        Config
	fsm        *NodeFSM
	conditions *expressions.ExprEngine
	transforms *transformer
	logger     *slog.Logger
}

// errHalted stops a block at a disabled node without failing it.
var errHalted = errors.New("halted at disabled node")

// NewExecutor creates an Executor.
func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.Registry == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "executor requires a step registry")
	}
	if cfg.Log == nil {
		cfg.Log = store.NewMemoryLog()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	e := &Executor{
		cfg:        cfg,
		fsm:        NewNodeFSM(cfg.Log),
		conditions: expressions.NewExprEngine(),
		transforms: newTransformer(),
		logger:     logger,
	}
	for _, st := range []schema.NodeStatus{schema.NodeStatusRunning, schema.NodeStatusSuccess, schema.NodeStatusError, schema.NodeStatusSkipped} {
		e.fsm.OnAfter(st, func(ctx context.Context, entry store.LogEntry) {
			logging.LogWith(ctx, e.logger).DebugContext(ctx, "node transition",
				"node_type", string(entry.NodeType), "status", string(entry.Status))
		})
	}
	return e, nil
}

// FSM exposes the node state machine so callers can attach hooks.
func (e *Executor) FSM() *NodeFSM { return e.fsm }

// Log returns the execution log the executor appends to.
func (e *Executor) Log() store.ExecutionLog { return e.cfg.Log }

// Run executes def with a generated run id. See RunWith.
func (e *Executor) Run(ctx context.Context, def *schema.Graph, input any) (*ExecutionResult, error) {
	return e.RunWith(ctx, def, input, RunOptions{})
}

// RunWith validates def, builds its plan and runs every trigger plan
// concurrently, each with its own outputs. Graph errors are returned before
// any node runs. Node failures do not make RunWith fail; they are reported
// in the result.
func (e *Executor) RunWith(ctx context.Context, def *schema.Graph, input any, opts RunOptions) (*ExecutionResult, error) {
	g, err := graph.New(def)
	if err != nil {
		return nil, err
	}
	if len(g.TriggerNodes()) == 0 {
		return nil, schema.NewError(schema.ErrCodeNoTrigger, schema.NoTriggerMessage)
	}
	for _, id := range opts.TriggerIDs {
		if n := g.Node(id); n == nil || n.Kind != schema.NodeKindTrigger || len(g.PredecessorsOf(id)) > 0 {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "trigger %q not found", id).WithNode(id)
		}
	}

	var warnings []schema.ValidationIssue
	if e.cfg.Validator != nil {
		res := e.cfg.Validator.Validate(def)
		if err := res.ToError(); err != nil {
			return nil, err
		}
		warnings = res.Warnings
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx = logging.WithRunID(ctx, runID)
	if opts.WorkflowID != "" {
		ctx = logging.WithWorkflowID(ctx, opts.WorkflowID)
	}
	log := logging.LogWith(ctx, e.logger)
	for _, w := range warnings {
		log.WarnContext(ctx, "graph warning", "path", w.Path, "code", w.Code, "message", w.Message)
	}

	result := &ExecutionResult{
		RunID:      runID,
		WorkflowID: opts.WorkflowID,
		Status:     schema.RunStatusRunning,
		StartedAt:  time.Now().UTC(),
		Warnings:   warnings,
	}
	e.recordRunStart(ctx, result, input)
	if so, ok := e.cfg.Observer.(RunStartObserver); ok {
		so.RunStarted(runID)
	}

	plan := g.BuildPlan()
	if len(opts.TriggerIDs) > 0 {
		plan.Triggers = slices.DeleteFunc(plan.Triggers, func(tp *graph.TriggerPlan) bool {
			return !slices.Contains(opts.TriggerIDs, tp.Trigger.ID)
		})
	}
	resolver := expressions.NewResolver(g.Nodes(), e.logger)
	result.Triggers = make([]*TriggerResult, len(plan.Triggers))

	var eg errgroup.Group
	for i, tp := range plan.Triggers {
		eg.Go(func() error {
			result.Triggers[i] = e.runTrigger(ctx, runID, resolver, tp, input)
			return nil
		})
	}
	_ = eg.Wait()

	result.Nodes = merge(result.Triggers)
	result.Status = schema.RunStatusSucceeded
	for _, t := range result.Triggers {
		if t.Status == schema.RunStatusFailed {
			result.Status = schema.RunStatusFailed
		}
	}
	result.CompletedAt = time.Now().UTC()
	e.recordRunEnd(ctx, result)

	log.InfoContext(ctx, "run finished", "status", string(result.Status),
		"nodes", len(result.Nodes), "duration_ms", result.CompletedAt.Sub(result.StartedAt).Milliseconds())
	if e.cfg.Observer != nil {
		e.cfg.Observer.RunFinished(result)
	}
	return result, nil
}

func (e *Executor) recordRunStart(ctx context.Context, result *ExecutionResult, input any) {
	if e.cfg.Runs == nil {
		return
	}
	err := e.cfg.Runs.CreateRun(ctx, &store.Run{
		ID:         result.RunID,
		WorkflowID: result.WorkflowID,
		Status:     schema.RunStatusRunning,
		Input:      input,
		StartedAt:  result.StartedAt,
	})
	if err != nil {
		logging.LogWith(ctx, e.logger).ErrorContext(ctx, "create run record", "error", err)
	}
}

func (e *Executor) recordRunEnd(ctx context.Context, result *ExecutionResult) {
	if e.cfg.Runs == nil {
		return
	}
	update := store.RunUpdate{Status: &result.Status, CompletedAt: &result.CompletedAt}
	for _, t := range result.Triggers {
		if t.Error != nil {
			msg := t.Error.Error()
			update.Error = &msg
			break
		}
	}
	// The run's own context may be cancelled by now; the record must still close.
	if err := e.cfg.Runs.UpdateRun(context.WithoutCancel(ctx), result.RunID, update); err != nil {
		logging.LogWith(ctx, e.logger).ErrorContext(ctx, "update run record", "error", err)
	}
}

// triggerRun is the state of one trigger's independent run.
type triggerRun struct {
	e        *Executor
	runID    string
	resolver *expressions.Resolver
	outputs  *NodeOutputs
	input    any

	mu    sync.Mutex
	nodes map[string]*NodeResult
}

func (e *Executor) runTrigger(ctx context.Context, runID string, resolver *expressions.Resolver, tp *graph.TriggerPlan, input any) *TriggerResult {
	tr := &triggerRun{
		e:        e,
		runID:    runID,
		resolver: resolver,
		outputs:  NewNodeOutputs(),
		input:    input,
		nodes:    make(map[string]*NodeResult),
	}

	res := &TriggerResult{TriggerID: tp.Trigger.ID, Status: schema.RunStatusSucceeded}
	if err := tr.block(ctx, tp.Body, newScope(tr.outputs)); err != nil {
		var fe *schema.FlowError
		if !errors.As(err, &fe) {
			fe = schema.NewError(schema.ErrCodeStepFailed, err.Error()).WithCause(err)
		}
		res.Status = schema.RunStatusFailed
		res.Error = fe
	}
	res.Outputs = tr.outputs.Snapshot()
	res.Nodes = tr.nodes
	return res
}

// block runs steps in order and stops at the first failure. A disabled node
// ends the block without failing it. Templates resolve against sc, which
// grows as nodes run.
func (tr *triggerRun) block(ctx context.Context, b graph.Block, sc *scope) error {
	for _, st := range b {
		if err := ctx.Err(); err != nil {
			return schema.NewError(schema.ErrCodeCancelled, "run cancelled").WithCause(err)
		}

		var err error
		switch st.Kind {
		case graph.StepNode:
			err = tr.node(ctx, st, sc)
		case graph.StepParallel:
			err = tr.parallel(ctx, st.Branches, sc)
		case graph.StepCondition:
			err = tr.condition(ctx, st, sc)
		case graph.StepGuard:
			if tr.entered(st, sc) {
				err = tr.block(ctx, st.Then, sc)
			}
		}
		if errors.Is(err, errHalted) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// parallel runs every branch concurrently and waits for all of them. A
// failing branch does not stop its siblings. Each branch reads only its own
// nodes and those that ran before the fan-out.
func (tr *triggerRun) parallel(ctx context.Context, branches []graph.Block, sc *scope) error {
	var eg errgroup.Group
	if tr.e.cfg.MaxParallel > 0 {
		eg.SetLimit(tr.e.cfg.MaxParallel)
	}
	forks := make([]*scope, len(branches))
	for i, b := range branches {
		forks[i] = sc.fork()
		eg.Go(func() error {
			return tr.block(ctx, b, forks[i])
		})
	}
	err := eg.Wait()
	sc.absorb(forks...)
	return err
}

// entered reports whether the run took one of the edges into a guarded join.
func (tr *triggerRun) entered(st *graph.Step, sc *scope) bool {
	for _, e := range st.Entries {
		if e.Taken(sc.succeeded(e.From)) {
			return true
		}
	}
	return false
}

func (tr *triggerRun) condition(ctx context.Context, st *graph.Step, sc *scope) error {
	node := st.Node
	var verdict bool
	err := tr.execute(ctx, node, sc, node.Config, func(ctx context.Context) (any, error) {
		cond, err := expressions.RewriteCondition(node.ConfigString(schema.ConfigCondition))
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeCondition, err.Error()).WithCause(err)
		}
		verdict, err = cond.Evaluate(ctx, tr.e.conditions, tr.resolver, sc)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeCondition, err.Error()).WithCause(err)
		}
		return verdict, nil
	})
	if err != nil {
		return err
	}
	if verdict {
		return tr.block(ctx, st.Then, sc)
	}
	return tr.block(ctx, st.Else, sc)
}

func (tr *triggerRun) node(ctx context.Context, st *graph.Step, sc *scope) error {
	node := st.Node
	switch node.Kind {
	case schema.NodeKindTrigger:
		return tr.execute(ctx, node, sc, tr.input, func(context.Context) (any, error) {
			return tr.input, nil
		})

	case schema.NodeKindAction:
		config := tr.resolver.ResolveConfig(ctx, node.Config, sc)
		return tr.execute(ctx, node, sc, config, func(ctx context.Context) (any, error) {
			return tr.action(ctx, node, config)
		})

	case schema.NodeKindTransform:
		var parent any
		if out, ok := sc.Output(st.Parent); ok {
			parent = out.Data
		}
		return tr.execute(ctx, node, sc, node.Config, func(ctx context.Context) (any, error) {
			return tr.e.transforms.apply(ctx, node, parent)
		})

	case schema.NodeKindCondition:
		// Disabled conditions are planned as plain nodes.
		return tr.execute(ctx, node, sc, node.Config, func(context.Context) (any, error) {
			return nil, nil
		})
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "unknown node kind %q", node.Kind).WithNode(node.ID)
}

// action dispatches a resolved config to its step. The credential bundle is
// fetched for this call only and dropped before returning.
func (tr *triggerRun) action(ctx context.Context, node *schema.Node, config map[string]any) (any, error) {
	actionType, _ := config[schema.ConfigActionType].(string)
	if actionType == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "action node has no actionType")
	}
	step, err := tr.e.cfg.Registry.Get(actionType)
	if err != nil {
		return nil, err
	}
	if err := tr.e.cfg.Registry.ValidateConfig(step, config); err != nil {
		return nil, err
	}

	var creds map[string]string
	if ref := node.ConfigString(schema.ConfigCredentialRef); ref != "" {
		if tr.e.cfg.Credentials == nil {
			return nil, schema.NewErrorf(schema.ErrCodeVault, "no credential resolver for %q", ref)
		}
		creds, err = tr.e.cfg.Credentials.Resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
	}
	defer clear(creds)

	out, err := step.Execute(ctx, actions.StepInput{NodeID: node.ID, Config: config, Credentials: creds})
	if err != nil {
		return nil, redact(nodeError(node.ID, err), creds)
	}
	if out == nil {
		return nil, nil
	}
	return out.Data, nil
}

// execute drives one node through its state machine around fn and records
// its output whatever the outcome, making it visible in sc. input is what
// the log shows the node ran with.
func (tr *triggerRun) execute(ctx context.Context, node *schema.Node, sc *scope, input any, fn func(context.Context) (any, error)) error {
	sc.add(node.ID)
	ctx = logging.WithNodeID(ctx, node.ID)
	log := logging.LogWith(ctx, tr.e.logger)

	rec := &store.LogEntry{
		RunID:    tr.runID,
		NodeID:   node.ID,
		NodeName: node.Label,
		NodeType: node.Kind,
		Status:   schema.NodeStatusPending,
	}

	if !node.IsEnabled() {
		tr.transition(ctx, rec, schema.NodeStatusSkipped)
		tr.setResult(rec, nil)
		return errHalted
	}

	rec.Input = input
	tr.transition(ctx, rec, schema.NodeStatusRunning)

	data, err := fn(ctx)
	if err != nil {
		flowErr := nodeError(node.ID, err)
		rec.Error = flowErr.Message
		tr.transition(ctx, rec, schema.NodeStatusError)
		tr.setResult(rec, nil)
		if rerr := tr.outputs.Record(node.ID, expressions.NodeOutput{Label: node.Label, Error: flowErr.Message}); rerr != nil {
			log.ErrorContext(ctx, "record node output", "error", rerr)
		}
		log.WarnContext(ctx, "node failed", "code", flowErr.Code, "error", flowErr.Message)
		return flowErr
	}

	rec.Output = data
	tr.transition(ctx, rec, schema.NodeStatusSuccess)
	tr.setResult(rec, data)
	if rerr := tr.outputs.Record(node.ID, expressions.NodeOutput{Label: node.Label, Data: data}); rerr != nil {
		log.ErrorContext(ctx, "record node output", "error", rerr)
	}
	return nil
}

// transition logs but does not propagate execution log failures; the node's
// own outcome is what decides the run.
func (tr *triggerRun) transition(ctx context.Context, rec *store.LogEntry, to schema.NodeStatus) {
	if err := tr.e.fsm.Transition(ctx, rec, to); err != nil {
		logging.LogWith(ctx, tr.e.logger).ErrorContext(ctx, "node transition", "to", string(to), "error", err)
	}
}

func (tr *triggerRun) setResult(rec *store.LogEntry, data any) {
	nr := &NodeResult{
		NodeID:    rec.NodeID,
		Label:     rec.NodeName,
		Kind:      rec.NodeType,
		Status:    rec.Status,
		Output:    data,
		Error:     rec.Error,
		StartedAt: rec.StartedAt,
	}
	if rec.CompletedAt != nil {
		nr.CompletedAt = *rec.CompletedAt
		nr.DurationMs = rec.CompletedAt.Sub(rec.StartedAt).Milliseconds()
	}
	tr.mu.Lock()
	tr.nodes[rec.NodeID] = nr
	tr.mu.Unlock()
}
