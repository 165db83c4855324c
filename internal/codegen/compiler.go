// Package codegen compiles workflow graphs into freestanding TypeScript that
// reproduces the interpreter's control flow.
package codegen

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"
	"time"

	"github.com/rendis/flowforge/internal/actions"
	"github.com/rendis/flowforge/internal/expressions"
	"github.com/rendis/flowforge/internal/graph"
	"github.com/rendis/flowforge/internal/logging"
	"github.com/rendis/flowforge/pkg/schema"
)

// Config configures a Compiler.
type Config struct {
	// Steps supplies the call-emission rule of each action type. Without it
	// every action compiles to a placeholder.
	Steps  actions.StepRegistry
	Logger *slog.Logger
	// SkipSyntaxCheck disables the esbuild parse of the generated source.
	SkipSyntaxCheck bool
}

// Compiler turns graphs into TypeScript source.
type Compiler struct {
	steps       actions.StepRegistry
	logger      *slog.Logger
	checkSyntax bool
}

// NewCompiler creates a Compiler.
func NewCompiler(cfg Config) *Compiler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Compiler{steps: cfg.Steps, logger: logger, checkSyntax: !cfg.SkipSyntaxCheck}
}

// Output is one compiled graph.
type Output struct {
	// Imports are the import statements, one per module.
	Imports []string `json:"imports"`
	// Functions are the top-level declarations: helpers, one runFrom
	// function per trigger and the exported runWorkflow, in source order.
	Functions []string                 `json:"functions"`
	Source    string                   `json:"source"`
	Triggers  []TriggerOutput          `json:"triggers"`
	Warnings  []schema.ValidationIssue `json:"warnings,omitempty"`
}

// TriggerOutput describes the function generated for one trigger.
type TriggerOutput struct {
	TriggerID string `json:"trigger_id"`
	Function  string `json:"function"`
	// Nodes are the node ids emitted into the function, in source order.
	Nodes []string `json:"nodes"`
}

// Compile emits the TypeScript for def. Structural graph errors are returned
// before anything is emitted; unknown action types, conditions that do not
// compile and unresolved templates degrade to placeholders and warnings. A
// graph without triggers compiles to a runWorkflow returning an error
// sentinel.
func (c *Compiler) Compile(ctx context.Context, def *schema.Graph) (*Output, error) {
	start := time.Now()
	g, err := graph.New(def)
	if err != nil {
		return nil, err
	}

	resolver := expressions.NewResolver(g.Nodes(), c.logger)
	plan := g.BuildPlan()

	u := &unit{
		c:        c,
		resolver: resolver,
		names:    newNamer(),
		bound:    make(map[string]string),
		flags:    make(map[string]string),
		imports:  make(map[importKey]string),
		out:      &Output{},
	}
	u.analyze(g, plan)

	var fns []string
	for i, tp := range plan.Triggers {
		fns = append(fns, u.triggerFunction(tp, u.triggerFns[i]))
	}
	fns = append(fns, u.workflowFunction())

	u.out.Imports = u.importLines()
	u.out.Functions = append([]string{joinHelper, formatHelper}, fns...)
	u.out.Source = u.source()

	for _, w := range u.out.Warnings {
		logging.LogWith(ctx, c.logger).WarnContext(ctx, "codegen warning", "path", w.Path, "code", w.Code, "message", w.Message)
	}

	if c.checkSyntax {
		if err := checkSyntax(u.out.Source); err != nil {
			logging.LogWith(ctx, c.logger).ErrorContext(ctx, "generated source rejected", "error", err)
			return u.out, err
		}
	}

	logging.LogWith(ctx, c.logger).DebugContext(ctx, "graph compiled",
		"triggers", len(plan.Triggers), "bound", len(u.bound), "warnings", len(u.out.Warnings),
		"duration_ms", time.Since(start).Milliseconds())
	return u.out, nil
}

type importKey struct {
	module   string
	function string
}

// unit is the state of one compilation.
type unit struct {
	c        *Compiler
	resolver *expressions.Resolver
	names    *namer

	// bound maps the ids of nodes whose output is used later to their
	// variable names. Every other node is called for effect only.
	bound map[string]string
	// flags maps guarded join nodes to the variable recording that an edge
	// into them was taken.
	flags      map[string]string
	marks      map[graph.Entry][]string
	triggerFns []string
	imports    map[importKey]string
	out        *Output
}

// analyze runs the usage pass and assigns every name before emission starts:
// trigger functions first, then the variables of used nodes in declaration
// order, then the flags of guarded joins. Imported functions are named as
// they are first emitted.
func (u *unit) analyze(g *graph.Graph, plan *graph.Plan) {
	used := make(map[string]bool)
	for _, tp := range plan.Triggers {
		u.usage(tp.Body, graph.NewVisited(tp.Trigger.ID), used)
	}

	for _, tp := range plan.Triggers {
		u.triggerFns = append(u.triggerFns, u.names.claim("runFrom"+pascalCase(tp.Trigger.Label, "Trigger")))
	}

	for _, n := range g.Nodes() {
		if !used[n.ID] || n.Kind == schema.NodeKindTrigger {
			continue
		}
		u.bound[n.ID] = u.names.claim(camelCase(n.Label, "step"))
	}

	for _, tp := range plan.Triggers {
		tp.Body.Walk(func(s *graph.Step) {
			if s.Kind != graph.StepGuard {
				return
			}
			if _, ok := u.flags[s.Join]; !ok {
				u.flags[s.Join] = u.names.claim("reached" + pascalCase(g.Node(s.Join).Label, "Join"))
			}
		})
	}
}

// usage marks the nodes whose output a later template can read. A template
// only binds to a node already emitted on the path leading to it, so inScope
// grows the way the emitted scope does: branches fork it and the join
// merges them.
func (u *unit) usage(b graph.Block, inScope graph.Visited, used map[string]bool) {
	for _, st := range b {
		switch st.Kind {
		case graph.StepNode:
			n := st.Node
			if !n.IsEnabled() {
				return
			}
			switch n.Kind {
			case schema.NodeKindAction:
				em, ok := u.emitter(n)
				if !ok {
					continue
				}
				config := n.Config
				if len(em.Args) > 0 {
					config = make(map[string]any, len(em.Args))
					for _, key := range em.Args {
						if v, ok := n.Config[key]; ok {
							config[key] = v
						}
					}
				}
				u.markUsed(config, inScope, used)
			case schema.NodeKindTransform:
				if inScope.Has(st.Parent) {
					used[st.Parent] = true
				}
			}
			inScope.Add(n.ID)

		case graph.StepParallel:
			merged := graph.NewVisited()
			for _, br := range st.Branches {
				bs := inScope.Clone()
				u.usage(br, bs, used)
				merged.AddAll(bs)
			}
			inScope.AddAll(merged)

		case graph.StepCondition:
			if _, err := expressions.RewriteCondition(st.Node.ConfigString(schema.ConfigCondition)); err == nil {
				u.markUsed(map[string]any{schema.ConfigCondition: st.Node.Config[schema.ConfigCondition]}, inScope, used)
			}
			inScope.Add(st.Node.ID)
			ts, es := inScope.Clone(), inScope.Clone()
			u.usage(st.Then, ts, used)
			u.usage(st.Else, es, used)
			inScope.AddAll(ts)
			inScope.AddAll(es)

		case graph.StepGuard:
			u.usage(st.Then, inScope, used)
		}
	}
}

func (u *unit) markUsed(config map[string]any, inScope graph.Visited, used map[string]bool) {
	for id := range u.resolver.NodeReferences(&schema.Node{Config: config}) {
		if inScope.Has(id) {
			used[id] = true
		}
	}
}

func (u *unit) warn(path, code, format string, args ...any) {
	u.out.Warnings = append(u.out.Warnings, schema.ValidationIssue{
		Path:     path,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Severity: schema.SeverityWarning,
	})
}

func (u *unit) importName(module, function string) string {
	key := importKey{module: module, function: function}
	if local, ok := u.imports[key]; ok {
		return local
	}
	local := u.names.claim(function)
	u.imports[key] = local
	return local
}

// importLines renders one import statement per module, both sorted.
func (u *unit) importLines() []string {
	byModule := make(map[string][]string)
	for key, local := range u.imports {
		spec := key.function
		if local != key.function {
			spec = key.function + " as " + local
		}
		byModule[key.module] = append(byModule[key.module], spec)
	}

	modules := make([]string, 0, len(byModule))
	for m := range byModule {
		modules = append(modules, m)
	}
	sort.Strings(modules)

	lines := make([]string, 0, len(modules))
	for _, m := range modules {
		specs := byModule[m]
		sort.Strings(specs)
		lines = append(lines, fmt.Sprintf("import { %s } from %s;", strings.Join(specs, ", "), expressions.QuoteJS(m)))
	}
	return lines
}

func (u *unit) source() string {
	var b strings.Builder
	b.WriteString(header)
	if len(u.out.Imports) > 0 {
		b.WriteString("\n")
		for _, line := range u.out.Imports {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	for _, fn := range u.out.Functions {
		b.WriteString("\n")
		b.WriteString(fn)
		b.WriteString("\n")
	}
	return b.String()
}

// workflowFunction emits the exported entry point.
func (u *unit) workflowFunction() string {
	w := &writer{}
	w.line("export async function runWorkflow(input: any): Promise<any> {")
	w.indent++
	switch len(u.triggerFns) {
	case 0:
		w.line("return { error: %s };", expressions.QuoteJS(schema.NoTriggerMessage))
		u.warn("/nodes", schema.ErrCodeNoTrigger, "%s", schema.NoTriggerMessage)
	case 1:
		w.line("return await %s(input);", u.triggerFns[0])
	default:
		w.line("return await join([")
		w.indent++
		for _, fn := range u.triggerFns {
			w.line("() => %s(input),", fn)
		}
		w.indent--
		w.line("]);")
	}
	w.indent--
	w.line("}")
	return w.String()
}

// triggerFunction emits the run starting at one trigger. Variables of used
// nodes are hoisted so branches can assign them and later code read them.
func (u *unit) triggerFunction(tp *graph.TriggerPlan, name string) string {
	to := TriggerOutput{TriggerID: tp.Trigger.ID, Function: name}

	var hoisted []string
	for _, id := range tp.Body.NodeIDs() {
		if v, ok := u.bound[id]; ok {
			hoisted = append(hoisted, v)
		}
	}

	w := &writer{}
	w.line("async function %s(input: any): Promise<any> {", name)
	w.indent++
	if len(hoisted) > 0 {
		decls := make([]string, len(hoisted))
		for i, v := range hoisted {
			decls[i] = v + ": any"
		}
		w.line("let %s;", strings.Join(decls, ", "))
	}

	u.marks = make(map[graph.Entry][]string)
	tp.Body.Walk(func(s *graph.Step) {
		if s.Kind != graph.StepGuard {
			return
		}
		flag := u.flags[s.Join]
		w.line("let %s = false;", flag)
		for _, e := range s.Entries {
			u.marks[e] = append(u.marks[e], flag)
		}
	})

	scope := map[string]string{tp.Trigger.ID: "input"}
	u.block(w, &to, tp.Body, scope, true)

	w.indent--
	w.line("}")
	u.out.Triggers = append(u.out.Triggers, to)
	return w.String()
}

// block emits steps in order. It returns true when it stopped at a disabled
// node. scope holds the variables readable at this point; it grows as nodes
// are emitted. tail marks the top-level body, whose last node's value is
// returned.
func (u *unit) block(w *writer, to *TriggerOutput, b graph.Block, scope map[string]string, tail bool) bool {
	for i, st := range b {
		last := tail && i == len(b)-1
		switch st.Kind {
		case graph.StepNode:
			to.Nodes = append(to.Nodes, st.Node.ID)
			if !st.Node.IsEnabled() {
				w.line("// %s (%s) is disabled; the rest of this branch is skipped.", comment(st.Node.Label), comment(st.Node.ID))
				return true
			}
			u.node(w, st, scope, last)

		case graph.StepParallel:
			w.line("await join([")
			w.indent++
			merged := maps.Clone(scope)
			for _, br := range st.Branches {
				w.line("async () => {")
				w.indent++
				bs := maps.Clone(scope)
				u.block(w, to, br, bs, false)
				maps.Copy(merged, bs)
				w.indent--
				w.line("},")
			}
			w.indent--
			w.line("]);")
			maps.Copy(scope, merged)

		case graph.StepCondition:
			to.Nodes = append(to.Nodes, st.Node.ID)
			u.condition(w, to, st, scope)

		case graph.StepGuard:
			w.line("if (%s) {", u.flags[st.Join])
			w.indent++
			u.block(w, to, st.Then, scope, last)
			w.indent--
			w.line("}")
		}
	}
	return false
}

// mark records that the edge e into a guarded join was taken.
func (u *unit) mark(w *writer, e graph.Entry) {
	for _, flag := range u.marks[e] {
		w.line("%s = true;", flag)
	}
}

func (u *unit) condition(w *writer, to *TriggerOutput, st *graph.Step, scope map[string]string) {
	node := st.Node
	path := "nodes/" + node.ID

	expr := "false"
	cond, err := expressions.RewriteCondition(node.ConfigString(schema.ConfigCondition))
	if err != nil {
		u.warn(path, schema.ErrCodeCodegenGap, "condition of node %q does not compile: %s", node.ID, err.Error())
		w.line("// TODO: condition of %s (%s) does not compile; review it.", comment(node.Label), comment(node.ID))
	} else {
		expr = cond.TypeScript(u.resolver, scope)
		u.countMisses(path, node.ID, conditionMisses(cond, u.resolver, scope))
	}

	if v, ok := u.bound[node.ID]; ok {
		w.line("%s = %s;", v, expr)
		scope[node.ID] = v
		expr = v
	}

	merged := maps.Clone(scope)
	w.line("if (%s) {", expr)
	w.indent++
	u.mark(w, graph.Entry{From: node.ID, Branch: schema.BranchTrue})
	ts := maps.Clone(scope)
	u.block(w, to, st.Then, ts, false)
	maps.Copy(merged, ts)
	w.indent--
	elseEntry := graph.Entry{From: node.ID, Branch: schema.BranchFalse}
	if len(st.Else) > 0 || len(u.marks[elseEntry]) > 0 {
		w.line("} else {")
		w.indent++
		u.mark(w, elseEntry)
		es := maps.Clone(scope)
		u.block(w, to, st.Else, es, false)
		maps.Copy(merged, es)
		w.indent--
	}
	w.line("}")
	maps.Copy(scope, merged)
}

func conditionMisses(cond *expressions.Condition, r *expressions.Resolver, scope map[string]string) int {
	misses := 0
	for _, ref := range cond.Refs {
		if ref == nil {
			misses++
			continue
		}
		if _, ok := r.AccessExpr(*ref, scope); !ok {
			misses++
		}
	}
	return misses
}

func (u *unit) countMisses(path, nodeID string, misses int) {
	if misses > 0 {
		u.warn(path, schema.ErrCodeTemplateMiss,
			"node %q: %d template(s) do not resolve to an earlier node and are kept as literal text", nodeID, misses)
	}
}

// node emits one trigger, action or transform.
func (u *unit) node(w *writer, st *graph.Step, scope map[string]string, last bool) {
	node := st.Node

	var call string
	switch node.Kind {
	case schema.NodeKindTrigger:
		u.mark(w, graph.Entry{From: node.ID})
		if last {
			w.line("return input;")
		}
		return
	case schema.NodeKindAction:
		var ok bool
		if call, ok = u.actionCall(w, node, scope); !ok {
			return
		}
	case schema.NodeKindTransform:
		call = u.transformCall(node, st.Parent, scope)
	default:
		return
	}

	entry := graph.Entry{From: node.ID}
	v, bound := u.bound[node.ID]
	switch {
	case bound:
		w.line("%s = await %s;", v, call)
		scope[node.ID] = v
		u.mark(w, entry)
		if last {
			w.line("return %s;", v)
		}
	case last && len(u.marks[entry]) == 0:
		w.line("return await %s;", call)
	default:
		w.line("await %s;", call)
		u.mark(w, entry)
	}
}

// emitter returns the call-emission rule of an action node's step.
func (u *unit) emitter(node *schema.Node) (actions.Emitter, bool) {
	actionType := node.ConfigString(schema.ConfigActionType)
	if actionType == "" || u.c.steps == nil {
		return actions.Emitter{}, false
	}
	step, err := u.c.steps.Get(actionType)
	if err != nil {
		return actions.Emitter{}, false
	}
	return step.Emitter(), true
}

// actionCall renders the call expression of an action node from its step's
// emitter. An action with no emitter becomes a TODO comment and a warning.
func (u *unit) actionCall(w *writer, node *schema.Node, scope map[string]string) (string, bool) {
	path := "nodes/" + node.ID
	actionType := node.ConfigString(schema.ConfigActionType)

	em, found := u.emitter(node)
	if !found {
		u.warn(path, schema.ErrCodeCodegenGap, "node %q: no code emitter for action type %q", node.ID, actionType)
		w.line("// TODO: %s (%s): no code emitter for action type %s.", comment(node.Label), comment(node.ID), comment(expressions.QuoteJS(actionType)))
		return "", false
	}

	r := &renderer{resolver: u.resolver, vars: scope}
	pad := w.pad()

	var args []string
	if len(em.Args) > 0 {
		for _, key := range em.Args {
			if v, ok := node.Config[key]; ok {
				args = append(args, r.value(v, pad))
			} else {
				args = append(args, "undefined")
			}
		}
	} else {
		skip := map[string]bool{schema.ConfigActionType: true, schema.ConfigCredentialRef: true}
		args = append(args, r.object(node.Config, skip, pad))
	}

	if ref := node.ConfigString(schema.ConfigCredentialRef); ref != "" {
		args = append(args, fmt.Sprintf("await %s(%s)", u.importName(actions.RuntimeModule, "credentials"), expressions.QuoteJS(ref)))
	}

	u.countMisses(path, node.ID, r.misses)
	return fmt.Sprintf("%s(%s)", u.importName(em.Import, em.Function), strings.Join(args, ", ")), true
}

// transformCall renders transform(kind, program, parent) over the output of
// the node that led to the transform.
func (u *unit) transformCall(node *schema.Node, parent string, scope map[string]string) string {
	kind := node.ConfigString(schema.ConfigTransformType)
	if kind == "" {
		kind = schema.TransformPassthrough
	}
	program := "null"
	if p := node.ConfigString(schema.ConfigExpression); p != "" {
		program = expressions.QuoteJS(p)
	}
	input := "undefined"
	if v, ok := scope[parent]; ok {
		input = v
	}
	return fmt.Sprintf("%s(%s, %s, %s)",
		u.importName(actions.RuntimeModule, "transform"), expressions.QuoteJS(kind), program, input)
}

// writer accumulates indented source lines.
type writer struct {
	b      strings.Builder
	indent int
}

func (w *writer) pad() string {
	return strings.Repeat("  ", w.indent)
}

func (w *writer) line(format string, args ...any) {
	w.b.WriteString(w.pad())
	if len(args) == 0 {
		w.b.WriteString(format)
	} else {
		fmt.Fprintf(&w.b, format, args...)
	}
	w.b.WriteString("\n")
}

func (w *writer) String() string {
	return strings.TrimSuffix(w.b.String(), "\n")
}
