package graph

import (
	"github.com/rendis/flowforge/pkg/schema"
)

// StepKind discriminates plan steps.
type StepKind int

const (
	// StepNode runs a single trigger, action or transform node.
	StepNode StepKind = iota
	// StepParallel runs every branch concurrently and joins before continuing.
	StepParallel
	// StepCondition evaluates a condition node and runs one arm.
	StepCondition
	// StepGuard runs a join node's block only when the run took an edge
	// into it.
	StepGuard
)

func (k StepKind) String() string {
	switch k {
	case StepNode:
		return "node"
	case StepParallel:
		return "parallel"
	case StepCondition:
		return "condition"
	case StepGuard:
		return "guard"
	}
	return "unknown"
}

// Step is one element of a Block.
type Step struct {
	Kind StepKind

	// Node is set for StepNode and StepCondition.
	Node *schema.Node
	// Parent is the id of the node whose edge led here, "" for triggers.
	Parent string

	// Branches is set for StepParallel.
	Branches []Block

	// Then and Else are set for StepCondition; either may be empty.
	// StepGuard keeps the guarded block in Then.
	Then Block
	Else Block

	// Join and Entries are set for StepGuard.
	Join    string
	Entries []Entry
}

// Entry is an edge into a guarded join node. It is taken when From ran
// successfully and, for a condition, produced the verdict Branch names.
type Entry struct {
	From   string
	Branch schema.BranchRole
}

// Taken reports whether the entry was taken given From's output. ok is false
// when From did not run or failed.
func (e Entry) Taken(data any, ok bool) bool {
	if !ok {
		return false
	}
	if e.Branch == "" {
		return true
	}
	verdict, _ := data.(bool)
	return verdict == (e.Branch == schema.BranchTrue)
}

// Block is a sequence of steps. A block stops at the first failing step.
type Block []*Step

// TriggerPlan is the plan of one independent run starting at a trigger.
type TriggerPlan struct {
	Trigger *schema.Node
	Body    Block
}

// Plan is the traversal shared by the interpreter and the compiler. Both
// consume it as-is, so they visit the same nodes in the same structure.
type Plan struct {
	Triggers []*TriggerPlan
}

// BuildPlan walks the graph from every trigger and produces the execution
// plan. Each trigger gets its own visited set.
//
// A non-condition node with more than one first-time-reachable successor
// becomes a parallel step. Nodes reachable from two or more of its branches
// are join nodes: every branch treats them as already visited and they are
// planned once, after the join. Nodes reachable from both arms of a
// condition are handled the same way after the if/else. A join node that
// the construct does not reach on every path is wrapped in a guard step.
func (g *Graph) BuildPlan() *Plan {
	plan := &Plan{}
	for _, t := range g.TriggerNodes() {
		p := &planner{g: g}
		plan.Triggers = append(plan.Triggers, &TriggerPlan{
			Trigger: t,
			Body:    p.block(t.ID, "", NewVisited()),
		})
	}
	return plan
}

type planner struct {
	g *Graph
}

func (p *planner) block(startID, parent string, visited Visited) Block {
	var steps Block

	cur, par := startID, parent
	for cur != "" && !visited.Has(cur) {
		node := p.g.byID[cur]
		if node == nil {
			break
		}
		visited.Add(cur)

		if node.Kind == schema.NodeKindCondition && node.IsEnabled() {
			steps = append(steps, p.condition(node, par, visited)...)
			break
		}

		steps = append(steps, &Step{Kind: StepNode, Node: node, Parent: par})

		var fresh []string
		for _, next := range p.g.next(cur) {
			if !visited.Has(next) && !contains(fresh, next) {
				fresh = append(fresh, next)
			}
		}
		if len(fresh) == 1 {
			cur, par = fresh[0], node.ID
			continue
		}
		if len(fresh) > 1 {
			steps = append(steps, p.fanOut(node.ID, fresh, visited)...)
		}
		break
	}

	return steps
}

// fanOut plans the branches under parent followed by their join nodes.
func (p *planner) fanOut(parent string, starts []string, visited Visited) Block {
	reaches := make([][]string, len(starts))
	for i, s := range starts {
		reaches[i] = p.g.reach(s, visited)
	}
	joins, order := sharedNodes(reaches)

	var branches []Block
	for _, s := range starts {
		if joins.Has(s) {
			continue
		}
		bv := visited.Clone()
		bv.AddAll(joins)
		b := p.block(s, parent, bv)
		for id := range bv {
			if !joins.Has(id) {
				visited.Add(id)
			}
		}
		if len(b) > 0 {
			branches = append(branches, b)
		}
	}

	var steps Block
	switch len(branches) {
	case 0:
	case 1:
		steps = append(steps, branches[0]...)
	default:
		steps = append(steps, &Step{Kind: StepParallel, Branches: branches})
	}

	reached := func(id string) bool {
		if contains(starts, id) {
			return true
		}
		for _, b := range branches {
			if p.mustReach(b, id) {
				return true
			}
		}
		return false
	}
	return append(steps, p.joins(order, visited, reached)...)
}

// condition plans an if/else step followed by nodes shared by both arms.
func (p *planner) condition(node *schema.Node, parent string, visited Visited) Block {
	t, f := p.arms(node.ID)
	joins, order := sharedNodes([][]string{p.g.reach(t, visited), p.g.reach(f, visited)})

	step := &Step{Kind: StepCondition, Node: node, Parent: parent}
	arm := func(start string) Block {
		if start == "" || joins.Has(start) {
			return nil
		}
		av := visited.Clone()
		av.AddAll(joins)
		b := p.block(start, node.ID, av)
		for id := range av {
			if !joins.Has(id) {
				visited.Add(id)
			}
		}
		return b
	}
	step.Then = arm(t)
	step.Else = arm(f)

	reached := func(id string) bool {
		then := t == id || p.mustReach(step.Then, id)
		els := f != "" && (f == id || p.mustReach(step.Else, id))
		return then && els
	}
	return append(Block{step}, p.joins(order, visited, reached)...)
}

// arms returns a condition's true and false targets; an arm leading to the
// same node as the true arm is dropped.
func (p *planner) arms(id string) (string, string) {
	t, f := p.g.Branches(id)
	if f == t {
		f = ""
	}
	return t, f
}

// joins plans join nodes after the construct that shares them. Each join
// node gets its own block, which stops at the other join nodes. A join node
// that reached does not guarantee, and that no earlier join block leads
// into, is guarded.
func (p *planner) joins(order []string, visited Visited, reached func(string) bool) Block {
	order = p.joinOrder(order, visited)
	pending := NewVisited(order...)

	var steps Block
	for _, id := range order {
		delete(pending, id)
		if visited.Has(id) {
			continue
		}
		jv := visited.Clone()
		jv.AddAll(pending)
		b := p.block(id, p.firstPlannedPred(id, visited), jv)
		for n := range jv {
			if !pending.Has(n) {
				visited.Add(n)
			}
		}
		if len(b) == 0 {
			continue
		}
		if reached(id) || p.mustReach(steps, id) {
			steps = append(steps, b...)
			continue
		}
		steps = append(steps, &Step{Kind: StepGuard, Join: id, Entries: p.entries(id), Then: b})
	}
	return steps
}

// joinOrder sorts join nodes so that one reachable from another is planned
// after it. Encounter order breaks ties; nodes on a common cycle keep it.
func (p *planner) joinOrder(order []string, visited Visited) []string {
	if len(order) < 2 {
		return order
	}
	set := NewVisited(order...)
	below := make(map[string]Visited, len(order))
	for _, id := range order {
		r := NewVisited()
		for _, n := range p.g.reach(id, visited) {
			if n != id && set.Has(n) {
				r.Add(n)
			}
		}
		below[id] = r
	}

	out := make([]string, 0, len(order))
	placed := NewVisited()
	for len(out) < len(order) {
		pick := ""
		for _, id := range order {
			if placed.Has(id) {
				continue
			}
			free := true
			for _, other := range order {
				if other != id && !placed.Has(other) && below[other].Has(id) && !below[id].Has(other) {
					free = false
					break
				}
			}
			if free {
				pick = id
				break
			}
		}
		placed.Add(pick)
		out = append(out, pick)
	}
	return out
}

// mustReach reports whether running b, when it does not fail, always takes
// an edge into id. Nothing after a disabled node runs; guarded blocks may
// not run at all.
func (p *planner) mustReach(b Block, id string) bool {
	for _, s := range b {
		switch s.Kind {
		case StepNode:
			if !s.Node.IsEnabled() {
				return false
			}
			if contains(p.g.succ[s.Node.ID], id) {
				return true
			}
		case StepParallel:
			for _, br := range s.Branches {
				if p.mustReach(br, id) {
					return true
				}
			}
		case StepCondition:
			t, f := p.arms(s.Node.ID)
			then := t == id || p.mustReach(s.Then, id)
			els := f != "" && (f == id || p.mustReach(s.Else, id))
			if then && els {
				return true
			}
		}
	}
	return false
}

// entries lists the edges that can lead into a join node, one per
// predecessor and role.
func (p *planner) entries(id string) []Entry {
	var out []Entry
	seen := NewVisited()
	for _, pred := range p.g.pred[id] {
		if seen.Has(pred) {
			continue
		}
		seen.Add(pred)
		n := p.g.byID[pred]
		if n.Kind == schema.NodeKindCondition && n.IsEnabled() {
			t, f := p.arms(pred)
			if t == id {
				out = append(out, Entry{From: pred, Branch: schema.BranchTrue})
			}
			if f == id {
				out = append(out, Entry{From: pred, Branch: schema.BranchFalse})
			}
			continue
		}
		out = append(out, Entry{From: pred})
	}
	return out
}

// firstPlannedPred picks the predecessor whose output feeds a join node:
// the first one, in edge order, that has already been planned.
func (p *planner) firstPlannedPred(id string, visited Visited) string {
	for _, pred := range p.g.pred[id] {
		if visited.Has(pred) {
			return pred
		}
	}
	return ""
}

// sharedNodes returns the ids present in at least two of the reach lists,
// as a set and in first-encounter order.
func sharedNodes(reaches [][]string) (Visited, []string) {
	count := map[string]int{}
	for _, r := range reaches {
		for _, id := range r {
			count[id]++
		}
	}

	shared := NewVisited()
	var order []string
	for _, r := range reaches {
		for _, id := range r {
			if count[id] > 1 && !shared.Has(id) {
				shared.Add(id)
				order = append(order, id)
			}
		}
	}
	return shared, order
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// NodeIDs returns every node id in the block, depth-first in plan order.
func (b Block) NodeIDs() []string {
	var out []string
	b.Walk(func(s *Step) {
		if s.Node != nil {
			out = append(out, s.Node.ID)
		}
	})
	return out
}

// Walk calls fn for every step in the block, depth-first in plan order.
func (b Block) Walk(fn func(*Step)) {
	for _, s := range b {
		fn(s)
		for _, br := range s.Branches {
			br.Walk(fn)
		}
		s.Then.Walk(fn)
		s.Else.Walk(fn)
	}
}

// NodeIDs returns the node ids of every trigger plan, in plan order.
func (p *Plan) NodeIDs() []string {
	var out []string
	for _, t := range p.Triggers {
		out = append(out, t.Body.NodeIDs()...)
	}
	return out
}
