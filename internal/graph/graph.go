// Package graph holds the in-memory workflow graph: adjacency derived from a
// schema.Graph, trigger discovery, branch resolution, cycle-guarded traversal
// and the execution plan shared by the interpreter and the compiler.
package graph

import (
	"github.com/rendis/flowforge/pkg/schema"
)

// Graph is an immutable-per-run view over a schema.Graph.
type Graph struct {
	nodes    []*schema.Node
	byID     map[string]*schema.Node
	index    map[string]int
	succ     map[string][]string
	pred     map[string][]string
	outEdges map[string][]*schema.Edge
}

// New builds a Graph. Structural problems (empty or duplicate ids, unknown
// kinds, dangling edges) are returned as a FlowError before anything runs.
// A graph without triggers is structurally valid; callers decide how to
// report it.
func New(def *schema.Graph) (*Graph, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "graph is nil")
	}
	if err := checkStructure(def).ToError(); err != nil {
		return nil, err
	}
	return build(def), nil
}

func build(def *schema.Graph) *Graph {
	g := &Graph{
		nodes:    make([]*schema.Node, 0, len(def.Nodes)),
		byID:     make(map[string]*schema.Node, len(def.Nodes)),
		index:    make(map[string]int, len(def.Nodes)),
		succ:     make(map[string][]string, len(def.Nodes)),
		pred:     make(map[string][]string, len(def.Nodes)),
		outEdges: make(map[string][]*schema.Edge, len(def.Nodes)),
	}
	for i := range def.Nodes {
		n := &def.Nodes[i]
		g.nodes = append(g.nodes, n)
		g.byID[n.ID] = n
		g.index[n.ID] = i
	}
	for i := range def.Edges {
		e := &def.Edges[i]
		g.succ[e.Source] = append(g.succ[e.Source], e.Target)
		g.pred[e.Target] = append(g.pred[e.Target], e.Source)
		g.outEdges[e.Source] = append(g.outEdges[e.Source], e)
	}
	return g
}

// Nodes returns all nodes in declaration order.
func (g *Graph) Nodes() []*schema.Node {
	return g.nodes
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *schema.Node {
	return g.byID[id]
}

// Index returns the declaration position of a node, or -1.
func (g *Graph) Index(id string) int {
	if i, ok := g.index[id]; ok {
		return i
	}
	return -1
}

// TriggerNodes returns trigger nodes with no incoming edge, in declaration order.
func (g *Graph) TriggerNodes() []*schema.Node {
	var out []*schema.Node
	for _, n := range g.nodes {
		if n.Kind == schema.NodeKindTrigger && len(g.pred[n.ID]) == 0 {
			out = append(out, n)
		}
	}
	return out
}

// SuccessorsOf returns the targets of a node's outgoing edges in edge order.
func (g *Graph) SuccessorsOf(id string) []string {
	return g.succ[id]
}

// PredecessorsOf returns the sources of a node's incoming edges in edge order.
func (g *Graph) PredecessorsOf(id string) []string {
	return g.pred[id]
}

// Branches returns the true and false targets of a condition node. When any
// outgoing edge declares a branch role the roles come from the attribute;
// otherwise the first edge is the true branch and the second the false
// branch. Further edges are unreachable. Missing arms are "".
func (g *Graph) Branches(id string) (trueTarget, falseTarget string) {
	edges := g.outEdges[id]

	explicit := false
	for _, e := range edges {
		if e.Branch != "" {
			explicit = true
			break
		}
	}

	if explicit {
		for _, e := range edges {
			switch e.Branch {
			case schema.BranchTrue:
				if trueTarget == "" {
					trueTarget = e.Target
				}
			case schema.BranchFalse:
				if falseTarget == "" {
					falseTarget = e.Target
				}
			}
		}
		return trueTarget, falseTarget
	}

	if len(edges) > 0 {
		trueTarget = edges[0].Target
	}
	if len(edges) > 1 {
		falseTarget = edges[1].Target
	}
	return trueTarget, falseTarget
}

// next returns the nodes a traversal may continue into from id. Disabled
// nodes stop traversal and conditions only lead to their two arms.
func (g *Graph) next(id string) []string {
	n := g.byID[id]
	if n == nil || !n.IsEnabled() {
		return nil
	}
	if n.Kind != schema.NodeKindCondition {
		return g.succ[id]
	}
	t, f := g.Branches(id)
	out := make([]string, 0, 2)
	if t != "" {
		out = append(out, t)
	}
	if f != "" && f != t {
		out = append(out, f)
	}
	return out
}
