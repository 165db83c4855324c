package graph

import (
	"fmt"

	"github.com/rendis/flowforge/pkg/schema"
)

// Validate runs every structural and semantic check on def. Errors block a
// run; warnings describe graphs that run but probably not as intended.
func Validate(def *schema.Graph) *schema.ValidationResult {
	if def == nil {
		result := &schema.ValidationResult{}
		result.AddError("", schema.ErrCodeValidation, "graph is nil")
		return result
	}

	result := checkStructure(def)
	if !result.Valid() {
		return result
	}

	g := build(def)
	if len(g.TriggerNodes()) == 0 {
		result.AddError("nodes", schema.ErrCodeNoTrigger, schema.NoTriggerMessage)
	}
	result.Merge(g.lint())
	return result
}

// checkStructure reports problems that make adjacency meaningless: missing
// or duplicate ids, unknown kinds and edges pointing at nothing.
func checkStructure(def *schema.Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	ids := make(map[string]bool, len(def.Nodes))
	for i, n := range def.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if n.ID == "" {
			result.AddError(path+".id", schema.ErrCodeValidation, "node id is empty")
			continue
		}
		if ids[n.ID] {
			result.AddError(path+".id", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate node id %q", n.ID))
			continue
		}
		ids[n.ID] = true
		if !n.Kind.Valid() {
			result.AddError(path+".kind", schema.ErrCodeValidation,
				fmt.Sprintf("node %q has unknown kind %q", n.ID, n.Kind))
		}
	}

	for i, e := range def.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if !ids[e.Source] {
			result.AddError(path+".source", schema.ErrCodeDanglingEdge,
				fmt.Sprintf("edge %q references unknown source node %q", e.ID, e.Source))
		}
		if !ids[e.Target] {
			result.AddError(path+".target", schema.ErrCodeDanglingEdge,
				fmt.Sprintf("edge %q references unknown target node %q", e.ID, e.Target))
		}
		if e.Branch != "" && e.Branch != schema.BranchTrue && e.Branch != schema.BranchFalse {
			result.AddError(path+".branch", schema.ErrCodeValidation,
				fmt.Sprintf("edge %q has unknown branch role %q", e.ID, e.Branch))
		}
	}

	return result
}

// lint reports warnings on a structurally valid graph.
func (g *Graph) lint() *schema.ValidationResult {
	result := &schema.ValidationResult{}

	for i, n := range g.nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		switch n.Kind {
		case schema.NodeKindTrigger:
			if len(g.pred[n.ID]) > 0 {
				result.AddWarning(path, schema.ErrCodeValidation,
					fmt.Sprintf("trigger %q has incoming edges and is not an entry point", n.ID))
			}
		case schema.NodeKindAction:
			if n.ConfigString(schema.ConfigActionType) == "" {
				result.AddWarning(path+".config.actionType", schema.ErrCodeValidation,
					fmt.Sprintf("action %q has no actionType", n.ID))
			}
		case schema.NodeKindCondition:
			g.lintCondition(path, n, result)
		}
	}

	seen := make(map[[2]string]bool, len(g.outEdges))
	for _, n := range g.nodes {
		for _, e := range g.outEdges[n.ID] {
			key := [2]string{e.Source, e.Target}
			if seen[key] {
				result.AddWarning("edges", schema.ErrCodeValidation,
					fmt.Sprintf("duplicate edge %q from %q to %q", e.ID, e.Source, e.Target))
			}
			seen[key] = true
		}
	}

	if cycle := g.findCycle(); cycle != "" {
		result.AddWarning("edges", schema.ErrCodeValidation,
			fmt.Sprintf("graph contains a cycle through %q; it will be truncated", cycle))
	}

	if len(g.TriggerNodes()) > 0 {
		reached := NewVisited()
		for _, t := range g.TriggerNodes() {
			g.Traverse(t.ID, reached, func(*schema.Node, int) bool { return true })
		}
		for i, n := range g.nodes {
			if !reached.Has(n.ID) {
				result.AddWarning(fmt.Sprintf("nodes[%d]", i), schema.ErrCodeValidation,
					fmt.Sprintf("node %q is unreachable from any trigger", n.ID))
			}
		}
	}

	return result
}

func (g *Graph) lintCondition(path string, n *schema.Node, result *schema.ValidationResult) {
	edges := g.outEdges[n.ID]
	if len(edges) > 2 {
		result.AddWarning(path, schema.ErrCodeValidation,
			fmt.Sprintf("condition %q has %d outgoing edges; only two branches are reachable", n.ID, len(edges)))
	}

	counts := map[schema.BranchRole]int{}
	explicit := 0
	for _, e := range edges {
		if e.Branch != "" {
			counts[e.Branch]++
			explicit++
		}
	}
	if explicit > 0 && explicit < len(edges) {
		result.AddWarning(path, schema.ErrCodeValidation,
			fmt.Sprintf("condition %q mixes explicit and positional branches; unlabeled edges are unreachable", n.ID))
	}
	for _, role := range []schema.BranchRole{schema.BranchTrue, schema.BranchFalse} {
		if counts[role] > 1 {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("condition %q has %d %q edges; only the first is followed", n.ID, counts[role], role))
		}
	}
}

// findCycle returns the id of a node on a cycle, or "".
func (g *Graph) findCycle() string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.nodes))

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = grey
		for _, next := range g.succ[id] {
			switch color[next] {
			case grey:
				return next
			case white:
				if c := visit(next); c != "" {
					return c
				}
			}
		}
		color[id] = black
		return ""
	}

	for _, n := range g.nodes {
		if color[n.ID] == white {
			if c := visit(n.ID); c != "" {
				return c
			}
		}
	}
	return ""
}
