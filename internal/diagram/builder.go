package diagram

import (
	"fmt"

	"github.com/rendis/flowforge/internal/graph"
	"github.com/rendis/flowforge/internal/store"
	"github.com/rendis/flowforge/pkg/schema"
)

// Build constructs a DiagramModel from a graph and the optional node states
// of one run, as folded by store.Snapshot.
func Build(def *schema.Graph, states map[string]*store.NodeState) (*DiagramModel, error) {
	g, err := graph.New(def)
	if err != nil {
		return nil, fmt.Errorf("diagram: %w", err)
	}

	model := &DiagramModel{Title: "Workflow"}
	for _, n := range g.Nodes() {
		node := &Node{
			ID:       n.ID,
			Label:    nodeLabel(n),
			Kind:     NodeKind(n.Kind),
			Disabled: !n.IsEnabled(),
		}
		overlayStatus(node, states)
		model.Nodes = append(model.Nodes, node)
	}

	model.Edges = buildEdges(g, def.Edges)
	model.Levels = buildLevels(g)
	return model, nil
}

// nodeLabel is the node's label, with its action type on a second line.
func nodeLabel(n *schema.Node) string {
	label := n.Label
	if label == "" {
		label = n.ID
	}
	if at := n.ConfigString(schema.ConfigActionType); at != "" {
		return fmt.Sprintf("%s\n(%s)", label, at)
	}
	return label
}

func overlayStatus(node *Node, states map[string]*store.NodeState) {
	if st, ok := states[node.ID]; ok {
		node.Status = &StatusOverlay{
			Status:     string(st.Status),
			DurationMs: st.DurationMs,
			Error:      st.Error,
		}
	}
}

// buildEdges keeps declaration order and labels the arms of conditions.
func buildEdges(g *graph.Graph, edges []schema.Edge) []Edge {
	out := make([]Edge, 0, len(edges))
	for _, e := range edges {
		edge := Edge{From: e.Source, To: e.Target}
		if src := g.Node(e.Source); src != nil && src.Kind == schema.NodeKindCondition {
			t, f := g.Branches(e.Source)
			switch e.Target {
			case t:
				edge.Label = string(schema.BranchTrue)
			case f:
				edge.Label = string(schema.BranchFalse)
			default:
				edge.Unreachable = true
			}
		}
		out = append(out, edge)
	}
	return out
}

// buildLevels assigns every node its shortest distance from a trigger.
func buildLevels(g *graph.Graph) [][]string {
	depth := make(map[string]int)
	var queue []string
	for _, t := range g.TriggerNodes() {
		depth[t.ID] = 0
		queue = append(queue, t.ID)
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range g.SuccessorsOf(id) {
			if _, seen := depth[next]; !seen {
				depth[next] = depth[id] + 1
				queue = append(queue, next)
			}
		}
	}

	var levels [][]string
	var orphans []string
	for _, n := range g.Nodes() {
		d, ok := depth[n.ID]
		if !ok {
			orphans = append(orphans, n.ID)
			continue
		}
		for len(levels) <= d {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], n.ID)
	}
	if len(orphans) > 0 {
		levels = append(levels, orphans)
	}
	return levels
}
