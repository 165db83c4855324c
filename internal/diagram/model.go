package diagram

// NodeKind classifies a diagram node by the kind of graph node it draws.
type NodeKind string

const (
	NodeKindTrigger   NodeKind = "trigger"
	NodeKindAction    NodeKind = "action"
	NodeKindCondition NodeKind = "condition"
	NodeKindTransform NodeKind = "transform"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title string
	Nodes []*Node
	Edges []Edge
	// Levels groups node ids by their distance from the nearest trigger.
	// Nodes no trigger reaches come last.
	Levels [][]string
}

// Node represents a single graph node in the diagram.
type Node struct {
	ID       string
	Label    string
	Kind     NodeKind
	Disabled bool
	Status   *StatusOverlay
}

// StatusOverlay carries the state a run left a node in.
type StatusOverlay struct {
	Status     string // from schema.NodeStatus
	DurationMs int64
	Error      string
}

// Edge represents a graph edge. Label names the branch role of edges
// leaving a condition.
type Edge struct {
	From  string
	To    string
	Label string
	// Unreachable marks condition edges past the true and false arms.
	Unreachable bool
}

func (m *DiagramModel) node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
