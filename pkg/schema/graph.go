package schema

// Graph is the JSON-serializable workflow graph exchanged with the editor
// and the persistence layer.
type Graph struct {
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
}

// Node is a single typed step in a workflow graph.
type Node struct {
	ID      string         `json:"id" yaml:"id"`
	Kind    NodeKind       `json:"kind" yaml:"kind"`
	Label   string         `json:"label" yaml:"label"`
	Config  map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Enabled *bool          `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the node participates in runs. Nodes without an
// explicit flag are enabled.
func (n *Node) IsEnabled() bool {
	return n.Enabled == nil || *n.Enabled
}

// ConfigString returns a string config value, or "" when absent or not a string.
func (n *Node) ConfigString(key string) string {
	if n.Config == nil {
		return ""
	}
	s, _ := n.Config[key].(string)
	return s
}

// Edge connects two nodes. Branch optionally pins the role of an outgoing
// condition edge; when no edge of a condition carries it, roles are positional.
type Edge struct {
	ID     string     `json:"id" yaml:"id"`
	Source string     `json:"source" yaml:"source"`
	Target string     `json:"target" yaml:"target"`
	Branch BranchRole `json:"branch,omitempty" yaml:"branch,omitempty"`
}

// NodeKind enumerates the kinds of nodes in a graph.
type NodeKind string

const (
	NodeKindTrigger   NodeKind = "trigger"
	NodeKindAction    NodeKind = "action"
	NodeKindCondition NodeKind = "condition"
	NodeKindTransform NodeKind = "transform"
)

// Valid reports whether k is a known node kind.
func (k NodeKind) Valid() bool {
	switch k {
	case NodeKindTrigger, NodeKindAction, NodeKindCondition, NodeKindTransform:
		return true
	}
	return false
}

// BranchRole is the role of an outgoing condition edge.
type BranchRole string

const (
	BranchTrue  BranchRole = "true"
	BranchFalse BranchRole = "false"
)

// Well-known config keys.
const (
	ConfigActionType    = "actionType"
	ConfigCondition     = "condition"
	ConfigTransformType = "transformType"
	ConfigExpression    = "expression"
	ConfigCredentialRef = "credentialRef"
	ConfigSchedule      = "schedule"
)

// NoTriggerMessage is reported by both the interpreter and the compiler when
// a graph has no trigger nodes.
const NoTriggerMessage = "No trigger nodes"
