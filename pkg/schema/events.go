package schema

// NodeStatus represents the lifecycle state of a node within one run.
type NodeStatus string

const (
	NodeStatusPending NodeStatus = "pending"
	NodeStatusRunning NodeStatus = "running"
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusError   NodeStatus = "error"
	NodeStatusSkipped NodeStatus = "skipped"
)

// Terminal reports whether no further transition is allowed from s.
func (s NodeStatus) Terminal() bool {
	return s == NodeStatusSuccess || s == NodeStatusError || s == NodeStatusSkipped
}

// RunStatus is the outcome of a whole execution.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Transform types understood by transform nodes.
const (
	TransformPassthrough = "passthrough"
	TransformJQ          = "jq"
	TransformExpr        = "expr"
)
