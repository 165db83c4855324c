package engine

import (
	"errors"
	"time"

	"github.com/rendis/flowforge/internal/expressions"
	"github.com/rendis/flowforge/internal/secrets"
	"github.com/rendis/flowforge/pkg/schema"
)

// ExecutionResult is returned by Run with the outcome of every trigger run.
type ExecutionResult struct {
	RunID       string                   `json:"run_id"`
	WorkflowID  string                   `json:"workflow_id,omitempty"`
	Status      schema.RunStatus         `json:"status"`
	StartedAt   time.Time                `json:"started_at"`
	CompletedAt time.Time                `json:"completed_at"`
	Triggers    []*TriggerResult         `json:"triggers"`
	Nodes       map[string]*NodeResult   `json:"nodes"`
	Warnings    []schema.ValidationIssue `json:"warnings,omitempty"`
}

// TriggerResult is the outcome of one independent run starting at a trigger.
type TriggerResult struct {
	TriggerID string                 `json:"trigger_id"`
	Status    schema.RunStatus       `json:"status"`
	Error     *schema.FlowError      `json:"error,omitempty"`
	Outputs   expressions.OutputMap  `json:"outputs"`
	Nodes     map[string]*NodeResult `json:"nodes"`
}

// NodeResult summarizes what happened to a single node.
type NodeResult struct {
	NodeID      string            `json:"node_id"`
	Label       string            `json:"label"`
	Kind        schema.NodeKind   `json:"kind"`
	Status      schema.NodeStatus `json:"status"`
	Output      any               `json:"output,omitempty"`
	Error       string            `json:"error,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	DurationMs  int64             `json:"duration_ms"`
}

// Failed returns the ids of nodes that ended in error, across all triggers.
func (r *ExecutionResult) Failed() []string {
	var ids []string
	for _, t := range r.Triggers {
		for id, n := range t.Nodes {
			if n.Status == schema.NodeStatusError {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// merge folds per-trigger node results into one map. A node reached from
// several triggers keeps the result of the first trigger in declaration order.
func merge(triggers []*TriggerResult) map[string]*NodeResult {
	nodes := make(map[string]*NodeResult)
	for _, t := range triggers {
		for id, n := range t.Nodes {
			if _, seen := nodes[id]; !seen {
				nodes[id] = n
			}
		}
	}
	return nodes
}

// nodeError converts err into a FlowError carrying nodeID without mutating
// a FlowError the step may share across calls.
func nodeError(nodeID string, err error) *schema.FlowError {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		cp := *fe
		cp.NodeID = nodeID
		return &cp
	}
	return schema.NewError(schema.ErrCodeStepFailed, err.Error()).WithNode(nodeID).WithCause(err)
}

// redact scrubs credential values from a node error before it is recorded.
func redact(fe *schema.FlowError, creds map[string]string) *schema.FlowError {
	if len(creds) == 0 {
		return fe
	}
	fe.Message = secrets.Redact(fe.Message, creds)
	fe.Cause = nil
	return fe
}
