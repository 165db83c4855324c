package engine

import (
	"maps"
	"sync"

	"github.com/rendis/flowforge/internal/expressions"
	"github.com/rendis/flowforge/pkg/schema"
)

// NodeOutputs accumulates node outputs during one trigger run. Entries are
// write-once: a node id can be recorded a single time. Safe for concurrent
// use by parallel branches.
type NodeOutputs struct {
	mu      sync.RWMutex
	outputs map[string]expressions.NodeOutput
}

// NewNodeOutputs returns an empty NodeOutputs.
func NewNodeOutputs() *NodeOutputs {
	return &NodeOutputs{outputs: make(map[string]expressions.NodeOutput)}
}

// Output implements expressions.Outputs.
func (o *NodeOutputs) Output(nodeID string) (expressions.NodeOutput, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out, ok := o.outputs[nodeID]
	return out, ok
}

// Record stores the output of nodeID. A second write for the same id is a
// CONFLICT error and leaves the first value in place.
func (o *NodeOutputs) Record(nodeID string, out expressions.NodeOutput) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.outputs[nodeID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "output of node %q already recorded", nodeID).WithNode(nodeID)
	}
	o.outputs[nodeID] = out
	return nil
}

// Snapshot returns a copy of every recorded output.
func (o *NodeOutputs) Snapshot() expressions.OutputMap {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return maps.Clone(o.outputs)
}

// scope is the part of a run's outputs readable at one point of the plan:
// the nodes that ran earlier on the path leading there. Parallel branches
// each get a fork and see neither sibling's nodes until the join. A scope is
// owned by one goroutine.
type scope struct {
	outputs *NodeOutputs
	visible map[string]struct{}
}

func newScope(outputs *NodeOutputs) *scope {
	return &scope{outputs: outputs, visible: make(map[string]struct{})}
}

// Output implements expressions.Outputs.
func (s *scope) Output(nodeID string) (expressions.NodeOutput, bool) {
	if _, ok := s.visible[nodeID]; !ok {
		return expressions.NodeOutput{}, false
	}
	return s.outputs.Output(nodeID)
}

// succeeded returns the data of a visible node that ran without error.
func (s *scope) succeeded(nodeID string) (any, bool) {
	out, ok := s.Output(nodeID)
	if !ok || out.Error != "" {
		return nil, false
	}
	return out.Data, true
}

func (s *scope) add(nodeID string) {
	s.visible[nodeID] = struct{}{}
}

func (s *scope) fork() *scope {
	return &scope{outputs: s.outputs, visible: maps.Clone(s.visible)}
}

func (s *scope) absorb(others ...*scope) {
	for _, o := range others {
		maps.Copy(s.visible, o.visible)
	}
}

var (
	_ expressions.Outputs = (*NodeOutputs)(nil)
	_ expressions.Outputs = (*scope)(nil)
)
