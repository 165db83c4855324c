package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rendis/flowforge/internal/store"
	"github.com/rendis/flowforge/pkg/schema"
)

// TransitionHook is called after a node transition has been logged. It
// receives a copy of the entry that was appended.
type TransitionHook func(ctx context.Context, entry store.LogEntry)

// NodeFSM manages node lifecycle transitions within runs and reports every
// transition to the execution log.
type NodeFSM struct {
	mu    sync.Mutex
	log   store.ExecutionLog
	after map[schema.NodeStatus][]TransitionHook
}

// NewNodeFSM creates a NodeFSM that appends transitions to log.
func NewNodeFSM(log store.ExecutionLog) *NodeFSM {
	return &NodeFSM{
		log:   log,
		after: make(map[schema.NodeStatus][]TransitionHook),
	}
}

// OnAfter registers a hook called after a node enters status to.
func (f *NodeFSM) OnAfter(to schema.NodeStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.after[to] = append(f.after[to], hook)
}

// Transition moves rec from its current status to to, appends the new state
// to the execution log and runs the hooks. rec is the node's working entry;
// its Status, StartedAt and CompletedAt are updated in place.
//
// An invalid transition leaves rec untouched. A failing log append is
// returned after rec has moved, so the run can go on without its log.
func (f *NodeFSM) Transition(ctx context.Context, rec *store.LogEntry, to schema.NodeStatus) error {
	from := rec.Status
	if !isValidNodeTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid node transition: %s -> %s", from, to).
			WithNode(rec.NodeID).
			WithDetails(map[string]any{"run_id": rec.RunID, "from": string(from), "to": string(to)})
	}

	now := time.Now().UTC()
	rec.Status = to
	switch to {
	case schema.NodeStatusRunning:
		rec.StartedAt = now
	case schema.NodeStatusSkipped:
		rec.StartedAt = now
		rec.CompletedAt = &now
	default:
		rec.CompletedAt = &now
	}

	entry := *rec
	var logErr error
	if f.log != nil {
		if err := f.log.Append(ctx, &entry); err != nil {
			logErr = schema.NewErrorf(schema.ErrCodeStore, "append log entry: %s", err.Error()).
				WithNode(rec.NodeID).WithCause(err)
		}
	}

	f.mu.Lock()
	hooks := f.after[to]
	f.mu.Unlock()
	for _, hook := range hooks {
		hook(ctx, entry)
	}

	return logErr
}

func isValidNodeTransition(from, to schema.NodeStatus) bool {
	for _, a := range ValidNodeTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// ValidNodeTransitions defines the allowed node status transitions.
var ValidNodeTransitions = map[schema.NodeStatus][]schema.NodeStatus{
	schema.NodeStatusPending: {schema.NodeStatusRunning, schema.NodeStatusSkipped},
	schema.NodeStatusRunning: {schema.NodeStatusSuccess, schema.NodeStatusError},
	schema.NodeStatusSuccess: {},
	schema.NodeStatusError:   {},
	schema.NodeStatusSkipped: {},
}
