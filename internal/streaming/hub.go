// Package streaming fans node transitions and run completions out to live
// subscribers: MCP progress notifications and the SSE endpoint.
package streaming

import (
	"context"
	"time"

	"github.com/rendis/flowforge/pkg/schema"
)

// Event types. Node events are "node." plus the new status.
const (
	EventNodePrefix  = "node."
	EventRunFinished = "run.finished"
)

// RunEvent is a real-time event emitted while a run executes.
type RunEvent struct {
	RunID       string          `json:"run_id"`
	WorkflowID  string          `json:"workflow_id,omitempty"`
	NodeID      string          `json:"node_id,omitempty"`
	NodeType    schema.NodeKind `json:"node_type,omitempty"`
	EventType   string          `json:"event_type"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	FailedNodes []string        `json:"failed_nodes,omitempty"`
	At          time.Time       `json:"at"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	RunID      string   `json:"run_id,omitempty"`
	WorkflowID string   `json:"workflow_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time run events.
type EventHub interface {
	Publish(ctx context.Context, event RunEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan RunEvent, func(), error)
}
