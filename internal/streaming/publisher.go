package streaming

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/flowforge/internal/engine"
	"github.com/rendis/flowforge/internal/logging"
	"github.com/rendis/flowforge/internal/store"
	"github.com/rendis/flowforge/pkg/schema"
)

// Publisher turns node transitions and finished runs into hub events.
type Publisher struct {
	hub    EventHub
	logger *slog.Logger
}

// NewPublisher creates a Publisher. A nil logger discards.
func NewPublisher(hub EventHub, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Publisher{hub: hub, logger: logger}
}

// Attach publishes every transition of fsm.
func (p *Publisher) Attach(fsm *engine.NodeFSM) {
	for _, st := range []schema.NodeStatus{
		schema.NodeStatusRunning, schema.NodeStatusSuccess,
		schema.NodeStatusError, schema.NodeStatusSkipped,
	} {
		fsm.OnAfter(st, p.nodeTransition)
	}
}

func (p *Publisher) nodeTransition(ctx context.Context, entry store.LogEntry) {
	at := entry.StartedAt
	if entry.CompletedAt != nil {
		at = *entry.CompletedAt
	}
	p.publish(ctx, RunEvent{
		RunID:      entry.RunID,
		WorkflowID: logging.WorkflowID(ctx),
		NodeID:     entry.NodeID,
		NodeType:   entry.NodeType,
		EventType:  EventNodePrefix + string(entry.Status),
		Status:     string(entry.Status),
		Error:      entry.Error,
		At:         at,
	})
}

// RunFinished implements engine.RunObserver.
func (p *Publisher) RunFinished(result *engine.ExecutionResult) {
	at := result.CompletedAt
	if at.IsZero() {
		at = time.Now()
	}
	p.publish(context.Background(), RunEvent{
		RunID:       result.RunID,
		WorkflowID:  result.WorkflowID,
		EventType:   EventRunFinished,
		Status:      string(result.Status),
		FailedNodes: result.Failed(),
		At:          at,
	})
}

func (p *Publisher) publish(ctx context.Context, ev RunEvent) {
	if err := p.hub.Publish(ctx, ev); err != nil {
		p.logger.DebugContext(ctx, "run event dropped",
			slog.String("event_type", ev.EventType),
			slog.String("error", err.Error()),
		)
	}
}

var _ engine.RunObserver = (*Publisher)(nil)
