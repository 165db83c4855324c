package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
)

// Notifier pushes notifications to subscribers.
type Notifier interface {
	Notify(ctx context.Context, subscriber string, payload map[string]any) error
}

// MCPNotifier implements Notifier over the subscriber's MCP session.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes via MCP.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the subscriber's session.
// Best-effort: returns nil if the subscriber is not connected.
func (n *MCPNotifier) Notify(_ context.Context, subscriber string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(subscriber)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}
