package mcp

import "sync"

// SessionRegistry maps subscriber names to MCP session IDs.
// Populated when a client passes `subscriber` to a tool.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // subscriber → sessionID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates a subscriber with a session ID.
// A later registration overwrites the earlier one (reconnect).
func (r *SessionRegistry) Register(subscriber, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[subscriber] = sessionID
}

// SessionFor returns the session ID for the given subscriber, if connected.
func (r *SessionRegistry) SessionFor(subscriber string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[subscriber]
	return sid, ok
}

// Remove deletes all subscriber mappings for the given session ID.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sub, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, sub)
		}
	}
}
