package store

import (
	"context"
	"sync"

	"github.com/rendis/flowforge/pkg/schema"
)

// MemoryLog is an ExecutionLog held in process memory. It backs one-shot CLI
// runs where nothing is persisted.
type MemoryLog struct {
	mu      sync.RWMutex
	entries map[string][]*LogEntry
	nextID  int64
}

// NewMemoryLog returns an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{entries: make(map[string][]*LogEntry)}
}

func (m *MemoryLog) Append(_ context.Context, entry *LogEntry) error {
	if entry.RunID == "" || entry.NodeID == "" {
		return schema.NewError(schema.ErrCodeValidation, "log entry requires run id and node id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	entry.ID = m.nextID
	entry.Sequence = int64(len(m.entries[entry.RunID]) + 1)
	entry.StartedAt = timeOrNow(entry.StartedAt)

	cp := *entry
	m.entries[entry.RunID] = append(m.entries[entry.RunID], &cp)
	return nil
}

func (m *MemoryLog) Entries(_ context.Context, runID string) ([]*LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.entries[runID]
	out := make([]*LogEntry, len(src))
	for i, e := range src {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// Runs returns the ids of every run with at least one entry.
func (m *MemoryLog) Runs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	return ids
}

var _ ExecutionLog = (*MemoryLog)(nil)
