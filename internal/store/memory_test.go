package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowforge/pkg/schema"
)

func TestMemoryLog_AppendAndEntries(t *testing.T) {
	m := NewMemoryLog()
	ctx := context.Background()

	e := &LogEntry{RunID: "r1", NodeID: "a1", NodeType: schema.NodeKindAction, Status: schema.NodeStatusRunning}
	require.NoError(t, m.Append(ctx, e))
	assert.Equal(t, int64(1), e.Sequence)
	assert.False(t, e.StartedAt.IsZero())

	require.NoError(t, m.Append(ctx, &LogEntry{RunID: "r1", NodeID: "a1", Status: schema.NodeStatusSuccess}))
	require.NoError(t, m.Append(ctx, &LogEntry{RunID: "r2", NodeID: "a1", Status: schema.NodeStatusSuccess}))

	entries, err := m.Entries(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[1].Sequence)

	// Returned entries are copies.
	entries[0].Status = schema.NodeStatusError
	again, _ := m.Entries(ctx, "r1")
	assert.Equal(t, schema.NodeStatusRunning, again[0].Status)

	assert.ElementsMatch(t, []string{"r1", "r2"}, m.Runs())
	assert.Error(t, m.Append(ctx, &LogEntry{NodeID: "a1"}))
}

func TestMemoryLog_Concurrent(t *testing.T) {
	m := NewMemoryLog()
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_ = m.Append(ctx, &LogEntry{RunID: "r1", NodeID: "n", Status: schema.NodeStatusSuccess})
			}
		}()
	}
	wg.Wait()

	entries, err := m.Entries(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, entries, 200)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
}

func TestSnapshot(t *testing.T) {
	t0 := time.Now().UTC()
	t1 := t0.Add(25 * time.Millisecond)
	entries := []*LogEntry{
		{Sequence: 1, RunID: "r1", NodeID: "t1", Status: schema.NodeStatusSuccess, Output: "in"},
		{Sequence: 2, RunID: "r1", NodeID: "a1", Status: schema.NodeStatusRunning, StartedAt: t0},
		{Sequence: 3, RunID: "r1", NodeID: "a1", Status: schema.NodeStatusSuccess, Output: "ok", StartedAt: t0, CompletedAt: &t1},
		{Sequence: 4, RunID: "r1", NodeID: "a2", Status: schema.NodeStatusRunning, StartedAt: t0},
		{Sequence: 5, RunID: "r1", NodeID: "a2", Status: schema.NodeStatusError, Error: "boom"},
		{Sequence: 6, RunID: "r1", NodeID: "a3", Status: schema.NodeStatusSkipped},
	}

	states, err := Snapshot(entries)
	require.NoError(t, err)
	require.Len(t, states, 4)
	assert.Equal(t, schema.NodeStatusSuccess, states["a1"].Status)
	assert.Equal(t, "ok", states["a1"].Output)
	assert.Equal(t, int64(25), states["a1"].DurationMs)
	assert.Equal(t, schema.NodeStatusError, states["a2"].Status)
	assert.Equal(t, "boom", states["a2"].Error)
	assert.Equal(t, schema.NodeStatusSkipped, states["a3"].Status)

	empty, err := Snapshot(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSnapshot_SequenceGap(t *testing.T) {
	_, err := Snapshot([]*LogEntry{
		{Sequence: 1, RunID: "r1", NodeID: "a"},
		{Sequence: 3, RunID: "r1", NodeID: "b"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sequence gap")
}
