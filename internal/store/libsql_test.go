package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowforge/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func sampleGraph() schema.Graph {
	return schema.Graph{
		Nodes: []schema.Node{
			{ID: "t1", Kind: schema.NodeKindTrigger, Label: "Start"},
			{ID: "a1", Kind: schema.NodeKindAction, Label: "Send Email", Config: map[string]any{"actionType": "noop"}},
		},
		Edges: []schema.Edge{{ID: "e1", Source: "t1", Target: "a1"}},
	}
}

func seedWorkflow(t *testing.T, s *LibSQLStore) *Workflow {
	t.Helper()
	wf := &Workflow{ID: uuid.New().String(), Name: "orders", Graph: sampleGraph()}
	require.NoError(t, s.SaveWorkflow(context.Background(), wf))
	return wf
}

func requireNotFound(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, schema.ErrCodeNotFound, flowErr.Code)
}

// --- Workflow Tests ---

func TestSaveAndGetWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "orders", got.Name)
	require.Len(t, got.Graph.Nodes, 2)
	assert.Equal(t, "Send Email", got.Graph.Nodes[1].Label)
	assert.Equal(t, "noop", got.Graph.Nodes[1].ConfigString("actionType"))
	assert.Len(t, got.Graph.Edges, 1)
}

func TestSaveWorkflow_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)
	created := wf.CreatedAt

	wf.Name = "orders-v2"
	wf.Graph.Nodes = wf.Graph.Nodes[:1]
	wf.Graph.Edges = nil
	require.NoError(t, s.SaveWorkflow(ctx, wf))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "orders-v2", got.Name)
	assert.Len(t, got.Graph.Nodes, 1)
	assert.WithinDuration(t, created, got.CreatedAt, time.Second)

	list, err := s.ListWorkflows(ctx, WorkflowFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSaveWorkflow_EmptyID(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveWorkflow(context.Background(), &Workflow{Graph: sampleGraph()})
	require.Error(t, err)
}

func TestGetWorkflow_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetWorkflow(context.Background(), "nonexistent")
	requireNotFound(t, err)
}

func TestListWorkflows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		seedWorkflow(t, s)
	}

	list, err := s.ListWorkflows(ctx, WorkflowFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 3)

	list, err = s.ListWorkflows(ctx, WorkflowFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestDeleteWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)

	require.NoError(t, s.UpsertScheduledJob(ctx, &ScheduledJob{
		ID: uuid.New().String(), WorkflowID: wf.ID, TriggerID: "t1", CronExpression: "@hourly", Enabled: true,
	}))
	require.NoError(t, s.DeleteWorkflow(ctx, wf.ID))

	_, err := s.GetWorkflow(ctx, wf.ID)
	requireNotFound(t, err)
	requireNotFound(t, s.DeleteWorkflow(ctx, wf.ID))

	jobs, err := s.ListScheduledJobs(ctx, ScheduledJobFilter{WorkflowID: wf.ID})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

// --- Run Tests ---

func TestCreateAndUpdateRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)

	run := &Run{
		ID:         uuid.New().String(),
		WorkflowID: wf.ID,
		Status:     schema.RunStatusRunning,
		Input:      map[string]any{"orderId": "o-1"},
	}
	require.NoError(t, s.CreateRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusRunning, got.Status)
	assert.Equal(t, map[string]any{"orderId": "o-1"}, got.Input)
	assert.Nil(t, got.CompletedAt)

	failed := schema.RunStatusFailed
	msg := "boom"
	now := time.Now().UTC()
	require.NoError(t, s.UpdateRun(ctx, run.ID, RunUpdate{Status: &failed, Error: &msg, CompletedAt: &now}))

	got, err = s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
	assert.NotNil(t, got.CompletedAt)

	requireNotFound(t, s.UpdateRun(ctx, "missing", RunUpdate{Status: &failed}))
	assert.NoError(t, s.UpdateRun(ctx, "missing", RunUpdate{}))
}

func TestListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)

	for _, st := range []schema.RunStatus{schema.RunStatusSucceeded, schema.RunStatusFailed, schema.RunStatusSucceeded} {
		require.NoError(t, s.CreateRun(ctx, &Run{ID: uuid.New().String(), WorkflowID: wf.ID, Status: st}))
	}
	require.NoError(t, s.CreateRun(ctx, &Run{ID: uuid.New().String(), Status: schema.RunStatusSucceeded}))

	runs, err := s.ListRuns(ctx, RunFilter{WorkflowID: wf.ID})
	require.NoError(t, err)
	assert.Len(t, runs, 3)

	ok := schema.RunStatusSucceeded
	runs, err = s.ListRuns(ctx, RunFilter{Status: &ok})
	require.NoError(t, err)
	assert.Len(t, runs, 3)

	runs, err = s.ListRuns(ctx, RunFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

// --- Execution Log Tests ---

func TestAppendAndEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	started := time.Now().UTC()
	done := started.Add(40 * time.Millisecond)
	entries := []*LogEntry{
		{RunID: "r1", NodeID: "t1", NodeType: schema.NodeKindTrigger, Status: schema.NodeStatusSuccess, Output: map[string]any{"x": 1.0}},
		{RunID: "r1", NodeID: "a1", NodeName: "Send Email", NodeType: schema.NodeKindAction, Status: schema.NodeStatusRunning, StartedAt: started},
		{RunID: "r1", NodeID: "a1", NodeName: "Send Email", NodeType: schema.NodeKindAction, Status: schema.NodeStatusSuccess,
			Input: map[string]any{"to": "a@b.com"}, Output: "sent", StartedAt: started, CompletedAt: &done},
	}
	for _, e := range entries {
		require.NoError(t, s.Append(ctx, e))
	}
	assert.Equal(t, int64(3), entries[2].Sequence)

	got, err := s.Entries(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, e := range got {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
	assert.Equal(t, "Send Email", got[2].NodeName)
	assert.Equal(t, map[string]any{"to": "a@b.com"}, got[2].Input)
	assert.Equal(t, "sent", got[2].Output)
	require.NotNil(t, got[2].CompletedAt)

	none, err := s.Entries(ctx, "r2")
	require.NoError(t, err)
	assert.Empty(t, none)

	assert.Error(t, s.Append(ctx, &LogEntry{RunID: "r1"}))
}

func TestAppend_RunScopedSequences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, &LogEntry{RunID: "r1", NodeID: "n", NodeType: schema.NodeKindAction, Status: schema.NodeStatusRunning}))
	require.NoError(t, s.Append(ctx, &LogEntry{RunID: "r1", NodeID: "n", NodeType: schema.NodeKindAction, Status: schema.NodeStatusSuccess}))

	e := &LogEntry{RunID: "r2", NodeID: "n", NodeType: schema.NodeKindAction, Status: schema.NodeStatusRunning}
	require.NoError(t, s.Append(ctx, e))
	assert.Equal(t, int64(1), e.Sequence)
}

func TestAppend_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errCh := make(chan error, 40)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				e := &LogEntry{RunID: "r1", NodeID: "n", NodeType: schema.NodeKindAction, Status: schema.NodeStatusSuccess}
				if err := s.Append(ctx, e); err != nil {
					errCh <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("concurrent append error: %v", err)
	}

	entries, err := s.Entries(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, entries, 40)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
}

// --- Secrets Tests ---

func TestStoreAndGetSecret(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreSecret(ctx, "smtp", []byte("secret123")))
	require.NoError(t, s.StoreSecret(ctx, "api-key", []byte("k")))

	val, err := s.GetSecret(ctx, "smtp")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret123"), val)

	require.NoError(t, s.StoreSecret(ctx, "smtp", []byte("updated")))
	val, err = s.GetSecret(ctx, "smtp")
	require.NoError(t, err)
	assert.Equal(t, []byte("updated"), val)

	keys, err := s.ListSecrets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"api-key", "smtp"}, keys)

	require.NoError(t, s.DeleteSecret(ctx, "smtp"))
	_, err = s.GetSecret(ctx, "smtp")
	requireNotFound(t, err)
}

// --- Scheduled Job Tests ---

func TestScheduledJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)

	next := time.Now().UTC().Add(time.Hour)
	job := &ScheduledJob{
		ID: uuid.New().String(), WorkflowID: wf.ID, TriggerID: "t1",
		CronExpression: "@hourly", Enabled: true, NextRunAt: &next,
	}
	require.NoError(t, s.UpsertScheduledJob(ctx, job))

	// Same (workflow, trigger) replaces the expression and keeps the id.
	require.NoError(t, s.UpsertScheduledJob(ctx, &ScheduledJob{
		ID: uuid.New().String(), WorkflowID: wf.ID, TriggerID: "t1", CronExpression: "*/5 * * * *", Enabled: true,
	}))

	got, err := s.GetScheduledJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", got.CronExpression)
	assert.True(t, got.Enabled)

	disabled := false
	ran := time.Now().UTC()
	require.NoError(t, s.UpdateScheduledJob(ctx, job.ID, ScheduledJobUpdate{
		Enabled: &disabled, LastRunAt: &ran, LastRunStatus: string(schema.RunStatusSucceeded),
	}))
	got, err = s.GetScheduledJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, "succeeded", got.LastRunStatus)
	assert.NotNil(t, got.LastRunAt)

	enabled := true
	jobs, err := s.ListScheduledJobs(ctx, ScheduledJobFilter{Enabled: &enabled})
	require.NoError(t, err)
	assert.Empty(t, jobs)

	jobs, err = s.ListScheduledJobs(ctx, ScheduledJobFilter{WorkflowID: wf.ID})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	require.NoError(t, s.DeleteScheduledJobs(ctx, wf.ID))
	_, err = s.GetScheduledJob(ctx, job.ID)
	requireNotFound(t, err)
}

// --- Migration Tests ---

func TestMigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	// Migrate was already called in newTestStore; calling again should be a no-op.
	require.NoError(t, s.Migrate(context.Background()))
}

func TestVacuum(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Vacuum(context.Background()))
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("-- header\nCREATE TABLE a (x INT);\n\n-- only comment;\nCREATE INDEX i ON a(x);")
	assert.Equal(t, []string{"-- header\nCREATE TABLE a (x INT)", "CREATE INDEX i ON a(x)"}, stmts)
}
