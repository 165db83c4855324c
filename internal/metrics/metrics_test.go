package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowforge/internal/actions"
	"github.com/rendis/flowforge/internal/engine"
	"github.com/rendis/flowforge/internal/store"
	"github.com/rendis/flowforge/pkg/schema"
)

func TestNodeTransitionsCounted(t *testing.T) {
	m := New(prometheus.NewRegistry())
	fsm := engine.NewNodeFSM(nil)
	m.Attach(fsm)

	ctx := context.Background()
	rec := &store.LogEntry{NodeID: "a", NodeType: schema.NodeKindAction, Status: schema.NodeStatusPending}
	require.NoError(t, fsm.Transition(ctx, rec, schema.NodeStatusRunning))
	require.NoError(t, fsm.Transition(ctx, rec, schema.NodeStatusSuccess))

	skipped := &store.LogEntry{NodeID: "b", NodeType: schema.NodeKindAction, Status: schema.NodeStatusPending}
	require.NoError(t, fsm.Transition(ctx, skipped, schema.NodeStatusSkipped))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.nodeTransitions.WithLabelValues("action", "running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.nodeTransitions.WithLabelValues("action", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.nodeTransitions.WithLabelValues("action", "skipped")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.nodeDuration))
}

func TestRunObserver(t *testing.T) {
	m := New(prometheus.NewRegistry())
	reg := actions.NewRegistry(nil)
	require.NoError(t, actions.RegisterBuiltins(reg, actions.BuiltinConfig{}))

	ex, err := engine.NewExecutor(engine.Config{Registry: reg, Observer: m})
	require.NoError(t, err)
	m.Attach(ex.FSM())

	def := &schema.Graph{
		Nodes: []schema.Node{
			{ID: "t", Kind: schema.NodeKindTrigger, Label: "Start"},
			{ID: "n", Kind: schema.NodeKindAction, Label: "Nothing", Config: map[string]any{"actionType": "noop"}},
		},
		Edges: []schema.Edge{{ID: "e", Source: "t", Target: "n"}},
	}
	res, err := ex.Run(context.Background(), def, nil)
	require.NoError(t, err)
	require.Equal(t, schema.RunStatusSucceeded, res.Status)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("succeeded")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.runsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.nodeTransitions.WithLabelValues("action", "running"))+
		testutil.ToFloat64(m.nodeTransitions.WithLabelValues("trigger", "running")))
}

func TestObserveCompile(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveCompile(time.Millisecond, []schema.ValidationIssue{
		{Path: "nodes[1]", Code: schema.ErrCodeCodegenGap, Severity: schema.SeverityWarning},
		{Path: "nodes[2]", Code: schema.ErrCodeCodegenGap, Severity: schema.SeverityWarning},
	}, nil)
	m.ObserveCompile(time.Millisecond, nil, schema.NewError(schema.ErrCodeDanglingEdge, "edge e1"))
	m.ObserveCompile(time.Millisecond, nil, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.compileWarnings.WithLabelValues(schema.ErrCodeCodegenGap)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.compilesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.compilesTotal.WithLabelValues(schema.ErrCodeDanglingEdge)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.compilesTotal.WithLabelValues("error")))
}

func TestExporterHandler(t *testing.T) {
	m := New(nil)
	m.ObserveCompile(time.Millisecond, nil, nil)
	exp := NewExporter(":0", m)

	srv := httptest.NewServer(exp.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Contains(t, string(body), `flowforge_compiles_total{outcome="ok"} 1`)
	assert.Contains(t, string(body), "go_goroutines")

	resp, err = srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}

func TestExporterMountedRoute(t *testing.T) {
	exp := NewExporter(":0", New(nil))
	exp.Handle("/runs/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("run " + r.URL.Path))
	}))

	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/r1/events", nil))
	assert.Equal(t, "run /runs/r1/events", rec.Body.String())
}

func TestExporterShutdownBeforeStart(t *testing.T) {
	exp := NewExporter(":0", New(nil))
	assert.NoError(t, exp.Shutdown(context.Background()))
}
