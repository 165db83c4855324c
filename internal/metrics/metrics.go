// Package metrics exports Prometheus metrics for interpreted runs and
// compilations.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rendis/flowforge/internal/engine"
	"github.com/rendis/flowforge/internal/store"
	"github.com/rendis/flowforge/pkg/schema"
)

const namespace = "flowforge"

// Metrics holds the collectors of one process. Create it with New and
// register it once; tests use their own registry.
type Metrics struct {
	nodeTransitions *prometheus.CounterVec
	nodeDuration    *prometheus.HistogramVec
	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	runsActive      prometheus.Gauge
	compilesTotal   *prometheus.CounterVec
	compileDuration prometheus.Histogram
	compileWarnings *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		nodeTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_transitions_total",
			Help:      "Node state transitions by node kind and new status",
		}, []string{"kind", "status"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Duration of finished node executions in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"kind", "status"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished interpreted runs by status",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of interpreted runs in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"status"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Number of runs in progress",
		}),
		compilesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compiles_total",
			Help:      "Compilations by outcome",
		}, []string{"outcome"}),
		compileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compile_duration_seconds",
			Help:      "Duration of compilations in seconds",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		compileWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compile_warnings_total",
			Help:      "Degraded constructs reported by the compiler, by code",
		}, []string{"code"}),
	}
	if reg != nil {
		reg.MustRegister(m.Collectors()...)
	}
	return m
}

// Collectors lists every collector for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.nodeTransitions, m.nodeDuration,
		m.runsTotal, m.runDuration, m.runsActive,
		m.compilesTotal, m.compileDuration, m.compileWarnings,
	}
}

// Attach hooks the node state machine so every transition is counted and
// every terminal one timed.
func (m *Metrics) Attach(fsm *engine.NodeFSM) {
	for _, st := range []schema.NodeStatus{
		schema.NodeStatusRunning, schema.NodeStatusSuccess,
		schema.NodeStatusError, schema.NodeStatusSkipped,
	} {
		fsm.OnAfter(st, m.nodeTransition)
	}
}

func (m *Metrics) nodeTransition(_ context.Context, entry store.LogEntry) {
	kind, status := string(entry.NodeType), string(entry.Status)
	m.nodeTransitions.WithLabelValues(kind, status).Inc()
	if entry.Status == schema.NodeStatusRunning {
		return
	}
	if entry.CompletedAt != nil && !entry.StartedAt.IsZero() {
		m.nodeDuration.WithLabelValues(kind, status).Observe(entry.CompletedAt.Sub(entry.StartedAt).Seconds())
	}
}

// RunStarted implements engine.RunStartObserver.
func (m *Metrics) RunStarted(string) {
	m.runsActive.Inc()
}

// RunFinished implements engine.RunObserver.
func (m *Metrics) RunFinished(result *engine.ExecutionResult) {
	m.runsActive.Dec()
	status := string(result.Status)
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(result.CompletedAt.Sub(result.StartedAt).Seconds())
}

// ObserveCompile records one compilation. Warnings are counted by code; a
// failed compilation is labelled with its error code when it has one.
func (m *Metrics) ObserveCompile(d time.Duration, warnings []schema.ValidationIssue, err error) {
	m.compileDuration.Observe(d.Seconds())
	for _, w := range warnings {
		m.compileWarnings.WithLabelValues(w.Code).Inc()
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		var fe *schema.FlowError
		if errors.As(err, &fe) {
			outcome = fe.Code
		}
	}
	m.compilesTotal.WithLabelValues(outcome).Inc()
}
