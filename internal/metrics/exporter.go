package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readHeaderTimeout = 10 * time.Second

// Exporter serves a registry over HTTP at /metrics, with /health for probes.
// Extra routes mounted with Handle share the listener.
type Exporter struct {
	addr     string
	registry *prometheus.Registry

	mu     sync.Mutex
	server *http.Server
	routes map[string]http.Handler
}

// NewExporter creates a registry holding m plus the Go runtime and process
// collectors.
func NewExporter(addr string, m *Metrics) *Exporter {
	reg := prometheus.NewRegistry()
	reg.MustRegister(m.Collectors()...)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Exporter{addr: addr, registry: reg}
}

// Registry returns the underlying registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handle mounts h at pattern. Routes added after Start are not served.
func (e *Exporter) Handle(pattern string, h http.Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.routes == nil {
		e.routes = make(map[string]http.Handler)
	}
	e.routes[pattern] = h
}

// Handler returns the mux serving /metrics, /health and the mounted routes.
func (e *Exporter) Handler() http.Handler {
	mux := http.NewServeMux()
	e.mu.Lock()
	for pattern, h := range e.routes {
		mux.Handle(pattern, h)
	}
	e.mu.Unlock()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (e *Exporter) Start() error {
	handler := e.Handler()
	e.mu.Lock()
	if e.server != nil {
		e.mu.Unlock()
		return errors.New("metrics: exporter already started")
	}
	e.server = &http.Server{
		Addr:              e.addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	srv := e.server
	e.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	srv := e.server
	e.server = nil
	e.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
