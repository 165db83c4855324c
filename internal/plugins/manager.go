// Package plugins registers the tools of external MCP servers as steps. A
// tool "send" of plugin "mail" becomes the action type "mail.send"; generated
// source imports it from "@flowforge/plugins/mail".
package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/flowforge/internal/actions"
	"github.com/rendis/flowforge/internal/logging"
	"github.com/rendis/flowforge/pkg/schema"
)

// ModulePrefix is the import path prefix of plugin steps in generated source.
const ModulePrefix = "@flowforge/plugins/"

// Plugin statuses.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusStopped   = "stopped"
)

const (
	healthInterval   = 30 * time.Second
	unhealthyAfter   = 3
	defaultCallLimit = 30 * time.Second
)

var validName = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Manager owns the client sessions of loaded plugins.
type Manager struct {
	registry *actions.Registry
	logger   *slog.Logger
	// CallTimeout bounds one tool call; zero means 30s.
	CallTimeout time.Duration

	mu      sync.RWMutex
	plugins map[string]*plugin
}

type plugin struct {
	name     string
	client   MCPClient
	steps    []string
	status   string
	errCount int
	lastErr  string
	cancel   context.CancelFunc
}

// NewManager creates a Manager registering into registry.
func NewManager(registry *actions.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		registry: registry,
		logger:   logger,
		plugins:  make(map[string]*plugin),
	}
}

// Load starts the plugin subprocess over stdio and attaches it.
func (m *Manager) Load(ctx context.Context, cfg PluginConfig) error {
	if cfg.Command == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "plugin %q has no command", cfg.Name)
	}
	c, err := client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	if err != nil {
		return fmt.Errorf("start plugin %q: %w", cfg.Name, err)
	}
	if err := m.Attach(ctx, cfg.Name, c); err != nil {
		_ = c.Close()
		return err
	}
	return nil
}

// Attach performs the MCP handshake on c, registers one step per tool and
// starts health checks. Tools whose action type is already taken are
// skipped.
func (m *Manager) Attach(ctx context.Context, name string, c MCPClient) error {
	if !validName.MatchString(name) {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid plugin name %q", name)
	}
	m.mu.Lock()
	if _, exists := m.plugins[name]; exists {
		m.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeConflict, "plugin %q already loaded", name)
	}
	p := &plugin{name: name, client: c, status: StatusHealthy}
	m.plugins[name] = p
	m.mu.Unlock()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "flowforge", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		m.forget(name)
		return fmt.Errorf("plugin %q handshake: %w", name, err)
	}

	tools, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		m.forget(name)
		return fmt.Errorf("plugin %q tools/list: %w", name, err)
	}

	var registered []string
	for _, tool := range tools.Tools {
		st := newToolStep(m, p, tool)
		if err := m.registry.Register(st); err != nil {
			m.logger.Warn("plugin tool skipped",
				slog.String("plugin", name),
				slog.String("tool", tool.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		registered = append(registered, st.Name())
	}

	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.mu.Lock()
	p.steps = registered
	p.cancel = cancel
	m.mu.Unlock()
	go m.healthLoop(hctx, p)

	m.logger.Info("plugin loaded", slog.String("plugin", name), slog.Int("steps", len(registered)))
	return nil
}

func (m *Manager) forget(name string) {
	m.mu.Lock()
	delete(m.plugins, name)
	m.mu.Unlock()
}

// healthLoop pings the plugin; after repeated failures it is marked
// unhealthy and its steps fail fast until a ping succeeds again.
func (m *Manager) healthLoop(ctx context.Context, p *plugin) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx, p)
		}
	}
}

func (m *Manager) check(ctx context.Context, p *plugin) {
	err := p.client.Ping(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if p.status == StatusStopped {
		return
	}
	if err == nil {
		p.errCount = 0
		p.lastErr = ""
		p.status = StatusHealthy
		return
	}
	p.errCount++
	p.lastErr = err.Error()
	if p.errCount >= unhealthyAfter && p.status != StatusUnhealthy {
		p.status = StatusUnhealthy
		m.logger.Warn("plugin unhealthy",
			slog.String("plugin", p.name),
			slog.Int("consecutive_errors", p.errCount),
			slog.String("error", p.lastErr),
		)
	}
}

// Stop closes the plugin's session. Its steps stay registered and fail.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	p, ok := m.plugins[name]
	if !ok {
		m.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeNotFound, "plugin %q not found", name)
	}
	p.status = StatusStopped
	if p.cancel != nil {
		p.cancel()
	}
	m.mu.Unlock()

	m.logger.Info("plugin stopped", slog.String("plugin", name))
	return p.client.Close()
}

// StopAll stops every plugin.
func (m *Manager) StopAll() error {
	m.mu.RLock()
	names := make([]string, 0, len(m.plugins))
	for name := range m.plugins {
		names = append(names, name)
	}
	m.mu.RUnlock()

	var firstErr error
	for _, name := range names {
		if err := m.Stop(name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Status returns the status of each plugin.
func (m *Manager) Status() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.plugins))
	for name, p := range m.plugins {
		out[name] = p.status
	}
	return out
}

// Steps returns the action types a plugin registered, sorted.
func (m *Manager) Steps(name string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plugins[name]
	if !ok {
		return nil
	}
	out := append([]string(nil), p.steps...)
	sort.Strings(out)
	return out
}

func (m *Manager) statusOf(p *plugin) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return p.status
}
