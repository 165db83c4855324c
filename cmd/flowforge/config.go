package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rendis/flowforge/internal/logging"
	"github.com/rendis/flowforge/internal/plugins"
	"github.com/rendis/flowforge/internal/scheduler"
)

// Config holds all flowforge configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath           string `json:"db_path"`
	LogLevel         string `json:"log_level"`
	VaultPassphrase  string `json:"vault_passphrase,omitempty"`
	MetricsAddr      string `json:"metrics_addr"`
	ScheduleInterval string `json:"schedule_interval"`
	// Plugins are MCP servers whose tools become action types. Settings
	// file only.
	Plugins []plugins.PluginConfig `json:"plugins,omitempty"`
}

func defaultConfig() Config {
	return Config{
		DBPath:           filepath.Join(flowforgeDir(), "flowforge.db"),
		LogLevel:         "info",
		ScheduleInterval: scheduler.DefaultInterval.String(),
	}
}

func flowforgeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowforge"
	}
	return filepath.Join(home, ".flowforge")
}

func settingsPath() string {
	return filepath.Join(flowforgeDir(), "settings.json")
}

func loadConfig() Config {
	return loadConfigFrom(settingsPath(), os.Getenv)
}

func loadConfigFrom(path string, getenv func(string) string) Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := getenv("FLOWFORGE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("FLOWFORGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("FLOWFORGE_VAULT_PASSPHRASE"); v != "" {
		cfg.VaultPassphrase = v
	}
	if v := getenv("FLOWFORGE_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := getenv("FLOWFORGE_SCHEDULE_INTERVAL"); v != "" {
		cfg.ScheduleInterval = v
	}
	return cfg
}

// interval parses ScheduleInterval; an unparsable value falls back to the
// scheduler default.
func (c Config) interval() time.Duration {
	d, err := time.ParseDuration(c.ScheduleInterval)
	if err != nil || d <= 0 {
		return scheduler.DefaultInterval
	}
	return d
}

// saltPath is where the vault key derivation salt lives, next to the database.
func (c Config) saltPath() string {
	return filepath.Join(filepath.Dir(c.DBPath), "vault.salt")
}

// newLogger builds the process logger. Logs go to stderr so stdout stays free
// for command output and the MCP stdio transport.
func newLogger(level string) *slog.Logger {
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logging.ParseLevel(level)})
	return slog.New(logging.NewCorrelationHandler(h))
}
