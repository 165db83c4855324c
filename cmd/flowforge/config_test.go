package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/flowforge/internal/scheduler"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := loadConfigFrom(filepath.Join(t.TempDir(), "missing.json"), envMap(nil))

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "flowforge.db", filepath.Base(cfg.DBPath))
	assert.Empty(t, cfg.VaultPassphrase)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Equal(t, scheduler.DefaultInterval, cfg.interval())
}

func TestLoadConfig_Layering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	settings := `{"db_path": "/data/ff.db", "log_level": "debug", "metrics_addr": ":9100", "schedule_interval": "30s"}`
	assert.NoError(t, os.WriteFile(path, []byte(settings), 0o600))

	cfg := loadConfigFrom(path, envMap(map[string]string{
		"FLOWFORGE_LOG_LEVEL":        "warn",
		"FLOWFORGE_VAULT_PASSPHRASE": "hunter2",
	}))

	assert.Equal(t, "/data/ff.db", cfg.DBPath)
	assert.Equal(t, "warn", cfg.LogLevel, "env beats settings file")
	assert.Equal(t, "hunter2", cfg.VaultPassphrase)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
	assert.Equal(t, 30*time.Second, cfg.interval())
	assert.Equal(t, "/data/vault.salt", cfg.saltPath())
}

func TestLoadConfig_BadSettingsKeepDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	assert.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	cfg := loadConfigFrom(path, envMap(nil))
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestConfigInterval_Invalid(t *testing.T) {
	for _, v := range []string{"", "soon", "-5s", "0s"} {
		assert.Equal(t, scheduler.DefaultInterval, Config{ScheduleInterval: v}.interval(), v)
	}
}

func TestLoadSalt_CreatesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "vault.salt")

	first, err := loadSalt(path)
	assert.NoError(t, err)
	assert.Len(t, first, saltSize)

	second, err := loadSalt(path)
	assert.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadConfig_Plugins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	settings := `{"plugins": [{"name": "mail", "command": "/usr/local/bin/mail-mcp", "args": ["--stdio"]}]}`
	assert.NoError(t, os.WriteFile(path, []byte(settings), 0o600))

	cfg := loadConfigFrom(path, envMap(nil))
	if assert.Len(t, cfg.Plugins, 1) {
		assert.Equal(t, "mail", cfg.Plugins[0].Name)
		assert.Equal(t, []string{"--stdio"}, cfg.Plugins[0].Args)
	}
}
