package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rendis/flowforge/internal/actions"
	"github.com/rendis/flowforge/internal/codegen"
	"github.com/rendis/flowforge/internal/engine"
	"github.com/rendis/flowforge/internal/plugins"
	"github.com/rendis/flowforge/internal/secrets"
	"github.com/rendis/flowforge/internal/store"
	"github.com/rendis/flowforge/internal/validation"
)

const saltSize = 16

// app carries what every command shares: configuration, logger, the step
// registry and the graph validator. The store is opened only by commands
// that need it.
type app struct {
	cfg       Config
	logger    *slog.Logger
	registry  *actions.Registry
	validator *validation.GraphValidator
	plugins   *plugins.Manager
}

func newApp(ctx context.Context, cfg Config) (*app, error) {
	logger := newLogger(cfg.LogLevel)

	schemas, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return nil, fmt.Errorf("init schemas: %w", err)
	}
	reg := actions.NewRegistry(schemas)
	err = actions.RegisterBuiltins(reg, actions.BuiltinConfig{
		Logger: logger,
		Retry: &actions.RetryPolicy{
			MaxAttempts: 3,
			Delay:       "500ms",
			Backoff:     "exponential",
			MaxDelay:    "5s",
		},
		Breakers: actions.NewBreakers(actions.DefaultBreakerConfig()),
	})
	if err != nil {
		return nil, fmt.Errorf("register builtin steps: %w", err)
	}

	pm := plugins.NewManager(reg, logger)
	for _, pc := range cfg.Plugins {
		if err := pm.Load(ctx, pc); err != nil {
			logger.Warn("plugin not loaded", slog.String("plugin", pc.Name), slog.String("error", err.Error()))
		}
	}

	gv, err := validation.NewGraphValidator(reg)
	if err != nil {
		_ = pm.StopAll()
		return nil, fmt.Errorf("init validator: %w", err)
	}
	return &app{cfg: cfg, logger: logger, registry: reg, validator: gv, plugins: pm}, nil
}

func (a *app) close() error {
	return a.plugins.StopAll()
}

// openStore opens and migrates the libSQL database at cfg.DBPath.
func (a *app) openStore(ctx context.Context) (*store.LibSQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(a.cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore("file:" + a.cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate %s: %w", a.cfg.DBPath, err)
	}
	return st, nil
}

// vault opens the credential vault over st. Without a passphrase there is no
// vault and nodes that declare a credentialRef fail.
func (a *app) vault(st secrets.SecretStore) (*secrets.AESVault, error) {
	if a.cfg.VaultPassphrase == "" {
		return nil, nil
	}
	salt, err := loadSalt(a.cfg.saltPath())
	if err != nil {
		return nil, err
	}
	return secrets.NewAESVault(st, secrets.VaultConfig{
		Passphrase: a.cfg.VaultPassphrase,
		Salt:       salt,
	})
}

// executor builds an interpreter. A nil st keeps the log in memory and
// records no runs.
func (a *app) executor(st store.Store, observer engine.RunObserver) (*engine.Executor, error) {
	cfg := engine.Config{
		Registry:  a.registry,
		Validator: a.validator,
		Observer:  observer,
		Logger:    a.logger,
	}
	if st != nil {
		cfg.Log = st
		cfg.Runs = st
		v, err := a.vault(st)
		if err != nil {
			return nil, err
		}
		if v != nil {
			cfg.Credentials = v
		}
	}
	return engine.NewExecutor(cfg)
}

func (a *app) compiler(skipCheck bool) *codegen.Compiler {
	return codegen.NewCompiler(codegen.Config{
		Steps:           a.registry,
		Logger:          a.logger,
		SkipSyntaxCheck: skipCheck,
	})
}

// loadSalt reads the vault salt, creating it on first use.
func loadSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) < saltSize {
			return nil, fmt.Errorf("vault salt %s is truncated", path)
		}
		return salt, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read vault salt: %w", err)
	}

	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate vault salt: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("write vault salt: %w", err)
	}
	return salt, nil
}
