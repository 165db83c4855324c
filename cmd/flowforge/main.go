package main

import (
	"os"

	"github.com/spf13/cobra"
)

// cli holds the state resolved before any subcommand runs.
type cli struct {
	configPath string
	logLevel   string
	dbPath     string
	app        *app
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "flowforge",
		Short:         "Run, compile and draw workflow graphs",
		SilenceUsage:  true,
		SilenceErrors: false,
		Long: `FlowForge interprets workflow graphs of triggers, actions, conditions and
transforms against live steps, and compiles the same graphs into freestanding
TypeScript.

Configuration is read from ~/.flowforge/settings.json and FLOWFORGE_* env vars.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path := c.configPath
			if path == "" {
				path = settingsPath()
			}
			cfg := loadConfigFrom(path, os.Getenv)
			if c.logLevel != "" {
				cfg.LogLevel = c.logLevel
			}
			if c.dbPath != "" {
				cfg.DBPath = c.dbPath
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if c.app == nil {
				return nil
			}
			return c.app.close()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "settings file (default ~/.flowforge/settings.json)")
	pf.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&c.dbPath, "db", "", "database path")

	root.AddCommand(
		newRunCmd(c),
		newCompileCmd(c),
		newValidateCmd(c),
		newDiagramCmd(c),
		newSaveCmd(c),
		newSecretCmd(c),
		newServeCmd(c),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
