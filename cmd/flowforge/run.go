package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rendis/flowforge/internal/engine"
	"github.com/rendis/flowforge/internal/store"
	"github.com/rendis/flowforge/pkg/schema"
)

type runOptions struct {
	input      string
	triggers   []string
	workflowID string
	ephemeral  bool
}

func newRunCmd(c *cli) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [graph-file]",
		Short: "Interpret a workflow graph against live steps",
		Long: `Run interprets a graph file (JSON, or YAML by extension; "-" reads stdin) or a
saved workflow, and prints the result of every node.

The run and its execution log are recorded in the database unless
--ephemeral is set.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, c.app, opts, args)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.input, "input", "i", "", "trigger input as JSON, or @file")
	f.StringSliceVarP(&opts.triggers, "trigger", "t", nil, "run only these triggers")
	f.StringVarP(&opts.workflowID, "workflow", "w", "", "run a saved workflow instead of a file")
	f.BoolVar(&opts.ephemeral, "ephemeral", false, "keep the execution log in memory")
	return cmd
}

func runRun(cmd *cobra.Command, a *app, opts *runOptions, args []string) error {
	ctx := cmd.Context()
	if opts.ephemeral && opts.workflowID != "" {
		return fmt.Errorf("--workflow needs the database; drop --ephemeral")
	}
	if opts.workflowID == "" && len(args) == 0 {
		return fmt.Errorf("a graph file or --workflow is required")
	}

	input, err := parseInput(opts.input)
	if err != nil {
		return err
	}

	var st store.Store
	if !opts.ephemeral {
		db, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()
		st = db
	}

	var def *schema.Graph
	if opts.workflowID != "" {
		wf, err := st.GetWorkflow(ctx, opts.workflowID)
		if err != nil {
			return err
		}
		def = &wf.Graph
	} else if def, err = readGraph(args[0], cmd.InOrStdin()); err != nil {
		return err
	}

	ex, err := a.executor(st, nil)
	if err != nil {
		return err
	}
	result, err := ex.RunWith(ctx, def, input, engine.RunOptions{
		RunID:      uuid.NewString(),
		WorkflowID: opts.workflowID,
		TriggerIDs: opts.triggers,
	})
	if err != nil {
		return err
	}
	if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
		return err
	}
	if result.Status != schema.RunStatusSucceeded {
		return fmt.Errorf("run %s %s: failed nodes %v", result.RunID, result.Status, result.Failed())
	}
	return nil
}
