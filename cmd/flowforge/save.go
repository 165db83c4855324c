package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rendis/flowforge/internal/scheduler"
	"github.com/rendis/flowforge/internal/store"
)

func newSaveCmd(c *cli) *cobra.Command {
	var id, name, description string
	cmd := &cobra.Command{
		Use:   "save <graph-file>",
		Short: "Validate and store a workflow graph",
		Long: `Save stores a graph under a workflow id and registers the cron schedules of
its triggers. Saving under an existing id replaces the graph.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := c.app
			ctx := cmd.Context()
			def, err := readGraph(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			res := a.validator.Validate(def)
			if err := res.ToError(); err != nil {
				return err
			}
			for _, w := range res.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s %s: %s\n", w.Code, w.Path, w.Message)
			}

			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			if id == "" {
				id = uuid.NewString()
			}
			wf := &store.Workflow{ID: id, Name: name, Description: description, Graph: *def}
			if err := st.SaveWorkflow(ctx, wf); err != nil {
				return err
			}
			if err := scheduler.NewScheduler(st, nil, a.cfg.interval(), a.logger).Sync(ctx, wf); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), wf.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&id, "id", "", "workflow id (default: a new id)")
	f.StringVar(&name, "name", "", "workflow name")
	f.StringVar(&description, "description", "", "workflow description")
	return cmd
}
