package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <graph-file>",
		Short: "Validate a workflow graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := readGraph(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			res := c.app.validator.Validate(def)
			if err := writeJSON(cmd.OutOrStdout(), map[string]any{
				"valid":    res.Valid(),
				"errors":   res.Errors,
				"warnings": res.Warnings,
			}); err != nil {
				return err
			}
			if !res.Valid() {
				return fmt.Errorf("%s: %d error(s)", args[0], len(res.Errors))
			}
			return nil
		},
	}
}
