package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newCompileCmd(c *cli) *cobra.Command {
	var (
		out     string
		noCheck bool
	)
	cmd := &cobra.Command{
		Use:   "compile <graph-file>",
		Short: "Compile a workflow graph into TypeScript",
		Long: `Compile emits one freestanding TypeScript module for a graph. Constructs that
do not compile are replaced by TODO comments and reported as warnings on
stderr.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := c.app
			def, err := readGraph(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			res, err := a.compiler(noCheck).Compile(cmd.Context(), def)
			if err != nil {
				return err
			}
			for _, w := range res.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s %s: %s\n", w.Code, w.Path, w.Message)
			}
			if out == "" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), res.Source)
				return err
			}
			if err := os.WriteFile(out, []byte(res.Source), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the source to this file")
	cmd.Flags().BoolVar(&noCheck, "no-check", false, "skip the syntax check of the generated source")
	return cmd
}
