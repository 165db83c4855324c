package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rendis/flowforge/internal/diagram"
	"github.com/rendis/flowforge/internal/store"
)

type diagramOptions struct {
	format string
	out    string
	runID  string
	title  string
}

func newDiagramCmd(c *cli) *cobra.Command {
	opts := &diagramOptions{}
	cmd := &cobra.Command{
		Use:   "diagram <graph-file>",
		Short: "Draw a workflow graph",
		Long: `Diagram draws a graph as ASCII, Mermaid, SVG, PNG or graphviz DOT. With --run
the node states of a recorded run are drawn over it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiagram(cmd, c.app, opts, args[0])
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.format, "format", "f", "ascii", "ascii, mermaid, svg, png or dot")
	f.StringVarP(&opts.out, "out", "o", "", "write to this file instead of stdout")
	f.StringVar(&opts.runID, "run", "", "overlay the node states of this run")
	f.StringVar(&opts.title, "title", "", "diagram title (default: file name)")
	return cmd
}

func runDiagram(cmd *cobra.Command, a *app, opts *diagramOptions, path string) error {
	ctx := cmd.Context()
	def, err := readGraph(path, cmd.InOrStdin())
	if err != nil {
		return err
	}

	var states map[string]*store.NodeState
	if opts.runID != "" {
		st, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		entries, err := st.Entries(ctx, opts.runID)
		if err != nil {
			return err
		}
		if states, err = store.Snapshot(entries); err != nil {
			return err
		}
	}

	model, err := diagram.Build(def, states)
	if err != nil {
		return err
	}
	model.Title = opts.title
	if model.Title == "" && path != "-" {
		model.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	var data []byte
	switch opts.format {
	case "ascii":
		data = []byte(diagram.RenderASCII(model))
	case "mermaid":
		data = []byte(diagram.RenderMermaid(model))
	case "svg", "png", "dot":
		if data, err = diagram.RenderGraphviz(ctx, model, diagram.Format(opts.format)); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown format %q", opts.format)
	}

	if opts.out != "" {
		return os.WriteFile(opts.out, data, 0o644)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
