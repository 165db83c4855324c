package codegen

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/rendis/flowforge/pkg/schema"
)

// checkSyntax parses source with esbuild's TypeScript loader. Generated code
// that does not parse is a compiler defect, never a user error.
func checkSyntax(source string) error {
	res := api.Transform(source, api.TransformOptions{
		Loader:     api.LoaderTS,
		Format:     api.FormatESModule,
		Sourcefile: "workflow.ts",
		LogLevel:   api.LogLevelSilent,
	})
	if len(res.Errors) == 0 {
		return nil
	}

	msgs := make([]string, 0, len(res.Errors))
	for _, m := range res.Errors {
		if m.Location != nil {
			msgs = append(msgs, fmt.Sprintf("%d:%d: %s", m.Location.Line, m.Location.Column, m.Text))
		} else {
			msgs = append(msgs, m.Text)
		}
	}
	return schema.NewErrorf(schema.ErrCodeCodegenDefect, "generated source does not parse: %s", strings.Join(msgs, "; ")).
		WithDetails(map[string]any{"errors": msgs})
}
