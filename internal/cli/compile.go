package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/concord/internal/compiler"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string
}

// CompilationResult holds the compiled document schemas.
type CompilationResult struct {
	Schemas []*compiler.Schema `json:"schemas"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <schema-path>",
		Short: "Compile CUE document schemas",
		Long: `Compile CUE document schemas into field and constraint declarations.

The path is a .cue file or a directory searched recursively. Every
document under the top-level "document" struct is compiled, validated
and printed; --output writes the declarations as JSON.

Any schema error exits with code 2.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(newFormatter(rootOpts, cmd), args[0], opts.Output)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the compiled schemas to this JSON file")

	return cmd
}

func runCompile(f *OutputFormatter, path, output string) error {
	loaded, issues, err := loadSchemaIssues(f, path)
	if err != nil {
		return err
	}
	if len(issues) > 0 {
		return writeIssues(f, "✗ Compilation failed", issues, issues, ExitCommandError)
	}

	result := CompilationResult{Schemas: loaded.Schemas}
	if output != "" {
		if err := writeSchemas(result, output); err != nil {
			return f.Fail(ExitCommandError, ErrCodeWriteFailed, err.Error())
		}
		f.VerboseLog("Wrote %d schema(s) to %s", len(result.Schemas), output)
	}

	if f.isJSON() {
		return f.Success(result)
	}

	w := f.Writer
	fmt.Fprintf(w, "✓ Compiled %d document(s)\n\n", len(result.Schemas))
	for _, s := range result.Schemas {
		fmt.Fprintf(w, "%s v%d\n", s.Name, s.Version)
		for _, field := range s.Fields {
			fmt.Fprintf(w, "  %-16s %-14s %s\n", field.Name, field.Strategy, field.Type)
		}
		for _, c := range s.Constraints {
			fmt.Fprintf(w, "  constraint %s: %s %s on %v\n", c.Name, c.Category, c.Kind, c.Fields)
		}
		fmt.Fprintln(w)
	}
	if output != "" {
		fmt.Fprintf(w, "Wrote schemas to %s\n", output)
	}
	return nil
}

func writeSchemas(result CompilationResult, path string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode schemas: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
