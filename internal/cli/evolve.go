package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/concord/internal/compiler"
)

// EvolveOptions holds flags for the evolve command.
type EvolveOptions struct {
	*RootOptions
	Document string // optional - check one document only
}

// DocumentEvolution is the verdict for one document.
type DocumentEvolution struct {
	Document    string                 `json:"document"`
	FromVersion int                    `json:"from_version"`
	ToVersion   int                    `json:"to_version"`
	Changes     []compiler.FieldChange `json:"changes"`
	Safe        bool                   `json:"safe"`
	Errors      []string               `json:"errors,omitempty"`
}

// EvolveResult holds the overall evolution report.
type EvolveResult struct {
	Documents []DocumentEvolution `json:"documents"`
	Added     []string            `json:"added,omitempty"`
	Removed   []string            `json:"removed,omitempty"`
	Safe      bool                `json:"safe"`
}

// NewEvolveCommand creates the evolve command.
func NewEvolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "evolve <old-schema-path> <new-schema-path>",
		Short: "Check that a schema change is safe to deploy",
		Long: `Compare two versions of the document schemas and decide whether the
new version may replace the old one on running replicas.

Every document present in both versions needs a greater version number
and may only change field strategies along safe transitions
(immutable -> lww, mv_register -> lww, rga -> peritext).

Exit codes:
  0 - All changes are safe
  1 - At least one change is unsafe (E220) or misversioned (E221)
  2 - Command error (schema not found, compile error, etc.)

Examples:
  concord evolve ./schemas/v1 ./schemas/v2
  concord evolve old.cue new.cue --document Account --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvolve(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Document, "document", "", "check a single document")

	return cmd
}

func runEvolve(opts *EvolveOptions, oldPath, newPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	prev, err := loadAll(oldPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, errorCode(err), err.Error())
	}
	next, err := loadAll(newPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, errorCode(err), err.Error())
	}

	result := EvolveResult{Documents: []DocumentEvolution{}, Safe: true}
	for _, s := range next.Schemas {
		if opts.Document != "" && s.Name != opts.Document {
			continue
		}
		old, ok := prev.Schema(s.Name)
		if !ok {
			result.Added = append(result.Added, s.Name)
			continue
		}
		formatter.VerboseLog("Checking %s v%d -> v%d", s.Name, old.Version, s.Version)

		doc := DocumentEvolution{
			Document:    s.Name,
			FromVersion: old.Version,
			ToVersion:   s.Version,
			Changes:     compiler.Diff(old, s),
			Safe:        true,
		}
		if _, err := compiler.CheckEvolution(old, s); err != nil {
			doc.Safe = false
			doc.Errors = evolutionErrors(err)
			result.Safe = false
		}
		result.Documents = append(result.Documents, doc)
	}
	for _, s := range prev.Schemas {
		if opts.Document != "" && s.Name != opts.Document {
			continue
		}
		if _, ok := next.Schema(s.Name); !ok {
			result.Removed = append(result.Removed, s.Name)
		}
	}

	if opts.Document != "" && len(result.Documents) == 0 && len(result.Added) == 0 && len(result.Removed) == 0 {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("document %s not found in either version", opts.Document))
	}

	if opts.Format == "json" {
		return outputEvolveJSON(cmd, result)
	}
	return outputEvolveText(cmd, result)
}

// loadAll loads schemas and fails on the first problem.
func loadAll(path string) (*LoadResult, error) {
	res, errs := LoadSchemas(path, LoadModeFailFast)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return res, nil
}

func errorCode(err error) string {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code
	}
	return ErrCodeGeneric
}

func evolutionErrors(err error) []string {
	var verrs compiler.ValidationErrors
	var everr *compiler.EvolutionError
	switch {
	case errors.As(err, &everr):
		verrs = everr.Errors
	case errors.As(err, &verrs):
	default:
		return []string{err.Error()}
	}
	out := make([]string, len(verrs))
	for i, e := range verrs {
		out[i] = e.Error()
	}
	return out
}

// outputEvolveJSON outputs the evolution report as JSON.
func outputEvolveJSON(cmd *cobra.Command, result EvolveResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if !result.Safe {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    compiler.ErrSchemaLocked,
			Message: "schema evolution rejected",
		}
	}
	if err := writeJSON(cmd.OutOrStdout(), response); err != nil {
		return err
	}
	if !result.Safe {
		return NewExitError(ExitFailure, "schema evolution rejected")
	}
	return nil
}

// outputEvolveText outputs the evolution report as text.
func outputEvolveText(cmd *cobra.Command, result EvolveResult) error {
	w := cmd.OutOrStdout()

	for _, doc := range result.Documents {
		status := "✓"
		if !doc.Safe {
			status = "✗"
		}
		fmt.Fprintf(w, "%s %s v%d -> v%d\n", status, doc.Document, doc.FromVersion, doc.ToVersion)
		for _, c := range doc.Changes {
			switch {
			case c.From == "":
				fmt.Fprintf(w, "  + %s (%s)\n", c.Field, c.To)
			case c.To == "":
				fmt.Fprintf(w, "  - %s (%s)\n", c.Field, c.From)
			default:
				fmt.Fprintf(w, "  ~ %s: %s -> %s [%s] %s\n", c.Field, c.From, c.To, c.Verdict, c.Note)
			}
		}
		for _, e := range doc.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	for _, name := range result.Added {
		fmt.Fprintf(w, "+ %s (new document)\n", name)
	}
	for _, name := range result.Removed {
		fmt.Fprintf(w, "- %s (removed document)\n", name)
	}
	fmt.Fprintln(w)

	if !result.Safe {
		fmt.Fprintln(w, "✗ Schema evolution rejected")
		return NewExitError(ExitFailure, "schema evolution rejected")
	}
	fmt.Fprintln(w, "✓ Schema evolution is safe")
	return nil
}
