package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// ValidationIssue is one problem found in a schema file.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult is the validate command's report.
type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Documents int               `json:"documents"`
	Errors    []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <schema-path>",
		Short: "Validate document schemas",
		Long: `Validate CUE document schemas without printing them.

Checks CUE syntax, required keys, strategy tags, type/strategy
compatibility and constraint declarations, reporting every problem
found rather than stopping at the first.

Exit codes:
  0 - All schemas valid
  1 - One or more problems found
  2 - The path could not be read`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(newFormatter(rootOpts, cmd), args[0])
		},
	}
}

func runValidate(f *OutputFormatter, path string) error {
	loaded, issues, err := loadSchemaIssues(f, path)
	if err != nil {
		return err
	}

	result := ValidationResult{Valid: len(issues) == 0, Documents: len(loaded.Schemas), Errors: issues}
	if !result.Valid {
		return writeIssues(f, "✗ Validation failed", result, issues, ExitFailure)
	}
	if f.isJSON() {
		return f.Success(result)
	}
	fmt.Fprintf(f.Writer, "✓ %d document schema(s) valid\n", result.Documents)
	return nil
}

// loadSchemaIssues loads every schema under path and converts per-file
// problems into issues. It fails outright only when path itself is unusable.
func loadSchemaIssues(f *OutputFormatter, path string) (*LoadResult, []ValidationIssue, error) {
	loaded, errs := LoadSchemas(path, LoadModeCollectAll)
	if loaded == nil {
		issue := toIssue(errs[0])
		return nil, nil, f.Fail(ExitCommandError, issue.Code, issue.Message)
	}
	f.VerboseLog("Found %d CUE file(s) in %s", loaded.FileCount, path)
	for _, s := range loaded.Schemas {
		f.VerboseLog("Loaded document: %s v%d", s.Name, s.Version)
	}

	var issues []ValidationIssue
	for _, err := range errs {
		issues = append(issues, toIssue(err))
	}
	return loaded, issues, nil
}

func toIssue(err error) ValidationIssue {
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		return ValidationIssue{Code: ErrCodeGeneric, Message: err.Error()}
	}
	issue := ValidationIssue{Code: loadErr.Code, Message: loadErr.Message}
	if loadErr.Pos.IsValid() {
		issue.File = loadErr.Pos.Filename()
		issue.Line = loadErr.Pos.Line()
	}
	return issue
}

// writeIssues reports issues under header and returns an ExitError with
// exit. In JSON mode data is the response payload.
func writeIssues(f *OutputFormatter, header string, data any, issues []ValidationIssue, exit int) error {
	summary := fmt.Sprintf("%d schema error(s)", len(issues))
	if f.isJSON() {
		err := writeJSON(f.Writer, CLIResponse{
			Status: "error",
			Data:   data,
			Error:  &CLIError{Code: issues[0].Code, Message: issues[0].Message},
		})
		if err != nil {
			return err
		}
		return NewExitError(exit, summary)
	}

	fmt.Fprintln(f.Writer, header)
	fmt.Fprintln(f.Writer)
	for _, issue := range issues {
		if issue.Line > 0 {
			fmt.Fprintf(f.Writer, "%s:%d\n", issue.File, issue.Line)
		}
		fmt.Fprintf(f.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
	}
	return NewExitError(exit, summary)
}
