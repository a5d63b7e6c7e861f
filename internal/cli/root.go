package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/concord/internal/ir"
)

// RootOptions holds the persistent flags every command reads.
type RootOptions struct {
	Verbose bool
	Format  string // one of ValidFormats
}

// ValidFormats lists the accepted --format values.
var ValidFormats = []string{"text", "json"}

// NewRootCommand builds the concord command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	root := &cobra.Command{
		Use:   "concord",
		Short: "concord - conflict-free document replication",
		Long: `Tools for concord replicas: compile and evolve CUE document schemas,
apply and ingest operations against a SQLite replica, inspect and replay
operation logs, and run convergence scenarios.`,
		Version:       ir.EngineVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}
	root.SetVersionTemplate(fmt.Sprintf("concord {{.Version}} (encoding v%s)\n", ir.FormatVersion))

	flags := root.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "write diagnostics to stderr")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")

	for _, newCmd := range []func(*RootOptions) *cobra.Command{
		NewCompileCommand,
		NewValidateCommand,
		NewEvolveCommand,
		NewApplyCommand,
		NewRunCommand,
		NewTraceCommand,
		NewReplayCommand,
		NewTestCommand,
	} {
		root.AddCommand(newCmd(opts))
	}
	return root
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// newLogger returns a slog text logger on w. Only warnings pass unless
// verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
