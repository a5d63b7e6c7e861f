package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/crdt"
	"github.com/roach88/concord/internal/document"
	"github.com/roach88/concord/internal/harness"
	"github.com/roach88/concord/internal/ir"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	ReplicaOptions

	Field  string
	Value  string // JSON, or a bare string
	Amount int64
	Index  int
	End    int
	Mark   string
	Expand string

	// Escrow is attached only when the document is new.
	EscrowTotal  int64
	EscrowActors []string
}

// ApplyResult describes the outcome of one local mutation.
type ApplyResult struct {
	Document  string `json:"document"`
	Field     string `json:"field"`
	Intent    string `json:"intent"`
	Outcome   string `json:"outcome"`
	ID        string `json:"id,omitempty"`
	Stamp     string `json:"stamp,omitempty"`
	Operation string `json:"operation,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply <op>",
		Short: "Apply a local mutation to a stored document",
		Long: `Apply one local mutation as --actor and print the emitted operation.

Ops: set, add, remove, increment, decrement, insert, delete, format.
The operation is printed as one canonical JSON line that "concord run"
on another replica accepts on its input. Rejected mutations change
nothing and exit with code 1.

Examples:
  concord apply increment --db a.db --schema account.cue --document Account --actor A --field balance --amount 10
  concord apply add --db a.db --schema account.cue --document Account --actor A --field tags --value '"vip"'
  concord apply decrement --db a.db --schema account.cue --document Account --actor A --field balance --amount 5 \
      --escrow 100 --escrow-actor A --escrow-actor B`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(opts, args[0], cmd)
		},
	}

	addReplicaFlags(cmd, &opts.ReplicaOptions)
	cmd.Flags().StringVar(&opts.Field, "field", "", "field to mutate (required)")
	_ = cmd.MarkFlagRequired("field")
	cmd.Flags().StringVar(&opts.Value, "value", "", "value as JSON; anything that is not JSON is a string")
	cmd.Flags().Int64Var(&opts.Amount, "amount", 0, "counter amount")
	cmd.Flags().IntVar(&opts.Index, "index", 0, "sequence index, or format start")
	cmd.Flags().IntVar(&opts.End, "end", 0, "format end (exclusive)")
	cmd.Flags().StringVar(&opts.Mark, "mark", "", "format mark name")
	cmd.Flags().StringVar(&opts.Expand, "expand", "", "format expansion (none|after|before|both)")
	cmd.Flags().Int64Var(&opts.EscrowTotal, "escrow", 0, "escrow total for a new document")
	cmd.Flags().StringSliceVar(&opts.EscrowActors, "escrow-actor", nil, "actor sharing the escrow (repeatable)")

	return cmd
}

// addReplicaFlags registers the flags that locate a stored document.
func addReplicaFlags(cmd *cobra.Command, opts *ReplicaOptions) {
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Schema, "schema", "", "CUE schema file or directory (required)")
	cmd.Flags().StringVar(&opts.Document, "document", "", "schema document name (required)")
	cmd.Flags().StringVar(&opts.ID, "id", "", "document id (defaults to the document name)")
	cmd.Flags().StringVar(&opts.Actor, "actor", "", "local actor id (required)")
	for _, name := range []string{"db", "schema", "document", "actor"} {
		_ = cmd.MarkFlagRequired(name)
	}
}

// parseValue reads a flag value as JSON, falling back to a plain string.
func parseValue(s string) ir.Value {
	if s == "" {
		return ir.Null{}
	}
	if v, err := ir.UnmarshalValue([]byte(s)); err == nil {
		return v
	}
	return ir.String(s)
}

func runApply(opts *ApplyOptions, op string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	intent, err := harness.BuildIntent(harness.Step{
		Op:     op,
		Value:  parseValue(opts.Value),
		Amount: opts.Amount,
		Index:  opts.Index,
		End:    opts.End,
		Mark:   opts.Mark,
		Expand: opts.Expand,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid mutation", err)
	}

	r, err := openReplica(ctx, opts.ReplicaOptions, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open replica", err)
	}

	if r.created && opts.EscrowTotal > 0 {
		actors := make([]clock.ActorID, len(opts.EscrowActors))
		for i, a := range opts.EscrowActors {
			actors[i] = clock.ActorID(a)
		}
		if err := r.engine.SetEscrow(r.id, opts.EscrowTotal, actors...); err != nil {
			_ = r.close(ctx)
			return WrapExitError(ExitCommandError, "failed to attach escrow", err)
		}
	}

	result := ApplyResult{Document: r.id, Field: opts.Field, Intent: intent.Name()}
	ack, applyErr := r.engine.ApplyLocal(ctx, r.id, opts.Field, intent)
	if closeErr := r.close(ctx); closeErr != nil {
		return WrapExitError(ExitCommandError, "failed to save replica", closeErr)
	}

	switch {
	case applyErr != nil:
		for _, reason := range []document.Reason{
			document.ReasonEscrowExceeded,
			document.ReasonTypeMismatch,
			document.ReasonSchemaLocked,
			document.ReasonInvalidIntent,
		} {
			if document.IsRejected(applyErr, reason) {
				result.Outcome = "rejected"
				result.Reason = string(reason)
				break
			}
		}
		if result.Outcome == "" {
			return WrapExitError(ExitCommandError, "apply failed", applyErr)
		}
		return outputApply(cmd, opts.Format, result, applyErr)
	case !ack.Emitted:
		result.Outcome = "noop"
	default:
		data, err := crdt.MarshalOperation(ack.Op)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to encode operation", err)
		}
		result.Outcome = "emitted"
		result.ID = ack.ID
		result.Stamp = ack.Op.Stamp.String()
		result.Operation = string(data)
	}
	return outputApply(cmd, opts.Format, result, nil)
}

func outputApply(cmd *cobra.Command, format string, result ApplyResult, rejected error) error {
	w := cmd.OutOrStdout()
	if format == "json" {
		response := CLIResponse{Status: "ok", Data: result}
		if rejected != nil {
			response.Status = "error"
			response.Error = &CLIError{Code: result.Reason, Message: rejected.Error()}
		}
		if err := writeJSON(w, response); err != nil {
			return err
		}
	} else {
		switch result.Outcome {
		case "emitted":
			// The bare operation line is the text output so it can be piped.
			fmt.Fprintln(w, result.Operation)
		case "noop":
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %s: no change\n", result.Intent, result.Field)
		default:
			fmt.Fprintf(cmd.ErrOrStderr(), "✗ %s %s rejected: %s\n", result.Intent, result.Field, strings.TrimSpace(rejected.Error()))
		}
	}
	if rejected != nil {
		return WrapExitError(ExitFailure, "mutation rejected", rejected)
	}
	return nil
}
