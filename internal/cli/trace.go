package cli

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/concord/internal/crdt"
	"github.com/roach88/concord/internal/ir"
	"github.com/roach88/concord/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	ID       string // document id; empty lists documents
	Field    string // optional - filter to one field
	Actor    string // optional - filter to one actor
}

// TraceEntry is one logged operation in the timeline.
type TraceEntry struct {
	Time      int64  `json:"time"`
	Actor     string `json:"actor"`
	Field     string `json:"field"`
	Kind      string `json:"kind"`
	ID        string `json:"id"`
	Operation string `json:"operation,omitempty"`
}

// TraceStats holds summary statistics for the timeline.
type TraceStats struct {
	Total   int            `json:"total"`
	ByActor map[string]int `json:"by_actor"`
	ByField map[string]int `json:"by_field"`
}

// TraceResult holds the operation timeline of one document.
type TraceResult struct {
	Document string       `json:"document"`
	Timeline []TraceEntry `json:"timeline"`
	Stats    TraceStats   `json:"stats"`
}

// DocumentSummary is one row of the document listing.
type DocumentSummary struct {
	ID         string `json:"id"`
	Operations int    `json:"operations"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the operation log of a stored document",
		Long: `Show the operation log of a stored document in delivery order
(Lamport time, then actor, then operation id).

Without --id, lists the stored documents and their log sizes.

Examples:
  concord trace --db ./a.db
  concord trace --db ./a.db --id Account
  concord trace --db ./a.db --id Account --field balance --actor B --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.ID, "id", "", "document id")
	cmd.Flags().StringVar(&opts.Field, "field", "", "filter to one field")
	cmd.Flags().StringVar(&opts.Actor, "actor", "", "filter to one actor")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.ID == "" {
		return listDocuments(ctx, st, opts, cmd)
	}

	ops, err := st.ReadOperations(ctx, opts.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read operations", err)
	}

	timeline, err := buildTimeline(ops, opts.Field, opts.Actor, opts.Verbose || opts.Format == "json")
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build timeline", err)
	}
	result := TraceResult{
		Document: opts.ID,
		Timeline: timeline,
		Stats:    traceStats(timeline),
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
	}
	return outputTraceText(cmd, result, opts.Verbose)
}

func listDocuments(ctx context.Context, st *store.Store, opts *TraceOptions, cmd *cobra.Command) error {
	ids, err := st.ListDocuments(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list documents", err)
	}
	docs := make([]DocumentSummary, 0, len(ids))
	for _, id := range ids {
		n, err := st.CountOperations(ctx, id)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to count operations", err)
		}
		docs = append(docs, DocumentSummary{ID: id, Operations: n})
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: docs})
	}
	w := cmd.OutOrStdout()
	if len(docs) == 0 {
		fmt.Fprintln(w, "No documents stored.")
		return nil
	}
	for _, d := range docs {
		fmt.Fprintf(w, "%s\t%d operation(s)\n", d.ID, d.Operations)
	}
	return nil
}

// buildTimeline converts logged operations into timeline entries, keeping
// only those matching the field and actor filters.
func buildTimeline(ops []crdt.Operation, field, actor string, withBody bool) ([]TraceEntry, error) {
	timeline := []TraceEntry{}
	for _, op := range ops {
		if field != "" && op.Field != field {
			continue
		}
		if actor != "" && string(op.Actor) != actor {
			continue
		}
		id, err := crdt.OperationID(op)
		if err != nil {
			return nil, err
		}
		entry := TraceEntry{
			Time:  op.Stamp.Time,
			Actor: string(op.Actor),
			Field: op.Field,
			Kind:  op.Payload.Kind(),
			ID:    id,
		}
		if withBody {
			v, err := crdt.OperationValue(op)
			if err != nil {
				return nil, err
			}
			entry.Operation = ir.Key(v)
		}
		timeline = append(timeline, entry)
	}
	return timeline, nil
}

func traceStats(timeline []TraceEntry) TraceStats {
	stats := TraceStats{
		Total:   len(timeline),
		ByActor: map[string]int{},
		ByField: map[string]int{},
	}
	for _, e := range timeline {
		stats.ByActor[e.Actor]++
		stats.ByField[e.Field]++
	}
	return stats
}

// outputTraceText outputs the timeline as text.
func outputTraceText(cmd *cobra.Command, result TraceResult, verbose bool) error {
	w := cmd.OutOrStdout()

	if len(result.Timeline) == 0 {
		fmt.Fprintf(w, "No operations found for document: %s\n", result.Document)
		return nil
	}

	fmt.Fprintf(w, "Document: %s\n\n", result.Document)
	for _, e := range result.Timeline {
		fmt.Fprintf(w, "%6d@%-8s %-16s %-12s %s\n", e.Time, e.Actor, e.Field, e.Kind, e.ID[:12])
		if verbose {
			fmt.Fprintf(w, "         %s\n", e.Operation)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Total: %d operation(s)\n", result.Stats.Total)
	for _, actor := range slices.Sorted(maps.Keys(result.Stats.ByActor)) {
		fmt.Fprintf(w, "  %s: %d\n", actor, result.Stats.ByActor[actor])
	}
	return nil
}
