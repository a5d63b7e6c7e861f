package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/concord/internal/constraint"
	"github.com/roach88/concord/internal/crdt"
	"github.com/roach88/concord/internal/engine"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ReplicaOptions

	Input       string // operation lines; "-" or empty is stdin
	MetricsAddr string
}

// RunResult summarizes one ingest session.
type RunResult struct {
	Document   string `json:"document"`
	Received   int    `json:"received"`
	Invalid    int    `json:"invalid"`
	Logged     int    `json:"logged"`
	Violations int    `json:"violations"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Host a replica and merge incoming operations",
		Long: `Host a stored document as --actor and merge remote operations.

Operations are read one canonical JSON line at a time, as printed by
"concord apply", and fed through the engine's inbound queue. Remote
operations are never rejected; eventual constraint violations are
reported on stderr. The document is saved when the input ends or the
process is interrupted.

Example:
  concord apply increment --db a.db ... | concord run --db b.db --schema account.cue --document Account --actor B
  concord run --db b.db --schema ./schemas --document Account --actor B --input ops.jsonl --metrics-addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplica(opts, cmd)
		},
	}

	addReplicaFlags(cmd, &opts.ReplicaOptions)
	cmd.Flags().StringVar(&opts.Input, "input", "-", "file of operation lines (- for stdin)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func runReplica(opts *RunOptions, cmd *cobra.Command) error {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	in, err := openInput(opts.Input, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open input", err)
	}
	defer in.Close()

	result := RunResult{}
	reg := prometheus.NewRegistry()
	r, err := openReplica(ctx, opts.ReplicaOptions, logger,
		engine.WithRegisterer(reg),
		engine.WithViolationHandler(func(documentID string, v constraint.Violation) {
			result.Violations++
			fmt.Fprintf(cmd.ErrOrStderr(), "violation: %s %s.%s: %s\n", v.Constraint, documentID, v.Field, v.Description)
		}),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open replica", err)
	}
	result.Document = r.id

	if opts.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
		logger.Info("serving metrics", "addr", opts.MetricsAddr)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	done := make(chan error, 1)
	go func() { done <- r.engine.Run(ctx) }()

	readErr := feed(ctx, in, r, &result, logger)
	// Stop drains what was queued before Run returns.
	r.engine.Stop()
	runErr := <-done
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// Saving uses a fresh context so an interrupt still persists the merge.
	saveCtx := context.WithoutCancel(ctx)
	if n, err := r.store.CountOperations(saveCtx, r.id); err == nil {
		result.Logged = n
	}
	if err := errors.Join(readErr, runErr, r.close(saveCtx)); err != nil {
		return WrapExitError(ExitFailure, "replica stopped with errors", err)
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: %d received, %d invalid, %d logged, %d violation(s)\n",
		result.Document, result.Received, result.Invalid, result.Logged, result.Violations)
	return nil
}

func openInput(path string, stdin io.Reader) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(stdin), nil
	}
	return os.Open(path)
}

// feed enqueues every operation line until the input ends or ctx is done.
// Lines that do not decode are counted and skipped.
func feed(ctx context.Context, in io.Reader, r *replica, result *RunResult, logger *slog.Logger) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		op, err := crdt.UnmarshalOperation([]byte(line))
		if err != nil {
			result.Invalid++
			logger.Warn("skipping invalid operation", "error", err)
			continue
		}
		result.Received++
		if !r.engine.Enqueue(engine.OperationEvent(r.id, op)) {
			return nil
		}
	}
	return scanner.Err()
}
