package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/concord/internal/clock"
)

// Request is what a reconciliation reports to the quorum.
type Request struct {
	DocumentID     string
	Requester      clock.ActorID
	Generation     uint64
	ConfirmedTotal int64
	Actors         []clock.ActorID
	Consumed       map[clock.ActorID]int64
}

// Quorum is the external collaborator that confirms consumption and returns
// the authoritative confirmed total. It must honour ctx cancellation.
type Quorum interface {
	Reconcile(ctx context.Context, req Request) (int64, error)
}

// QuorumFunc adapts a function to the Quorum interface.
type QuorumFunc func(ctx context.Context, req Request) (int64, error)

// Reconcile implements Quorum.
func (f QuorumFunc) Reconcile(ctx context.Context, req Request) (int64, error) {
	return f(ctx, req)
}

// Permanent marks a quorum error as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Default reconciliation timings.
const (
	DefaultAttemptTimeout  = 5 * time.Second
	DefaultMaxElapsed      = 30 * time.Second
	DefaultInitialInterval = 100 * time.Millisecond
	DefaultMaxInterval     = 5 * time.Second
)

// Reconciler runs reconciliation rounds against a Quorum.
//
// Concurrent Reconcile calls for the same document share one round trip.
// Thread-safety: safe for concurrent use.
type Reconciler struct {
	quorum          Quorum
	requester       clock.ActorID
	logger          *slog.Logger
	attemptTimeout  time.Duration
	maxElapsed      time.Duration
	initialInterval time.Duration
	maxInterval     time.Duration
	group           singleflight.Group
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithAttemptTimeout bounds each quorum round trip.
func WithAttemptTimeout(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.attemptTimeout = d }
}

// WithMaxElapsed bounds the total time spent retrying.
func WithMaxElapsed(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.maxElapsed = d }
}

// WithRetryIntervals sets the initial and maximum backoff intervals.
func WithRetryIntervals(initial, maximum time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		r.initialInterval = initial
		r.maxInterval = maximum
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = l }
}

// NewReconciler creates a reconciler for the local actor requester.
func NewReconciler(q Quorum, requester clock.ActorID, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		quorum:          q,
		requester:       requester,
		logger:          slog.Default(),
		attemptTimeout:  DefaultAttemptTimeout,
		maxElapsed:      DefaultMaxElapsed,
		initialInterval: DefaultInitialInterval,
		maxInterval:     DefaultMaxInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile runs one round for documentID's ledger: snapshot, ask the
// quorum (retrying with exponential backoff), then commit.
//
// No ledger lock is held while waiting on the quorum. If ctx is cancelled
// or retries run out, the ledger is unchanged and the call is safe to
// repeat. Exhausted retries are reported as ErrReconciliationTimeout.
func (r *Reconciler) Reconcile(ctx context.Context, documentID string, ledger *Ledger) (Result, error) {
	v, err, shared := r.group.Do(documentID, func() (any, error) {
		return r.reconcile(ctx, documentID, ledger)
	})
	if shared {
		r.logger.Debug("reconciliation coalesced", "document", documentID)
	}
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (r *Reconciler) reconcile(ctx context.Context, documentID string, ledger *Ledger) (Result, error) {
	round := ledger.Begin()
	req := Request{
		DocumentID:     documentID,
		Requester:      r.requester,
		Generation:     round.Generation,
		ConfirmedTotal: round.ConfirmedTotal,
		Actors:         round.Actors,
		Consumed:       round.Reported,
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.MaxInterval = r.maxInterval

	attempts := 0
	permanent := false
	confirmed, err := backoff.Retry(ctx, func() (int64, error) {
		attempts++
		actx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
		defer cancel()
		total, err := r.quorum.Reconcile(actx, req)
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			permanent = true
		}
		return total, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(r.maxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Warn("reconciliation attempt failed",
				"document", documentID,
				"attempt", attempts,
				"retry_in", next,
				"error", err)
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, fmt.Errorf("reconcile %s: %w", documentID, ctxErr)
		}
		if permanent {
			return Result{}, fmt.Errorf("reconcile %s: %w", documentID, err)
		}
		return Result{}, fmt.Errorf("%w: document %s after %d attempts: %v", ErrReconciliationTimeout, documentID, attempts, err)
	}

	res, err := ledger.Commit(round, confirmed)
	if err != nil {
		return Result{}, fmt.Errorf("reconcile %s: %w", documentID, err)
	}
	if res.Overdraft != nil {
		r.logger.Warn("reconciliation overdraft",
			"document", documentID,
			"generation", res.Generation,
			"shortfall", res.Overdraft.Shortfall)
	}
	r.logger.Info("reconciliation committed",
		"document", documentID,
		"generation", res.Generation,
		"confirmed_total", res.ConfirmedTotal,
		"attempts", attempts)
	return res, nil
}
