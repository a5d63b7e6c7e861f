package escrow

import (
	"errors"
	"fmt"

	"github.com/roach88/concord/internal/clock"
)

var (
	// ErrEscrowExceeded is matched by every *ExceededError.
	ErrEscrowExceeded = errors.New("escrow exceeded")

	// ErrReconciliationTimeout is returned when the quorum could not be
	// reached before retries ran out. Local operations keep running under
	// the stale budget.
	ErrReconciliationTimeout = errors.New("reconciliation timeout")

	// ErrUnknownActor is returned for actors without a budget.
	ErrUnknownActor = errors.New("unknown escrow actor")

	// ErrStaleRound is returned when a round is committed after another
	// reconciliation already replaced the budgets it was based on.
	ErrStaleRound = errors.New("stale reconciliation round")

	// ErrInvalidAmount is returned for negative amounts and totals.
	ErrInvalidAmount = errors.New("invalid escrow amount")
)

// ExceededError reports a consumption that does not fit the actor's budget.
// The operation is rejected visibly; nothing is consumed.
type ExceededError struct {
	Actor     clock.ActorID
	Requested int64
	Available int64
}

// Error implements the error interface.
func (e *ExceededError) Error() string {
	return fmt.Sprintf("escrow exceeded: actor %s requested %d, available %d", e.Actor, e.Requested, e.Available)
}

// Is makes errors.Is(err, ErrEscrowExceeded) match.
func (e *ExceededError) Is(target error) bool {
	return target == ErrEscrowExceeded
}

// IsExceeded returns true if err is or wraps an escrow rejection.
func IsExceeded(err error) bool {
	var ee *ExceededError
	return errors.As(err, &ee)
}
