package escrow

import (
	"fmt"

	"github.com/roach88/concord/internal/clock"
)

// Round is a snapshot taken when a reconciliation starts. It records how
// much each actor had consumed, which is what gets reported to the quorum.
type Round struct {
	Generation     uint64
	ConfirmedTotal int64
	Actors         []clock.ActorID
	Reported       map[clock.ActorID]int64
}

// Result describes a committed reconciliation.
type Result struct {
	Generation     uint64
	ConfirmedTotal int64
	Budgets        []Budget
	Overdraft      *Overdraft
}

// Begin snapshots the ledger for a reconciliation round. It does not change
// the ledger; consumption continues against the current budgets.
func (l *Ledger) Begin() Round {
	l.mu.Lock()
	defer l.mu.Unlock()
	reported := make(map[clock.ActorID]int64, len(l.budgets))
	for a, b := range l.budgets {
		reported[a] = b.Consumed
	}
	return Round{
		Generation:     l.generation,
		ConfirmedTotal: l.confirmed,
		Actors:         l.actorsLocked(),
		Reported:       reported,
	}
}

// Commit atomically swaps in the budgets derived from the quorum's new
// confirmed total.
//
// Consumption that happened after Begin was not reported, so it is carried:
//
//	carry_i     = consumed_i − reported_i
//	pool        = confirmed − Σ carry
//	allocated_i = carry_i + share_i(pool)
//	consumed_i  = carry_i
//
// If the pool is negative the quorum confirmed less than was spent in
// flight; every actor keeps only its carry, and an Overdraft is recorded.
func (l *Ledger) Commit(round Round, confirmed int64) (Result, error) {
	if confirmed < 0 {
		return Result{}, fmt.Errorf("%w: confirmed total %d", ErrInvalidAmount, confirmed)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if round.Generation != l.generation {
		return Result{}, fmt.Errorf("%w: round %d, ledger at %d", ErrStaleRound, round.Generation, l.generation)
	}
	return l.commitLocked(round.Reported, confirmed), nil
}

func (l *Ledger) commitLocked(reported map[clock.ActorID]int64, confirmed int64) Result {
	carry := make(map[clock.ActorID]int64, len(l.budgets))
	var carried int64
	for a, b := range l.budgets {
		// A report outside [0, consumed] carries nothing or everything.
		c := b.Consumed - min(max(reported[a], 0), b.Consumed)
		carry[a] = c
		carried += c
	}

	l.generation++
	res := Result{Generation: l.generation, ConfirmedTotal: confirmed}

	pool := confirmed - carried
	if pool < 0 {
		res.Overdraft = &Overdraft{Generation: l.generation, Shortfall: -pool}
		l.overdrafts = append(l.overdrafts, *res.Overdraft)
		pool = 0
	}

	shares := Split(pool, l.actorsLocked())
	for a, b := range l.budgets {
		b.Allocated = carry[a] + shares[a]
		b.Consumed = carry[a]
	}
	l.confirmed = confirmed
	res.Budgets = l.budgetsLocked()
	return res
}

// ApplyReconciliation applies a confirmed total pushed by the quorum
// collaborator outside a locally started round. All consumption up to now
// is treated as confirmed. actor joins the ledger if it had no budget.
func (l *Ledger) ApplyReconciliation(actor clock.ActorID, confirmed int64) (Result, error) {
	if confirmed < 0 {
		return Result{}, fmt.Errorf("%w: confirmed total %d", ErrInvalidAmount, confirmed)
	}
	if err := actor.Validate(); err != nil {
		return Result{}, fmt.Errorf("escrow actor %q: %w", actor, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.budgets[actor]; !ok {
		l.budgets[actor] = &Budget{Actor: actor}
	}
	reported := make(map[clock.ActorID]int64, len(l.budgets))
	for a, b := range l.budgets {
		reported[a] = b.Consumed
	}
	return l.commitLocked(reported, confirmed), nil
}
