package escrow

import (
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/concord/internal/clock"
)

// Budget is one actor's share of the confirmed total.
type Budget struct {
	Actor     clock.ActorID `json:"actor"`
	Allocated int64         `json:"allocated"`
	Consumed  int64         `json:"consumed"`
}

// Available returns the unconsumed part of the allocation.
func (b Budget) Available() int64 {
	return b.Allocated - b.Consumed
}

// Overdraft records a reconciliation whose confirmed total could not cover
// the consumption carried across the round trip. The shortfall has already
// happened; it is surfaced so the application can compensate.
type Overdraft struct {
	Generation uint64
	Shortfall  int64
}

// Totals summarizes a ledger.
type Totals struct {
	Confirmed int64
	Allocated int64
	Consumed  int64
}

// Ledger is one document's escrow state.
//
// Thread-safety: all methods are safe for concurrent use. Consume is a
// guarded increment under the ledger mutex.
type Ledger struct {
	mu         sync.Mutex
	confirmed  int64
	budgets    map[clock.ActorID]*Budget
	generation uint64
	overdrafts []Overdraft
}

// Split divides total into fair shares, one per actor. Actors are ordered
// by id and the remainder goes one unit each to the lowest ids, so every
// replica computes the same split.
func Split(total int64, actors []clock.ActorID) map[clock.ActorID]int64 {
	sorted := slices.Clone(actors)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	shares := make(map[clock.ActorID]int64, len(sorted))
	if len(sorted) == 0 {
		return shares
	}
	n := int64(len(sorted))
	base, rem := total/n, total%n
	for i, a := range sorted {
		shares[a] = base
		if int64(i) < rem {
			shares[a]++
		}
	}
	return shares
}

// NewLedger creates a ledger with confirmedTotal split across actors.
func NewLedger(confirmedTotal int64, actors ...clock.ActorID) (*Ledger, error) {
	if confirmedTotal < 0 {
		return nil, fmt.Errorf("%w: confirmed total %d", ErrInvalidAmount, confirmedTotal)
	}
	for _, a := range actors {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("escrow actor %q: %w", a, err)
		}
	}
	l := &Ledger{confirmed: confirmedTotal, budgets: map[clock.ActorID]*Budget{}}
	for a, share := range Split(confirmedTotal, actors) {
		l.budgets[a] = &Budget{Actor: a, Allocated: share}
	}
	return l, nil
}

// Restore rebuilds a ledger from persisted budgets. The budgets are trusted
// to satisfy the ledger invariants; Restore checks them and fails if not.
func Restore(confirmedTotal int64, budgets []Budget) (*Ledger, error) {
	if confirmedTotal < 0 {
		return nil, fmt.Errorf("%w: confirmed total %d", ErrInvalidAmount, confirmedTotal)
	}
	l := &Ledger{confirmed: confirmedTotal, budgets: map[clock.ActorID]*Budget{}}
	var allocated int64
	for _, b := range budgets {
		if b.Consumed < 0 || b.Consumed > b.Allocated {
			return nil, fmt.Errorf("%w: actor %s consumed %d of %d", ErrInvalidAmount, b.Actor, b.Consumed, b.Allocated)
		}
		// Compared against the headroom so the running sum cannot overflow.
		if b.Allocated > confirmedTotal-allocated {
			return nil, fmt.Errorf("%w: allocations exceed confirmed %d", ErrInvalidAmount, confirmedTotal)
		}
		allocated += b.Allocated
		cp := b
		l.budgets[b.Actor] = &cp
	}
	return l, nil
}

// Consume charges amount to actor's budget iff it fits.
// On rejection nothing is charged and an *ExceededError is returned.
func (l *Ledger) Consume(actor clock.ActorID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: consume %d", ErrInvalidAmount, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.budgets[actor]
	if !ok {
		return &ExceededError{Actor: actor, Requested: amount, Available: 0}
	}
	if amount > b.Allocated-b.Consumed {
		return &ExceededError{Actor: actor, Requested: amount, Available: b.Available()}
	}
	b.Consumed += amount
	return nil
}

// Refund returns previously consumed budget, for example when an admitted
// operation could not be applied. At most the consumed amount is returned.
func (l *Ledger) Refund(actor clock.ActorID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: refund %d", ErrInvalidAmount, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.budgets[actor]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownActor, actor)
	}
	b.Consumed -= min(amount, b.Consumed)
	return nil
}

// Available returns actor's remaining budget, 0 for unknown actors.
func (l *Ledger) Available(actor clock.ActorID) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.budgets[actor]; ok {
		return b.Available()
	}
	return 0
}

// Budget returns a copy of actor's budget.
func (l *Ledger) Budget(actor clock.ActorID) (Budget, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.budgets[actor]
	if !ok {
		return Budget{}, false
	}
	return *b, true
}

// Budgets returns copies of every budget ordered by actor.
func (l *Ledger) Budgets() []Budget {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.budgetsLocked()
}

func (l *Ledger) budgetsLocked() []Budget {
	out := make([]Budget, 0, len(l.budgets))
	for _, b := range l.budgets {
		out = append(out, *b)
	}
	slices.SortFunc(out, func(a, b Budget) int { return a.Actor.Compare(b.Actor) })
	return out
}

// Actors returns the actors holding budgets, in id order.
func (l *Ledger) Actors() []clock.ActorID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.actorsLocked()
}

func (l *Ledger) actorsLocked() []clock.ActorID {
	out := make([]clock.ActorID, 0, len(l.budgets))
	for a := range l.budgets {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}

// Totals returns the confirmed total and the sums over all budgets.
func (l *Ledger) Totals() Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := Totals{Confirmed: l.confirmed}
	for _, b := range l.budgets {
		t.Allocated += b.Allocated
		t.Consumed += b.Consumed
	}
	return t
}

// ConfirmedTotal returns the last confirmed total.
func (l *Ledger) ConfirmedTotal() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.confirmed
}

// IsLow reports whether actor's remaining budget is at or below percent of
// its allocation. An empty or missing allocation is always low.
func (l *Ledger) IsLow(actor clock.ActorID, percent int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.budgets[actor]
	if !ok || b.Allocated == 0 {
		return true
	}
	p := int64(min(max(percent, 0), 100))
	threshold := b.Allocated/100*p + b.Allocated%100*p/100
	return b.Available() <= threshold
}

// Overdrafts returns every overdraft recorded so far.
func (l *Ledger) Overdrafts() []Overdraft {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.overdrafts)
}

// Generation counts committed reconciliations.
func (l *Ledger) Generation() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generation
}
