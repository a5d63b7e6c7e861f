package evolution

import (
	"fmt"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/crdt"
)

// mvEpoch shifts mapped multi-value stamps far below every real Lamport
// time, so any write made after the migration wins.
const mvEpoch = int64(1) << 62

// Migrate converts state to strategy to. It never mutates state.
// Unsafe transitions return a *LockedError.
func Migrate(state crdt.State, to crdt.Strategy) (crdt.State, error) {
	from := state.Strategy()
	if Check(from, to) == Unsafe {
		return nil, &LockedError{From: from, To: to}
	}
	if from == to {
		return crdt.Clone(state), nil
	}

	switch s := state.(type) {
	case *crdt.ImmutableState:
		return immutableToLWW(s), nil
	case *crdt.MVRegisterState:
		return mvToLWW(s), nil
	case *crdt.RGAState:
		return crdt.NewTextFromRGA(s), nil
	}
	return nil, fmt.Errorf("migrate %s to %s: %w", from, to, crdt.ErrTypeMismatch)
}

// immutableToLWW maps the stamp (t, a) to (-t, invert(a)). The map reverses
// the stamp order, so the first-write winner of any merge of immutable
// states is still the winner after migration, and every post-migration
// write (positive time) beats it.
func immutableToLWW(s *crdt.ImmutableState) crdt.State {
	v, stamp, ok := s.Get()
	if !ok {
		return crdt.MustNew(crdt.LWW)
	}
	return crdt.NewLWW(v, clock.Stamp{Time: -stamp.Time, Actor: stamp.Actor.Invert()})
}

// mvToLWW keeps the entry with the greatest (clock sum, canonical clock).
// A dominated clock has a strictly smaller sum, so the winner of a merge is
// the greater of the two winners.
func mvToLWW(s *crdt.MVRegisterState) crdt.State {
	var (
		best  crdt.MVEntry
		found bool
	)
	for _, e := range s.Entries() {
		if !found || mvLess(best, e) {
			best, found = e, true
		}
	}
	if !found {
		return crdt.MustNew(crdt.LWW)
	}
	return crdt.NewLWW(best.Value, clock.Stamp{
		Time:  best.Clock.Sum() - mvEpoch,
		Actor: clock.ActorID(best.Clock.Key()),
	})
}

func mvLess(a, b crdt.MVEntry) bool {
	return clock.TotalOrderLess(a.Clock.Sum(), clock.ActorID(a.Clock.Key()), b.Clock.Sum(), clock.ActorID(b.Clock.Key()))
}

// Translate rewrites op, prepared against a from field, into the operation
// with the same effect on a field migrated to strategy to:
//
//	Migrate(apply(s, op), to) == apply(Migrate(s, to), Translate(op))
//
// Stamps are mapped the way Migrate maps them. The result carries
// op.Revision+1 when the strategy changes.
func Translate(op crdt.Operation, from, to crdt.Strategy) (crdt.Operation, error) {
	if Check(from, to) == Unsafe {
		return crdt.Operation{}, &LockedError{Field: op.Field, From: from, To: to}
	}
	if from == to {
		return op, nil
	}

	out := op
	out.Revision = op.Revision + 1
	switch p := op.Payload.(type) {
	case crdt.Assign:
		if from != crdt.Immutable {
			break
		}
		out.Stamp = clock.Stamp{Time: -op.Stamp.Time, Actor: op.Stamp.Actor.Invert()}
		return out, nil
	case crdt.MVAssign:
		if from != crdt.MVRegister {
			break
		}
		out.Stamp = clock.Stamp{Time: p.Clock.Sum() - mvEpoch, Actor: clock.ActorID(p.Clock.Key())}
		out.Payload = crdt.Assign{Value: p.Value}
		return out, nil
	case crdt.Insert, crdt.Delete:
		if from != crdt.RGA {
			break
		}
		return out, nil
	}
	return crdt.Operation{}, fmt.Errorf("translate %s operation from %s to %s: %w", op.Payload.Kind(), from, to, crdt.ErrTypeMismatch)
}
