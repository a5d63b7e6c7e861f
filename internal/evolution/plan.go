package evolution

import (
	"errors"
	"fmt"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/crdt"
	"github.com/roach88/concord/internal/ir"
)

// Func is a custom migration. It must be deterministic, must not mutate its
// input and must commute with merge.
type Func func(crdt.State) (crdt.State, error)

// Plan migrates one field from one strategy to another.
type Plan struct {
	Field string
	From  crdt.Strategy
	To    crdt.Strategy
	// Func overrides the built-in migration of a safe transition.
	Func Func
}

// Apply migrates state according to the plan.
func (p Plan) Apply(state crdt.State) (crdt.State, error) {
	if state.Strategy() != p.From {
		return nil, fmt.Errorf("field %q is %s, plan expects %s: %w", p.Field, state.Strategy(), p.From, crdt.ErrTypeMismatch)
	}
	if Check(p.From, p.To) == Unsafe {
		return nil, &LockedError{Field: p.Field, From: p.From, To: p.To}
	}
	if p.Func == nil {
		out, err := Migrate(state, p.To)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", p.Field, err)
		}
		return out, nil
	}
	out, err := p.Func(crdt.Clone(state))
	if err != nil {
		return nil, fmt.Errorf("field %q: migrate: %w", p.Field, err)
	}
	if out == nil || out.Strategy() != p.To {
		return nil, fmt.Errorf("field %q: migration produced %v, want %s: %w", p.Field, strategyOf(out), p.To, crdt.ErrTypeMismatch)
	}
	return out, nil
}

// Validate checks a set of plans at schema-compile time. Unsafe transitions
// are *LockedError; custom functions are probed on sample states for
// determinism and for commuting with merge. All problems are joined.
func Validate(plans []Plan) error {
	var errs []error
	seen := map[string]bool{}
	for _, p := range plans {
		if seen[p.Field] {
			errs = append(errs, fmt.Errorf("field %q: more than one migration", p.Field))
			continue
		}
		seen[p.Field] = true

		if !p.From.Valid() || !p.To.Valid() {
			errs = append(errs, fmt.Errorf("field %q: %s -> %s: %w", p.Field, p.From, p.To, crdt.ErrUnknownStrategy))
			continue
		}
		if Check(p.From, p.To) == Unsafe {
			errs = append(errs, &LockedError{Field: p.Field, From: p.From, To: p.To})
			continue
		}
		if p.Func != nil {
			if err := probe(p); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// ErrNondeterministic is returned when a custom migration fails the probe.
var ErrNondeterministic = errors.New("migration is not deterministic")

func probe(p Plan) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("field %q: %s: %w", p.Field, fmt.Sprintf(format, args...), ErrNondeterministic)
	}

	states, err := Samples(p.From)
	if err != nil {
		return err
	}
	migrated := make([]crdt.State, len(states))
	for i, st := range states {
		first, err := p.Apply(st)
		if err != nil {
			return err
		}
		second, err := p.Apply(st)
		if err != nil {
			return err
		}
		if !crdt.Equal(first, second) {
			return fail("sample %d: two runs disagree", i)
		}
		migrated[i] = first
	}

	for i := range states {
		for j := i + 1; j < len(states); j++ {
			merged, err := crdt.Merge(states[i], states[j])
			if err != nil {
				return err
			}
			lhs, err := p.Apply(merged)
			if err != nil {
				return err
			}
			rhs, err := crdt.Merge(migrated[i], migrated[j])
			if err != nil {
				return err
			}
			if !crdt.Equal(lhs, rhs) {
				return fail("samples %d and %d: migration does not commute with merge", i, j)
			}
		}
	}
	return nil
}

// Samples returns small states of strategy s: the bottom state and the
// successive states of two replicas writing concurrently. Each replica's
// writes build on its own earlier ones, as real histories do.
func Samples(s crdt.Strategy) ([]crdt.State, error) {
	writes := []struct {
		actor clock.ActorID
		time  int64
		value string
	}{
		{"A", 1, "a"},
		{"B", 1, "b"},
		{"A", 2, "c"},
	}

	out := []crdt.State{crdt.MustNew(s)}
	replicas := map[clock.ActorID]crdt.State{}
	for _, w := range writes {
		st, ok := replicas[w.actor]
		if !ok {
			var err error
			if st, err = crdt.New(s); err != nil {
				return nil, err
			}
			replicas[w.actor] = st
		}
		stamp := clock.Stamp{Time: w.time, Actor: w.actor}
		payload, err := crdt.Prepare(st, w.actor, stamp, sampleIntent(s, w.value))
		if err != nil {
			return nil, fmt.Errorf("sample %s: %w", s, err)
		}
		if _, err := crdt.Apply(st, crdt.Operation{Actor: w.actor, Stamp: stamp, Field: "sample", Payload: payload}); err != nil {
			return nil, fmt.Errorf("sample %s: %w", s, err)
		}
		out = append(out, crdt.Clone(st))
	}
	return out, nil
}

func sampleIntent(s crdt.Strategy, v string) crdt.Intent {
	switch s {
	case crdt.ORSet:
		return crdt.Add{Value: ir.String(v)}
	case crdt.PNCounter:
		return crdt.Increment{Amount: int64(len(v))}
	case crdt.RGA, crdt.Peritext:
		return crdt.InsertAt{Index: 0, Value: ir.String(v)}
	}
	return crdt.Set{Value: ir.String(v)}
}

func strategyOf(s crdt.State) any {
	if s == nil {
		return "nil"
	}
	return s.Strategy()
}
