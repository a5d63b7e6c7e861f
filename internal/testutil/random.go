package testutil

import (
	"fmt"
	"math/rand"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/crdt"
	"github.com/roach88/concord/internal/ir"
)

// History is a randomly generated multi-replica run.
// Ops holds every operation in the order it was issued.
type History struct {
	Strategy crdt.Strategy
	Replicas []*Replica
	Ops      []crdt.Operation
}

// GenerateHistory runs steps random local mutations across n replicas of
// strategy. Between mutations replicas randomly receive some of the
// operations issued elsewhere, so the history mixes causally ordered and
// concurrent operations.
func GenerateHistory(rng *rand.Rand, strategy crdt.Strategy, n, steps int) *History {
	h := &History{Strategy: strategy}
	for i := 0; i < n; i++ {
		h.Replicas = append(h.Replicas, NewReplica(clock.ActorID(fmt.Sprintf("r%d", i)), strategy))
	}
	delivered := make([]int, n)

	for step := 0; step < steps; step++ {
		r := rng.Intn(n)
		rep := h.Replicas[r]

		// Partial catch-up keeps some ops concurrent.
		if len(h.Ops) > delivered[r] && rng.Intn(2) == 0 {
			upto := delivered[r] + 1 + rng.Intn(len(h.Ops)-delivered[r])
			for _, op := range h.Ops[delivered[r]:upto] {
				if op.Actor != rep.Actor {
					_, _ = rep.Deliver(op)
				}
			}
			delivered[r] = upto
		}

		intent := RandomIntent(rng, rep.State)
		if intent == nil {
			continue
		}
		op, err := rep.Local(intent)
		if err != nil {
			continue
		}
		h.Ops = append(h.Ops, op)
	}
	return h
}

// RandomIntent picks an intent that is valid against state, or nil if the
// state offers nothing to do (e.g. delete from an empty sequence).
func RandomIntent(rng *rand.Rand, state crdt.State) crdt.Intent {
	v := RandomValue(rng)
	switch st := state.(type) {
	case *crdt.ImmutableState, *crdt.LWWState, *crdt.MVRegisterState:
		return crdt.Set{Value: v}
	case *crdt.ORSetState:
		if rng.Intn(3) == 0 {
			return crdt.Remove{Value: v}
		}
		return crdt.Add{Value: v}
	case *crdt.CounterState:
		if rng.Intn(2) == 0 {
			return crdt.Decrement{Amount: int64(1 + rng.Intn(5))}
		}
		return crdt.Increment{Amount: int64(1 + rng.Intn(5))}
	case *crdt.RGAState:
		return sequenceIntent(rng, st.Len(), v)
	case *crdt.TextState:
		n := st.Chars().Len()
		if n > 0 && rng.Intn(4) == 0 {
			start := rng.Intn(n)
			end := start + 1 + rng.Intn(n-start)
			expands := []crdt.Expand{crdt.ExpandNone, crdt.ExpandAfter, crdt.ExpandBefore, crdt.ExpandBoth}
			var val ir.Value = ir.Bool(true)
			if rng.Intn(3) == 0 {
				val = ir.Null{}
			}
			return crdt.Format{
				Start:  start,
				End:    end,
				Mark:   []string{"bold", "italic"}[rng.Intn(2)],
				Value:  val,
				Expand: expands[rng.Intn(len(expands))],
			}
		}
		return sequenceIntent(rng, n, ir.String(string(rune('a'+rng.Intn(26)))))
	}
	return nil
}

func sequenceIntent(rng *rand.Rand, n int, v ir.Value) crdt.Intent {
	if n > 0 && rng.Intn(3) == 0 {
		return crdt.DeleteAt{Index: rng.Intn(n)}
	}
	return crdt.InsertAt{Index: rng.Intn(n + 1), Value: v}
}

// RandomValue returns a small value so that collisions between replicas
// are frequent.
func RandomValue(rng *rand.Rand) ir.Value {
	switch rng.Intn(4) {
	case 0:
		return ir.Int(rng.Intn(5))
	case 1:
		return ir.String([]string{"x", "y", "z"}[rng.Intn(3)])
	case 2:
		return ir.Bool(rng.Intn(2) == 0)
	default:
		return ir.Object{"k": ir.Int(rng.Intn(3))}
	}
}

// Shuffled returns a random permutation of ops, optionally with some
// operations duplicated to simulate re-delivery.
func Shuffled(rng *rand.Rand, ops []crdt.Operation, duplicate bool) []crdt.Operation {
	out := append([]crdt.Operation(nil), ops...)
	if duplicate {
		for _, op := range ops {
			if rng.Intn(4) == 0 {
				out = append(out, op)
			}
		}
	}
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// Replay applies ops in order to a fresh state of strategy.
func Replay(strategy crdt.Strategy, ops []crdt.Operation) (crdt.State, error) {
	st := crdt.MustNew(strategy)
	for _, op := range ops {
		if _, err := crdt.Apply(st, op); err != nil {
			return nil, err
		}
	}
	return st, nil
}
