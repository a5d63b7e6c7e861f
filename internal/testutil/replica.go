package testutil

import (
	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/crdt"
)

// Replica is a single-field replica for exercising value types directly,
// without a document around them.
type Replica struct {
	Actor clock.ActorID
	Clock *clock.Lamport
	State crdt.State
	Field string
}

// NewReplica creates a replica holding the bottom state of strategy.
func NewReplica(actor clock.ActorID, strategy crdt.Strategy) *Replica {
	return &Replica{
		Actor: actor,
		Clock: clock.NewLamport(),
		State: crdt.MustNew(strategy),
		Field: "f",
	}
}

// Local prepares intent, applies it locally and returns the operation to
// broadcast.
func (r *Replica) Local(intent crdt.Intent) (crdt.Operation, error) {
	stamp := clock.Stamp{Time: r.Clock.Tick(), Actor: r.Actor}
	p, err := crdt.Prepare(r.State, r.Actor, stamp, intent)
	if err != nil {
		return crdt.Operation{}, err
	}
	op := crdt.Operation{Actor: r.Actor, Stamp: stamp, Field: r.Field, Payload: p}
	if _, err := crdt.Apply(r.State, op); err != nil {
		return crdt.Operation{}, err
	}
	return op, nil
}

// MustLocal is like Local but panics on error.
func (r *Replica) MustLocal(intent crdt.Intent) crdt.Operation {
	op, err := r.Local(intent)
	if err != nil {
		panic(err)
	}
	return op
}

// Deliver applies a remote operation and advances the clock past it.
func (r *Replica) Deliver(op crdt.Operation) (bool, error) {
	r.Clock.Receive(op.Stamp.Time)
	return crdt.Apply(r.State, op)
}
