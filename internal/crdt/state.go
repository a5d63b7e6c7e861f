package crdt

import (
	"bytes"
	"fmt"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/ir"
)

// State is a sealed interface over the replicated value types.
// Only the state types in this package implement it.
type State interface {
	Strategy() Strategy

	clone() State
	join(other State)
	apply(op Operation) (bool, error)
	read() ir.Value
	encode() ir.Value
}

// collector is implemented by states that keep tombstones.
type collector interface {
	collect(epoch clock.Epoch) int
}

// New returns the bottom state of a strategy.
func New(s Strategy) (State, error) {
	switch s {
	case Immutable:
		return &ImmutableState{}, nil
	case LWW:
		return &LWWState{}, nil
	case ORSet:
		return newORSet(), nil
	case PNCounter:
		return newCounter(), nil
	case RGA:
		return newRGA(), nil
	case MVRegister:
		return &MVRegisterState{}, nil
	case Peritext:
		return newText(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// MustNew is like New but panics on an unknown strategy.
func MustNew(s Strategy) State {
	st, err := New(s)
	if err != nil {
		panic(err)
	}
	return st
}

// Apply applies op to state in place and reports whether the state moved.
// Re-applying an operation returns false.
func Apply(state State, op Operation) (bool, error) {
	if op.Payload == nil {
		return false, fmt.Errorf("%w: missing payload", ErrInvalidOperation)
	}
	if !Accepts(state.Strategy(), op.Payload) {
		return false, fmt.Errorf("%w: %s payload on %s field", ErrTypeMismatch, op.Payload.Kind(), state.Strategy())
	}
	return state.apply(op)
}

// Merge returns the least upper bound of a and b without modifying either.
func Merge(a, b State) (State, error) {
	if a.Strategy() != b.Strategy() {
		return nil, fmt.Errorf("%w: merge %s with %s", ErrTypeMismatch, a.Strategy(), b.Strategy())
	}
	out := a.clone()
	out.join(b)
	return out, nil
}

// Clone returns an independent deep copy of state.
func Clone(state State) State {
	return state.clone()
}

// Read returns the materialized value of state.
//
//	immutable, lww: the value, or Null if never written
//	or_set:         Array of visible elements in canonical order
//	pn_counter:     Int
//	rga:            Array of visible elements in sequence order
//	mv_register:    Array of concurrent values in canonical order
//	peritext:       Object{"text": String, "spans": Array}
func Read(state State) ir.Value {
	return state.read()
}

// Encode returns the canonical encoding of state. Equal states have equal
// encodings on every replica.
func Encode(state State) ([]byte, error) {
	return ir.MarshalCanonical(state.encode())
}

// Equal reports whether a and b are the same strategy with identical
// encodings.
func Equal(a, b State) bool {
	if a.Strategy() != b.Strategy() {
		return false
	}
	ea, err := Encode(a)
	if err != nil {
		return false
	}
	eb, err := Encode(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}

// Leq reports whether a ≤ b in the lattice order, i.e. merge(a, b) = b.
func Leq(a, b State) bool {
	m, err := Merge(a, b)
	if err != nil {
		return false
	}
	return Equal(m, b)
}

// Collect drops tombstones whose deletion is covered by epoch and returns
// how many were collected. Strategies without tombstones return 0.
//
// Callers must only pass a causally stable epoch, and must not re-deliver
// operations already folded into the state afterwards.
func Collect(state State, epoch clock.Epoch) int {
	if c, ok := state.(collector); ok {
		return c.collect(epoch)
	}
	return 0
}

// Singleton returns the state holding exactly one operation.
func Singleton(s Strategy, op Operation) (State, error) {
	st, err := New(s)
	if err != nil {
		return nil, err
	}
	if _, err := Apply(st, op); err != nil {
		return nil, err
	}
	return st, nil
}

// normalize maps a nil Value to Null so encodings never see nil.
func normalize(v ir.Value) ir.Value {
	if v == nil {
		return ir.Null{}
	}
	return v
}
