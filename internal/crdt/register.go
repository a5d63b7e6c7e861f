package crdt

import (
	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/ir"
)

// register is the (value, stamp) pair shared by immutable and lww fields.
type register struct {
	value ir.Value
	stamp clock.Stamp
	set   bool
}

// Get returns the held value and the stamp of the write that produced it.
// ok is false if the register was never written.
func (r *register) Get() (value ir.Value, stamp clock.Stamp, ok bool) {
	if !r.set {
		return ir.Null{}, clock.Stamp{}, false
	}
	return r.value, r.stamp, true
}

// IsSet reports whether the register holds a value.
func (r *register) IsSet() bool { return r.set }

// offer installs (v, s) when the register is empty or wins(s, current).
func (r *register) offer(v ir.Value, s clock.Stamp, wins func(candidate, current clock.Stamp) bool) bool {
	if r.set && !wins(s, r.stamp) {
		return false
	}
	r.value, r.stamp, r.set = normalize(v), s, true
	return true
}

func (r *register) read() ir.Value {
	if !r.set {
		return ir.Null{}
	}
	return r.value
}

func (r *register) encode() ir.Value {
	if !r.set {
		return ir.Object{}
	}
	return ir.Object{"value": r.value, "stamp": r.stamp.Value()}
}

func earlier(candidate, current clock.Stamp) bool { return candidate.Less(current) }
func later(candidate, current clock.Stamp) bool   { return current.Less(candidate) }

// ImmutableState is a write-once register. Concurrent first writes are
// settled by keeping the earliest (time, actor) stamp.
type ImmutableState struct {
	register
}

func (*ImmutableState) Strategy() Strategy { return Immutable }

func (s *ImmutableState) clone() State {
	c := *s
	return &c
}

func (s *ImmutableState) join(other State) {
	o := other.(*ImmutableState)
	if o.set {
		s.offer(o.value, o.stamp, earlier)
	}
}

func (s *ImmutableState) apply(op Operation) (bool, error) {
	a := op.Payload.(Assign)
	return s.offer(a.Value, op.Stamp, earlier), nil
}

// LWWState is a last-writer-wins register ordered by (time, actor).
type LWWState struct {
	register
}

// NewLWW returns an lww register holding v written at stamp.
func NewLWW(v ir.Value, stamp clock.Stamp) *LWWState {
	s := &LWWState{}
	s.offer(v, stamp, later)
	return s
}

func (*LWWState) Strategy() Strategy { return LWW }

func (s *LWWState) clone() State {
	c := *s
	return &c
}

func (s *LWWState) join(other State) {
	o := other.(*LWWState)
	if o.set {
		s.offer(o.value, o.stamp, later)
	}
}

func (s *LWWState) apply(op Operation) (bool, error) {
	a := op.Payload.(Assign)
	return s.offer(a.Value, op.Stamp, later), nil
}
