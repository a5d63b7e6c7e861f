package crdt

import (
	"maps"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/ir"
)

// CounterState is a PN-Counter: per-actor increment and decrement totals
// that only grow. Its value is Σinc − Σdec.
type CounterState struct {
	inc map[clock.ActorID]int64
	dec map[clock.ActorID]int64
}

func newCounter() *CounterState {
	return &CounterState{inc: map[clock.ActorID]int64{}, dec: map[clock.ActorID]int64{}}
}

func (*CounterState) Strategy() Strategy { return PNCounter }

// Value returns Σinc − Σdec.
func (s *CounterState) Value() int64 {
	var total int64
	for _, n := range s.inc {
		total += n
	}
	for _, n := range s.dec {
		total -= n
	}
	return total
}

// Totals returns actor's increment and decrement totals.
func (s *CounterState) Totals(actor clock.ActorID) (inc, dec int64) {
	return s.inc[actor], s.dec[actor]
}

func (s *CounterState) clone() State {
	return &CounterState{inc: maps.Clone(s.inc), dec: maps.Clone(s.dec)}
}

func raise(m map[clock.ActorID]int64, actor clock.ActorID, n int64) bool {
	if n <= m[actor] {
		return false
	}
	m[actor] = n
	return true
}

func (s *CounterState) join(other State) {
	o := other.(*CounterState)
	for a, n := range o.inc {
		raise(s.inc, a, n)
	}
	for a, n := range o.dec {
		raise(s.dec, a, n)
	}
}

func (s *CounterState) apply(op Operation) (bool, error) {
	u := op.Payload.(CounterUpdate)
	if u.Inc < 0 || u.Dec < 0 {
		return false, ErrInvalidOperation
	}
	incChanged := raise(s.inc, op.Actor, u.Inc)
	decChanged := raise(s.dec, op.Actor, u.Dec)
	return incChanged || decChanged, nil
}

func (s *CounterState) read() ir.Value {
	return ir.Int(s.Value())
}

func totalsValue(m map[clock.ActorID]int64) ir.Object {
	obj := make(ir.Object, len(m))
	for a, n := range m {
		if n != 0 {
			obj[string(a)] = ir.Int(n)
		}
	}
	return obj
}

func (s *CounterState) encode() ir.Value {
	return ir.Object{"inc": totalsValue(s.inc), "dec": totalsValue(s.dec)}
}
