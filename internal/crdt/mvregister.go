package crdt

import (
	"slices"
	"strings"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/ir"
)

// MVEntry is one concurrent value of a multi-value register.
type MVEntry struct {
	Clock clock.VectorClock
	Value ir.Value
}

// MVRegisterState keeps every value whose clock is not dominated by
// another entry's clock.
type MVRegisterState struct {
	entries []MVEntry
}

func (*MVRegisterState) Strategy() Strategy { return MVRegister }

// Entries returns the concurrent entries ordered by canonical clock.
func (s *MVRegisterState) Entries() []MVEntry {
	return slices.Clone(s.entries)
}

// Context returns the merge of every entry clock: the causal history a new
// local write must dominate.
func (s *MVRegisterState) Context() clock.VectorClock {
	ctx := clock.VectorClock{}
	for _, e := range s.entries {
		ctx = ctx.Merge(e.Clock)
	}
	return ctx
}

func (s *MVRegisterState) clone() State {
	return &MVRegisterState{entries: slices.Clone(s.entries)}
}

// insert adds e unless an existing entry dominates or equals it, then drops
// the entries e dominates.
func (s *MVRegisterState) insert(e MVEntry) bool {
	for _, cur := range s.entries {
		switch cur.Clock.Compare(e.Clock) {
		case clock.After:
			return false
		case clock.Equal:
			// Equal clocks name the same write; break ties on value so a
			// malformed duplicate still converges.
			if ir.Compare(cur.Value, e.Value) >= 0 {
				return false
			}
		}
	}

	kept := s.entries[:0:0]
	for _, cur := range s.entries {
		ord := cur.Clock.Compare(e.Clock)
		if ord == clock.Before || ord == clock.Equal {
			continue
		}
		kept = append(kept, cur)
	}
	kept = append(kept, MVEntry{Clock: e.Clock.Clone(), Value: normalize(e.Value)})
	slices.SortFunc(kept, func(a, b MVEntry) int {
		return strings.Compare(a.Clock.Key(), b.Clock.Key())
	})
	s.entries = kept
	return true
}

func (s *MVRegisterState) join(other State) {
	for _, e := range other.(*MVRegisterState).entries {
		s.insert(e)
	}
}

func (s *MVRegisterState) apply(op Operation) (bool, error) {
	a := op.Payload.(MVAssign)
	return s.insert(MVEntry{Clock: a.Clock, Value: a.Value}), nil
}

func (s *MVRegisterState) read() ir.Value {
	vals := make([]ir.Value, len(s.entries))
	for i, e := range s.entries {
		vals[i] = e.Value
	}
	slices.SortFunc(vals, ir.Compare)
	return ir.Array(vals)
}

func (s *MVRegisterState) encode() ir.Value {
	arr := make(ir.Array, len(s.entries))
	for i, e := range s.entries {
		arr[i] = ir.Object{"clock": e.Clock.Value(), "value": e.Value}
	}
	return ir.Object{"entries": arr}
}
