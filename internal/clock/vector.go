package clock

import (
	"fmt"
	"slices"

	"github.com/roach88/concord/internal/ir"
)

// Ordering is the causal relation between two vector clocks.
type Ordering int

const (
	Equal Ordering = iota
	Before
	After
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	default:
		return fmt.Sprintf("Ordering(%d)", int(o))
	}
}

// VectorClock maps actors to the number of events observed from each.
// Missing entries are zero. Treat values as immutable: every method that
// changes a clock returns a new one.
type VectorClock map[ActorID]int64

// Get returns the counter for actor.
func (vc VectorClock) Get(actor ActorID) int64 {
	return vc[actor]
}

// Clone returns an independent copy with zero entries dropped.
func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc))
	for a, n := range vc {
		if n != 0 {
			out[a] = n
		}
	}
	return out
}

// Increment returns a copy with actor's counter advanced by one.
func (vc VectorClock) Increment(actor ActorID) VectorClock {
	out := vc.Clone()
	out[actor]++
	return out
}

// Merge returns the pointwise maximum of vc and o.
func (vc VectorClock) Merge(o VectorClock) VectorClock {
	out := vc.Clone()
	for a, n := range o {
		if n > out[a] {
			out[a] = n
		}
	}
	return out
}

// Compare returns the causal relation of vc to o.
func (vc VectorClock) Compare(o VectorClock) Ordering {
	less, greater := false, false
	for _, a := range vc.unionActors(o) {
		x, y := vc[a], o[a]
		if x < y {
			less = true
		} else if x > y {
			greater = true
		}
	}
	switch {
	case less && greater:
		return Concurrent
	case less:
		return Before
	case greater:
		return After
	}
	return Equal
}

// Dominates reports whether vc has strictly observed everything o has.
func (vc VectorClock) Dominates(o VectorClock) bool {
	return vc.Compare(o) == After
}

// Sum returns the total number of events in the clock.
func (vc VectorClock) Sum() int64 {
	var total int64
	for _, n := range vc {
		total += n
	}
	return total
}

// Actors returns the actors with non-zero entries in sorted order.
func (vc VectorClock) Actors() []ActorID {
	out := make([]ActorID, 0, len(vc))
	for a, n := range vc {
		if n != 0 {
			out = append(out, a)
		}
	}
	slices.Sort(out)
	return out
}

func (vc VectorClock) unionActors(o VectorClock) []ActorID {
	seen := make(map[ActorID]struct{}, len(vc)+len(o))
	for a := range vc {
		seen[a] = struct{}{}
	}
	for a := range o {
		seen[a] = struct{}{}
	}
	out := make([]ActorID, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	return out
}

// Value encodes the clock as an object of non-zero counters.
func (vc VectorClock) Value() ir.Value {
	obj := make(ir.Object, len(vc))
	for a, n := range vc {
		if n != 0 {
			obj[string(a)] = ir.Int(n)
		}
	}
	return obj
}

// Key returns the canonical encoding of the clock, usable as a map key.
func (vc VectorClock) Key() string {
	return ir.Key(vc.Value())
}

// VectorClockFromValue decodes a clock produced by VectorClock.Value.
func VectorClockFromValue(v ir.Value) (VectorClock, error) {
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("vector clock: expected object, got %T", v)
	}
	vc := make(VectorClock, len(obj))
	for k, raw := range obj {
		n, ok := raw.(ir.Int)
		if !ok || n < 0 {
			return nil, fmt.Errorf("vector clock: invalid counter for %q", k)
		}
		if n != 0 {
			vc[ActorID(k)] = int64(n)
		}
	}
	return vc, nil
}
