package clock

import (
	"fmt"

	"github.com/roach88/concord/internal/ir"
)

// Stamp is the (Lamport time, actor) pair attached to every operation.
// The zero Stamp sorts before every stamp a clock can produce.
type Stamp struct {
	Time  int64
	Actor ActorID
}

// TotalOrderLess reports whether (tsA, actorA) sorts before (tsB, actorB):
// tsA < tsB, or tsA == tsB and actorA < actorB.
func TotalOrderLess(tsA int64, actorA ActorID, tsB int64, actorB ActorID) bool {
	if tsA != tsB {
		return tsA < tsB
	}
	return actorA < actorB
}

// Compare returns -1, 0 or +1 ordering s against o by (Time, Actor).
func (s Stamp) Compare(o Stamp) int {
	switch {
	case s.Time < o.Time:
		return -1
	case s.Time > o.Time:
		return 1
	}
	return s.Actor.Compare(o.Actor)
}

// Less reports whether s sorts strictly before o.
func (s Stamp) Less(o Stamp) bool {
	return TotalOrderLess(s.Time, s.Actor, o.Time, o.Actor)
}

// IsZero reports whether s is the zero Stamp.
func (s Stamp) IsZero() bool {
	return s.Time == 0 && s.Actor == ""
}

// String renders the stamp as time@actor.
func (s Stamp) String() string {
	return fmt.Sprintf("%d@%s", s.Time, s.Actor)
}

// Value encodes the stamp as a canonical-JSON-ready object.
func (s Stamp) Value() ir.Value {
	return ir.Object{
		"time":  ir.Int(s.Time),
		"actor": ir.String(s.Actor),
	}
}

// StampFromValue decodes a stamp produced by Stamp.Value.
func StampFromValue(v ir.Value) (Stamp, error) {
	obj, ok := v.(ir.Object)
	if !ok {
		return Stamp{}, fmt.Errorf("stamp: expected object, got %T", v)
	}
	t, ok := obj["time"].(ir.Int)
	if !ok {
		return Stamp{}, fmt.Errorf("stamp: missing integer time")
	}
	a, ok := obj["actor"].(ir.String)
	if !ok {
		return Stamp{}, fmt.Errorf("stamp: missing string actor")
	}
	return Stamp{Time: int64(t), Actor: ActorID(a)}, nil
}

// MaxStamp returns the later of a and b.
func MaxStamp(a, b Stamp) Stamp {
	if a.Less(b) {
		return b
	}
	return a
}

// MinStamp returns the earlier of a and b.
func MinStamp(a, b Stamp) Stamp {
	if b.Less(a) {
		return b
	}
	return a
}
