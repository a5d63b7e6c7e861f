package evolution

import "github.com/roach88/concord/internal/crdt"

// Verdict is the safety classification of a strategy change.
type Verdict string

const (
	Safe   Verdict = "safe"
	Unsafe Verdict = "unsafe"
)

// Transition is a (from, to) strategy pair.
type Transition struct {
	From crdt.Strategy
	To   crdt.Strategy
}

var safe = map[Transition]string{
	{crdt.Immutable, crdt.LWW}:  "value kept; the earliest write stays the winner and later writes override it",
	{crdt.MVRegister, crdt.LWW}: "concurrent values collapse to the entry with the greatest clock",
	{crdt.RGA, crdt.Peritext}:   "characters keep their ids; no formatting",
}

// Check classifies a strategy change.
func Check(from, to crdt.Strategy) Verdict {
	if !from.Valid() || !to.Valid() {
		return Unsafe
	}
	if from == to {
		return Safe
	}
	if _, ok := safe[Transition{from, to}]; ok {
		return Safe
	}
	return Unsafe
}

// Describe explains what the migration from -> to does, or why it is
// refused.
func Describe(from, to crdt.Strategy) string {
	if Check(from, to) == Unsafe {
		return "unsafe: replicas could diverge or lose acknowledged writes"
	}
	if from == to {
		return "identity"
	}
	return safe[Transition{from, to}]
}

// SafeTransitions lists the non-identity safe transitions in a fixed order.
func SafeTransitions() []Transition {
	return []Transition{
		{crdt.Immutable, crdt.LWW},
		{crdt.MVRegister, crdt.LWW},
		{crdt.RGA, crdt.Peritext},
	}
}
