package crdt

import "fmt"

// Strategy tags the conflict-resolution rule of a field.
type Strategy string

const (
	Immutable  Strategy = "immutable"
	LWW        Strategy = "lww"
	ORSet      Strategy = "or_set"
	PNCounter  Strategy = "pn_counter"
	Peritext   Strategy = "peritext"
	RGA        Strategy = "rga"
	MVRegister Strategy = "mv_register"
)

// Strategies returns every supported strategy in a fixed order.
func Strategies() []Strategy {
	return []Strategy{Immutable, LWW, ORSet, PNCounter, Peritext, RGA, MVRegister}
}

// Valid reports whether s names a supported strategy.
func (s Strategy) Valid() bool {
	switch s {
	case Immutable, LWW, ORSet, PNCounter, Peritext, RGA, MVRegister:
		return true
	}
	return false
}

// ParseStrategy converts a schema tag into a Strategy.
func ParseStrategy(tag string) (Strategy, error) {
	s := Strategy(tag)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, tag)
	}
	return s, nil
}

// Resolution describes how a strategy settles concurrent writes.
type Resolution string

const (
	LastWriteWins  Resolution = "last_write_wins"
	FirstWriteWins Resolution = "first_write_wins"
	AddWins        Resolution = "add_wins"
	MultiValue     Resolution = "multi_value"
	NoConflicts    Resolution = "no_conflicts"
	Custom         Resolution = "custom"
)

// MergeSemantics is a descriptor of a strategy's merge, used by schema
// tooling to explain what a field will do under concurrency.
type MergeSemantics struct {
	Strategy    Strategy
	Commutative bool
	Associative bool
	Idempotent  bool
	// SEC reports strong eventual consistency: replicas that delivered the
	// same operations are equal.
	SEC        bool
	Resolution Resolution
}

// Semantics returns the merge descriptor for a strategy.
// All supported strategies are lattices, so only Resolution varies.
func Semantics(s Strategy) MergeSemantics {
	m := MergeSemantics{
		Strategy:    s,
		Commutative: true,
		Associative: true,
		Idempotent:  true,
		SEC:         true,
	}
	switch s {
	case Immutable:
		m.Resolution = FirstWriteWins
	case LWW:
		m.Resolution = LastWriteWins
	case ORSet:
		m.Resolution = AddWins
	case PNCounter:
		m.Resolution = NoConflicts
	case MVRegister:
		m.Resolution = MultiValue
	case RGA, Peritext:
		m.Resolution = Custom
	}
	return m
}
