package crdt

import (
	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/ir"
)

// Operation is one replicated mutation of one field.
// Operations are immutable once prepared and idempotent under Apply.
type Operation struct {
	Actor   clock.ActorID
	Stamp   clock.Stamp
	Field   string
	Payload Payload
	// Revision counts the strategy migrations the field had gone through
	// when the operation was prepared. Zero is omitted from the encoding.
	Revision int
}

// Payload is a sealed interface over the idempotent operation bodies.
type Payload interface {
	payload()
	// Kind is the wire tag of the payload.
	Kind() string
}

// Assign writes a register value. Used by immutable and lww fields; the
// operation stamp decides which write survives.
type Assign struct {
	Value ir.Value
}

// MVAssign writes a multi-value register entry. Clock is the merge of
// every entry the writer observed, advanced at the writer.
type MVAssign struct {
	Value ir.Value
	Clock clock.VectorClock
}

// SetAdd adds an element to an OR-Set. The operation stamp is the new tag.
type SetAdd struct {
	Value ir.Value
}

// SetRemove tombstones the tags of Value the remover had observed.
// Tags added concurrently are not listed, which is what makes add win.
type SetRemove struct {
	Value ir.Value
	Tags  []clock.Stamp
}

// CounterUpdate carries the absolute increment and decrement totals of the
// operation's actor. Totals only grow, so re-delivery is harmless.
type CounterUpdate struct {
	Inc int64
	Dec int64
}

// Insert places a new sequence element after Origin. The zero Stamp is the
// head of the sequence. The operation stamp is the new element id.
type Insert struct {
	Origin clock.Stamp
	Value  ir.Value
}

// Delete tombstones the sequence element Target.
type Delete struct {
	Target clock.Stamp
}

// Mark formats a text range. The operation stamp is the mark id.
type Mark struct {
	Name   string
	Value  ir.Value
	Start  Anchor
	End    Anchor
	Expand Expand
}

func (Assign) payload()        {}
func (MVAssign) payload()      {}
func (SetAdd) payload()        {}
func (SetRemove) payload()     {}
func (CounterUpdate) payload() {}
func (Insert) payload()        {}
func (Delete) payload()        {}
func (Mark) payload()          {}

func (Assign) Kind() string        { return "assign" }
func (MVAssign) Kind() string      { return "mv_assign" }
func (SetAdd) Kind() string        { return "set_add" }
func (SetRemove) Kind() string     { return "set_remove" }
func (CounterUpdate) Kind() string { return "counter_update" }
func (Insert) Kind() string        { return "insert" }
func (Delete) Kind() string        { return "delete" }
func (Mark) Kind() string          { return "mark" }

// Accepts reports whether a payload can be applied to a state of strategy s.
func Accepts(s Strategy, p Payload) bool {
	switch p.(type) {
	case Assign:
		return s == Immutable || s == LWW
	case MVAssign:
		return s == MVRegister
	case SetAdd, SetRemove:
		return s == ORSet
	case CounterUpdate:
		return s == PNCounter
	case Insert, Delete:
		return s == RGA || s == Peritext
	case Mark:
		return s == Peritext
	}
	return false
}
