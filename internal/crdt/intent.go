package crdt

import "github.com/roach88/concord/internal/ir"

// Intent is a sealed interface over local mutations before preparation.
// Unlike payloads, intents may be positional and relative.
type Intent interface {
	intent()
	// Name is a short label used in logs and errors.
	Name() string
}

// Set writes a register: immutable, lww or mv_register.
type Set struct {
	Value ir.Value
}

// Add inserts an element into an or_set.
type Add struct {
	Value ir.Value
}

// Remove deletes every observed occurrence of an element from an or_set.
type Remove struct {
	Value ir.Value
}

// Increment raises a pn_counter by Amount.
type Increment struct {
	Amount int64
}

// Decrement lowers a pn_counter by Amount.
type Decrement struct {
	Amount int64
}

// InsertAt inserts Value so it becomes the visible element at Index of an
// rga or peritext sequence.
type InsertAt struct {
	Index int
	Value ir.Value
}

// DeleteAt deletes the visible element at Index.
type DeleteAt struct {
	Index int
}

// Format applies Mark=Value to the visible characters [Start, End) of a
// peritext field. A Null value removes the format.
type Format struct {
	Start  int
	End    int
	Mark   string
	Value  ir.Value
	Expand Expand
}

func (Set) intent()       {}
func (Add) intent()       {}
func (Remove) intent()    {}
func (Increment) intent() {}
func (Decrement) intent() {}
func (InsertAt) intent()  {}
func (DeleteAt) intent()  {}
func (Format) intent()    {}

func (Set) Name() string       { return "set" }
func (Add) Name() string       { return "add" }
func (Remove) Name() string    { return "remove" }
func (Increment) Name() string { return "increment" }
func (Decrement) Name() string { return "decrement" }
func (InsertAt) Name() string  { return "insert_at" }
func (DeleteAt) Name() string  { return "delete_at" }
func (Format) Name() string    { return "format" }
