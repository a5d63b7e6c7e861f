package crdt

import (
	"fmt"
	"maps"
	"strings"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/ir"
)

// Side says where an anchor attaches.
type Side string

const (
	// SideBefore attaches to the gap just before a character.
	SideBefore Side = "before"
	// SideAfter attaches to the gap just after a character.
	SideAfter Side = "after"
	// SideStart is the start of the document.
	SideStart Side = "start"
	// SideEnd is the end of the document.
	SideEnd Side = "end"
)

// Anchor is one boundary of a formatting mark. Char is unused for
// SideStart and SideEnd.
type Anchor struct {
	Side Side
	Char clock.Stamp
}

// Expand says whether text typed at a mark boundary inherits the mark.
type Expand string

const (
	ExpandNone   Expand = "none"
	ExpandAfter  Expand = "after"
	ExpandBefore Expand = "before"
	ExpandBoth   Expand = "both"
)

// Valid reports whether e is a known expand policy.
func (e Expand) Valid() bool {
	switch e {
	case ExpandNone, ExpandAfter, ExpandBefore, ExpandBoth:
		return true
	}
	return false
}

// TextMark is a formatting mark held by a peritext field.
type TextMark struct {
	ID     clock.Stamp
	Name   string
	Value  ir.Value
	Start  Anchor
	End    Anchor
	Expand Expand
}

// Span is a run of visible characters sharing the same formatting.
type Span struct {
	Text  string
	Marks ir.Object
}

// TextState is rich text: an RGA of characters plus formatting marks.
//
// Marks anchor to character ids rather than indices, so concurrent edits
// move them with the text. A character is covered by a mark when its slot
// lies strictly between the mark's anchors in the full sequence, tombstones
// included. For each character and mark name the covering mark with the
// greatest stamp wins; a Null value means unformatted.
type TextState struct {
	chars *RGAState
	marks map[clock.Stamp]TextMark
}

func newText() *TextState {
	return &TextState{chars: newRGA(), marks: map[clock.Stamp]TextMark{}}
}

// NewTextFromRGA wraps a copy of an rga sequence as unformatted text.
// Element ids are kept.
func NewTextFromRGA(r *RGAState) *TextState {
	return &TextState{chars: r.cloneRGA(), marks: map[clock.Stamp]TextMark{}}
}

func (*TextState) Strategy() Strategy { return Peritext }

// Chars returns the underlying character sequence. Callers must not
// mutate it.
func (s *TextState) Chars() *RGAState { return s.chars }

// Marks returns every mark ordered by id.
func (s *TextState) Marks() []TextMark {
	out := make([]TextMark, 0, len(s.marks))
	for _, id := range sortedStamps(maps.Keys(s.marks)) {
		out = append(out, s.marks[id])
	}
	return out
}

// Text returns the visible characters as a string. Non-string elements are
// rendered as their canonical encoding.
func (s *TextState) Text() string {
	var b strings.Builder
	for _, v := range s.chars.Elements() {
		b.WriteString(charString(v))
	}
	return b.String()
}

func charString(v ir.Value) string {
	if str, ok := v.(ir.String); ok {
		return string(str)
	}
	return ir.Key(v)
}

func (s *TextState) clone() State {
	return &TextState{chars: s.chars.cloneRGA(), marks: maps.Clone(s.marks)}
}

func (s *TextState) join(other State) {
	o := other.(*TextState)
	s.chars.joinRGA(o.chars)
	for id, m := range o.marks {
		if _, ok := s.marks[id]; !ok {
			s.marks[id] = m
		}
	}
}

func (s *TextState) apply(op Operation) (bool, error) {
	switch p := op.Payload.(type) {
	case Insert, Delete:
		return s.chars.apply(op)
	case Mark:
		if _, ok := s.marks[op.Stamp]; ok {
			return false, nil
		}
		s.marks[op.Stamp] = TextMark{
			ID:     op.Stamp,
			Name:   p.Name,
			Value:  normalize(p.Value),
			Start:  p.Start,
			End:    p.End,
			Expand: p.Expand,
		}
		return true, nil
	}
	return false, ErrTypeMismatch
}

// collect keeps characters that anchor a mark so marks stay resolvable.
func (s *TextState) collect(epoch clock.Epoch) int {
	pinned := make(map[clock.Stamp]struct{})
	for _, m := range s.marks {
		for _, a := range []Anchor{m.Start, m.End} {
			if a.Side == SideBefore || a.Side == SideAfter {
				pinned[a.Char] = struct{}{}
			}
		}
	}
	return s.chars.collectExcept(epoch, pinned)
}

// slots assigns every reachable character three positions: the gap before
// it, the character itself and the gap after it. The document start is 0
// and the end is past the last gap.
type slots struct {
	index map[clock.Stamp]int
	end   int
}

func (s *TextState) slots(order []clock.Stamp) slots {
	idx := make(map[clock.Stamp]int, len(order))
	for i, id := range order {
		idx[id] = i
	}
	return slots{index: idx, end: 3*len(order) + 1}
}

func (sl slots) char(id clock.Stamp) int {
	return 3*sl.index[id] + 2
}

func (sl slots) anchor(a Anchor) (int, bool) {
	switch a.Side {
	case SideStart:
		return 0, true
	case SideEnd:
		return sl.end, true
	}
	i, ok := sl.index[a.Char]
	if !ok {
		return 0, false
	}
	if a.Side == SideBefore {
		return 3*i + 1, true
	}
	return 3*i + 3, true
}

// Formatting returns, for each visible character, the effective marks in
// force on it. Unformatted characters map to an empty Object.
func (s *TextState) Formatting() []ir.Object {
	order := s.chars.order()
	sl := s.slots(order)

	type bounds struct {
		mark       TextMark
		start, end int
	}
	var active []bounds
	for _, m := range s.Marks() {
		start, ok1 := sl.anchor(m.Start)
		end, ok2 := sl.anchor(m.End)
		if ok1 && ok2 && start < end {
			active = append(active, bounds{mark: m, start: start, end: end})
		}
	}

	var out []ir.Object
	for _, id := range order {
		if s.chars.Deleted(id) {
			continue
		}
		pos := sl.char(id)
		winners := map[string]TextMark{}
		for _, b := range active {
			if b.start < pos && pos < b.end {
				// Marks are visited in ascending id order, so later
				// stamps overwrite earlier ones.
				winners[b.mark.Name] = b.mark
			}
		}
		fmtObj := ir.Object{}
		for name, m := range winners {
			if !ir.IsNull(m.Value) {
				fmtObj[name] = m.Value
			}
		}
		out = append(out, fmtObj)
	}
	return out
}

// Spans groups the visible text into runs of identical formatting.
func (s *TextState) Spans() []Span {
	chars := s.chars.Elements()
	formats := s.Formatting()

	var spans []Span
	var b strings.Builder
	var cur ir.Object
	curKey := ""
	flush := func() {
		if b.Len() > 0 {
			spans = append(spans, Span{Text: b.String(), Marks: cur})
			b.Reset()
		}
	}
	for i, v := range chars {
		key := ir.Key(formats[i])
		if i == 0 || key != curKey {
			flush()
			cur, curKey = formats[i], key
		}
		b.WriteString(charString(v))
	}
	flush()
	return spans
}

func (s *TextState) read() ir.Value {
	spans := ir.Array{}
	for _, sp := range s.Spans() {
		spans = append(spans, ir.Object{"text": ir.String(sp.Text), "marks": sp.Marks})
	}
	return ir.Object{"text": ir.String(s.Text()), "spans": spans}
}

func anchorValue(a Anchor) ir.Value {
	obj := ir.Object{"side": ir.String(a.Side)}
	if a.Side == SideBefore || a.Side == SideAfter {
		obj["char"] = a.Char.Value()
	}
	return obj
}

func anchorFromValue(v ir.Value) (Anchor, error) {
	obj, ok := v.(ir.Object)
	if !ok {
		return Anchor{}, fmt.Errorf("anchor: expected object, got %T", v)
	}
	side, _ := obj["side"].(ir.String)
	a := Anchor{Side: Side(side)}
	switch a.Side {
	case SideStart, SideEnd:
		return a, nil
	case SideBefore, SideAfter:
		c, err := clock.StampFromValue(obj["char"])
		if err != nil {
			return Anchor{}, fmt.Errorf("anchor: %w", err)
		}
		a.Char = c
		return a, nil
	}
	return Anchor{}, fmt.Errorf("anchor: unknown side %q", side)
}

func (s *TextState) encode() ir.Value {
	marks := ir.Array{}
	for _, m := range s.Marks() {
		marks = append(marks, markValue(m.ID, Mark{
			Name: m.Name, Value: m.Value, Start: m.Start, End: m.End, Expand: m.Expand,
		}))
	}
	return ir.Object{"chars": s.chars.encode(), "marks": marks}
}

func markValue(id clock.Stamp, m Mark) ir.Object {
	obj := ir.Object{
		"name":   ir.String(m.Name),
		"value":  normalize(m.Value),
		"start":  anchorValue(m.Start),
		"end":    anchorValue(m.End),
		"expand": ir.String(m.Expand),
	}
	if !id.IsZero() {
		obj["id"] = id.Value()
	}
	return obj
}
