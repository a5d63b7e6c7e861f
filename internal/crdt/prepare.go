package crdt

import (
	"fmt"
	"math"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/ir"
)

// Prepare turns a local intent into an idempotent payload against state.
// stamp is the stamp the resulting operation will carry. State is not
// modified; the caller applies the payload after admission.
func Prepare(state State, actor clock.ActorID, stamp clock.Stamp, intent Intent) (Payload, error) {
	mismatch := func() error {
		return fmt.Errorf("%w: %s intent on %s field", ErrTypeMismatch, intent.Name(), state.Strategy())
	}

	switch in := intent.(type) {
	case Set:
		switch st := state.(type) {
		case *ImmutableState, *LWWState:
			return Assign{Value: normalize(in.Value)}, nil
		case *MVRegisterState:
			return MVAssign{Value: normalize(in.Value), Clock: st.Context().Increment(actor)}, nil
		}
		return nil, mismatch()

	case Add:
		if _, ok := state.(*ORSetState); !ok {
			return nil, mismatch()
		}
		return SetAdd{Value: normalize(in.Value)}, nil

	case Remove:
		st, ok := state.(*ORSetState)
		if !ok {
			return nil, mismatch()
		}
		return SetRemove{Value: normalize(in.Value), Tags: st.LiveTags(in.Value)}, nil

	case Increment:
		st, ok := state.(*CounterState)
		if !ok {
			return nil, mismatch()
		}
		if in.Amount < 0 {
			return nil, fmt.Errorf("%w: negative increment %d", ErrInvalidIntent, in.Amount)
		}
		inc, dec := st.Totals(actor)
		if in.Amount > math.MaxInt64-inc {
			return nil, fmt.Errorf("%w: increment %d overflows total %d", ErrInvalidIntent, in.Amount, inc)
		}
		return CounterUpdate{Inc: inc + in.Amount, Dec: dec}, nil

	case Decrement:
		st, ok := state.(*CounterState)
		if !ok {
			return nil, mismatch()
		}
		if in.Amount < 0 {
			return nil, fmt.Errorf("%w: negative decrement %d", ErrInvalidIntent, in.Amount)
		}
		inc, dec := st.Totals(actor)
		if in.Amount > math.MaxInt64-dec {
			return nil, fmt.Errorf("%w: decrement %d overflows total %d", ErrInvalidIntent, in.Amount, dec)
		}
		return CounterUpdate{Inc: inc, Dec: dec + in.Amount}, nil

	case InsertAt:
		seq, ok := sequenceOf(state)
		if !ok {
			return nil, mismatch()
		}
		if _, isText := state.(*TextState); isText {
			if _, ok := in.Value.(ir.String); !ok {
				return nil, fmt.Errorf("%w: text elements must be strings, got %T", ErrInvalidIntent, in.Value)
			}
		}
		visible := seq.Visible()
		if in.Index < 0 || in.Index > len(visible) {
			return nil, fmt.Errorf("%w: insert at %d of %d", ErrIndexOutOfRange, in.Index, len(visible))
		}
		var origin clock.Stamp
		if in.Index > 0 {
			origin = visible[in.Index-1]
		}
		return Insert{Origin: origin, Value: normalize(in.Value)}, nil

	case DeleteAt:
		seq, ok := sequenceOf(state)
		if !ok {
			return nil, mismatch()
		}
		visible := seq.Visible()
		if in.Index < 0 || in.Index >= len(visible) {
			return nil, fmt.Errorf("%w: delete at %d of %d", ErrIndexOutOfRange, in.Index, len(visible))
		}
		return Delete{Target: visible[in.Index]}, nil

	case Format:
		st, ok := state.(*TextState)
		if !ok {
			return nil, mismatch()
		}
		return prepareMark(st, in)
	}

	return nil, fmt.Errorf("%w: unknown intent %T", ErrInvalidIntent, intent)
}

func sequenceOf(state State) (*RGAState, bool) {
	switch st := state.(type) {
	case *RGAState:
		return st, true
	case *TextState:
		return st.chars, true
	}
	return nil, false
}

// prepareMark anchors a format over the visible range [Start, End).
//
//	none:   before(first) .. after(last)
//	after:  end moves to before(next), so typing at the end extends
//	before: start moves to after(prev), so typing at the start extends
//	both:   both of the above
func prepareMark(st *TextState, f Format) (Payload, error) {
	expand := f.Expand
	if expand == "" {
		expand = ExpandNone
	}
	if !expand.Valid() {
		return nil, fmt.Errorf("%w: unknown expand policy %q", ErrInvalidIntent, f.Expand)
	}
	if f.Mark == "" {
		return nil, fmt.Errorf("%w: mark name is required", ErrInvalidIntent)
	}
	visible := st.chars.Visible()
	if f.Start < 0 || f.End > len(visible) || f.Start >= f.End {
		return nil, fmt.Errorf("%w: format [%d, %d) of %d", ErrIndexOutOfRange, f.Start, f.End, len(visible))
	}

	start := Anchor{Side: SideBefore, Char: visible[f.Start]}
	end := Anchor{Side: SideAfter, Char: visible[f.End-1]}

	if expand == ExpandBefore || expand == ExpandBoth {
		if f.Start == 0 {
			start = Anchor{Side: SideStart}
		} else {
			start = Anchor{Side: SideAfter, Char: visible[f.Start-1]}
		}
	}
	if expand == ExpandAfter || expand == ExpandBoth {
		if f.End == len(visible) {
			end = Anchor{Side: SideEnd}
		} else {
			end = Anchor{Side: SideBefore, Char: visible[f.End]}
		}
	}

	return Mark{Name: f.Mark, Value: normalize(f.Value), Start: start, End: end, Expand: expand}, nil
}
