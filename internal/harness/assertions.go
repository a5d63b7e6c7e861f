package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s\n", event.Step, describe(event))
	}
	return buf.String()
}

func describe(e TraceEvent) string {
	switch e.Kind {
	case KindOp:
		s := fmt.Sprintf("%s %s %s -> %s", e.Replica, e.Intent, e.Field, e.Outcome)
		if e.Stamp != "" {
			s += " @" + e.Stamp
		}
		return s
	case KindSync:
		return fmt.Sprintf("sync %s -> %s (%d changed)", e.From, e.To, e.Changed)
	default:
		return fmt.Sprintf("reconcile %s (confirmed %d)", e.Replica, e.ConfirmedTotal)
	}
}

// assertValue checks one field's read value on one replica.
func assertValue(h *Harness, a Assertion) error {
	want, err := ir.FromAny(a.Expect)
	if err != nil {
		return fmt.Errorf("value assertion on %s: %w", a.Field, err)
	}
	got, err := h.replicas[a.Replica].document().Value(a.Field)
	if err != nil {
		return &AssertionError{
			Type:     AssertValue,
			Expected: fmt.Sprintf("%s.%s = %s", a.Replica, a.Field, ir.Key(want)),
			Actual:   err.Error(),
			Trace:    h.result.Trace,
		}
	}
	if !ir.Equal(want, got) {
		return &AssertionError{
			Type:     AssertValue,
			Expected: fmt.Sprintf("%s.%s = %s", a.Replica, a.Field, ir.Key(want)),
			Actual:   ir.Key(got),
			Trace:    h.result.Trace,
		}
	}
	return nil
}

// assertConverged checks that every replica reads the same values, or the
// same value for a.Field when set.
func assertConverged(h *Harness, a Assertion) error {
	read := func(name string) string {
		d := h.replicas[name].document()
		if a.Field == "" {
			return ir.Key(d.Values())
		}
		v, err := d.Value(a.Field)
		if err != nil {
			return "error: " + err.Error()
		}
		return ir.Key(v)
	}

	first := h.order[0]
	want := read(first)
	for _, name := range h.order[1:] {
		if got := read(name); got != want {
			return &AssertionError{
				Type:     AssertConverged,
				Expected: fmt.Sprintf("%s to match %s: %s", name, first, want),
				Actual:   got,
				Trace:    h.result.Trace,
			}
		}
	}
	return nil
}

// assertAvailable checks an actor's spendable escrow as seen by a replica.
// The actor defaults to the replica itself.
func assertAvailable(h *Harness, a Assertion) error {
	actor := a.Actor
	if actor == "" {
		actor = a.Replica
	}
	want := int64(a.Expect.(int))

	ledger := h.replicas[a.Replica].document().Ledger()
	if ledger == nil {
		return &AssertionError{
			Type:     AssertAvailable,
			Expected: fmt.Sprintf("%s available on %s = %d", actor, a.Replica, want),
			Actual:   "document has no escrow ledger",
			Trace:    h.result.Trace,
		}
	}
	if got := ledger.Available(clock.ActorID(actor)); got != want {
		return &AssertionError{
			Type:     AssertAvailable,
			Expected: fmt.Sprintf("%s available on %s = %d", actor, a.Replica, want),
			Actual:   fmt.Sprintf("%d", got),
			Trace:    h.result.Trace,
		}
	}
	return nil
}

// assertViolations counts eventual violations reported on a replica,
// optionally for a single constraint.
func assertViolations(h *Harness, a Assertion) error {
	got := 0
	for _, v := range h.result.Violations {
		if v.Replica != a.Replica {
			continue
		}
		if a.Constraint != "" && v.Constraint != a.Constraint {
			continue
		}
		got++
	}
	if got != a.Count {
		target := "any constraint"
		if a.Constraint != "" {
			target = a.Constraint
		}
		return &AssertionError{
			Type:     AssertViolations,
			Expected: fmt.Sprintf("%d violations of %s on %s", a.Count, target, a.Replica),
			Actual:   fmt.Sprintf("%d violations", got),
			Trace:    h.result.Trace,
		}
	}
	return nil
}

// assertLogCount checks how many operations a replica has logged.
func assertLogCount(ctx context.Context, h *Harness, a Assertion) error {
	got, err := h.replicas[a.Replica].store.CountOperations(ctx, DocumentID)
	if err != nil {
		return fmt.Errorf("count operations on %s: %w", a.Replica, err)
	}
	if got != a.Count {
		return &AssertionError{
			Type:     AssertLogCount,
			Expected: fmt.Sprintf("%d logged operations on %s", a.Count, a.Replica),
			Actual:   fmt.Sprintf("%d", got),
			Trace:    h.result.Trace,
		}
	}
	return nil
}

// EvaluateAssertions runs all assertions against the harness state and
// returns the failure messages. An empty slice means everything held.
func EvaluateAssertions(ctx context.Context, h *Harness, assertions []Assertion) []string {
	var errs []string

	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertValue:
			err = assertValue(h, a)
		case AssertConverged:
			err = assertConverged(h, a)
		case AssertAvailable:
			err = assertAvailable(h, a)
		case AssertViolations:
			err = assertViolations(h, a)
		case AssertLogCount:
			err = assertLogCount(ctx, h, a)
		default:
			err = fmt.Errorf("unknown assertion type: %s", a.Type)
		}

		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return errs
}
