package constraint

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/crdt"
)

// Category classifies how a constraint is enforced.
type Category string

const (
	Structural Category = "structural"
	Eventual   Category = "eventual"
	Strong     Category = "strong"
)

// ParseCategory converts a schema tag into a Category.
func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case Structural, Eventual, Strong:
		return c, nil
	}
	return "", fmt.Errorf("unknown constraint category %q", s)
}

// Reader gives predicates read access to field states.
type Reader interface {
	State(field string) (crdt.State, bool)
}

// Predicate evaluates an eventual constraint. It returns false and a
// human-readable description when the constraint does not hold.
type Predicate func(r Reader) (holds bool, description string)

// Cost returns how much escrow budget a local intent consumes.
type Cost func(intent crdt.Intent) int64

// Declaration is one registered invariant.
type Declaration struct {
	Name     string
	Category Category
	Fields   []string

	// Strategies lists the strategies the fields may have. For structural
	// constraints this is the set of strategies that imply the invariant.
	Strategies []crdt.Strategy

	// Predicate is required for eventual constraints.
	Predicate Predicate

	// Cost is required for strong constraints.
	Cost Cost
}

// Violation is an advisory event raised when an eventual constraint fails
// after a merge. It is not an error: the merge has already happened.
type Violation struct {
	Category    Category
	Constraint  string
	Field       string
	Description string
}

// ErrMisclassified is matched by every *ClassificationError.
var ErrMisclassified = errors.New("constraint misclassified")

// ClassificationError reports a declaration rejected at registration.
type ClassificationError struct {
	Constraint string
	Reason     string
}

// Error implements the error interface.
func (e *ClassificationError) Error() string {
	return fmt.Sprintf("constraint %q: %s", e.Constraint, e.Reason)
}

// Is makes errors.Is(err, ErrMisclassified) match.
func (e *ClassificationError) Is(target error) bool {
	return target == ErrMisclassified
}

// classify checks decl against the strategies of the fields it names.
func classify(decl Declaration, strategies map[string]crdt.Strategy) error {
	fail := func(format string, args ...any) error {
		return &ClassificationError{Constraint: decl.Name, Reason: fmt.Sprintf(format, args...)}
	}

	if decl.Name == "" {
		return fail("name is required")
	}
	if len(decl.Fields) == 0 {
		return fail("at least one field is required")
	}
	for _, f := range decl.Fields {
		s, ok := strategies[f]
		if !ok {
			return fail("unknown field %q", f)
		}
		if len(decl.Strategies) > 0 && !slices.Contains(decl.Strategies, s) {
			return fail("field %q is %s, want one of %v", f, s, decl.Strategies)
		}
	}

	switch decl.Category {
	case Structural:
		if len(decl.Strategies) == 0 {
			return fail("structural constraints must name the strategies that imply them")
		}
	case Eventual:
		if decl.Predicate == nil {
			return fail("eventual constraints require a predicate")
		}
	case Strong:
		if decl.Cost == nil {
			return fail("strong constraints require a cost function")
		}
		for _, f := range decl.Fields {
			if strategies[f] != crdt.PNCounter {
				return fail("strong constraints need an escrow-capable pn_counter field, %q is %s", f, strategies[f])
			}
		}
	default:
		return fail("unknown category %q", decl.Category)
	}
	return nil
}

// Admission records what Admit charged, so a caller that fails to apply the
// operation afterwards can release it.
type Admission struct {
	Actor   clock.ActorID
	Charged int64
}
