package compiler

import (
	"errors"
	"fmt"

	"github.com/roach88/concord/internal/crdt"
	"github.com/roach88/concord/internal/evolution"
)

// FieldChange describes how one field differs between two schema versions.
type FieldChange struct {
	Field   string            `json:"field"`
	From    crdt.Strategy     `json:"from,omitempty"`
	To      crdt.Strategy     `json:"to,omitempty"`
	Verdict evolution.Verdict `json:"verdict"`
	Note    string            `json:"note"`
}

// Diff lists the field changes from prev to next in next's field order,
// followed by removed fields in prev's order. Unchanged fields are omitted.
func Diff(prev, next *Schema) []FieldChange {
	var out []FieldChange
	for _, f := range next.Fields {
		old, ok := prev.Field(f.Name)
		switch {
		case !ok:
			out = append(out, FieldChange{Field: f.Name, To: f.Strategy, Verdict: evolution.Safe, Note: "added"})
		case old.Strategy != f.Strategy:
			out = append(out, FieldChange{
				Field:   f.Name,
				From:    old.Strategy,
				To:      f.Strategy,
				Verdict: evolution.Check(old.Strategy, f.Strategy),
				Note:    evolution.Describe(old.Strategy, f.Strategy),
			})
		}
	}
	for _, f := range prev.Fields {
		if _, ok := next.Field(f.Name); !ok {
			out = append(out, FieldChange{Field: f.Name, From: f.Strategy, Verdict: evolution.Safe, Note: "removed; existing replicas keep their state"})
		}
	}
	return out
}

// CheckEvolution decides whether next may replace prev and returns the
// migration plans for fields whose strategy changes. Unsafe changes return
// an *EvolutionError whose Errors carry code E220; it wraps
// evolution.ErrSchemaLocked.
func CheckEvolution(prev, next *Schema) ([]evolution.Plan, error) {
	if prev.Name != next.Name {
		return nil, ValidationErrors{{
			Field:   "name",
			Message: fmt.Sprintf("cannot evolve %s into %s", prev.Name, next.Name),
			Code:    ErrSchemaMismatch,
		}}
	}
	if next.Version <= prev.Version {
		return nil, ValidationErrors{{
			Field:   "version",
			Message: fmt.Sprintf("version %d must be greater than %d", next.Version, prev.Version),
			Code:    ErrVersionOrder,
		}}
	}

	var plans []evolution.Plan
	for _, c := range Diff(prev, next) {
		if c.From != "" && c.To != "" {
			plans = append(plans, evolution.Plan{Field: c.Field, From: c.From, To: c.To})
		}
	}
	if err := evolution.Validate(plans); err != nil {
		return nil, &EvolutionError{Errors: lockedErrors(err), Err: err}
	}
	return plans, nil
}

// EvolutionError reports a rejected schema change.
type EvolutionError struct {
	Errors ValidationErrors
	Err    error
}

// Error implements the error interface.
func (e *EvolutionError) Error() string { return e.Errors.Error() }

// Unwrap returns the evolution package's error.
func (e *EvolutionError) Unwrap() error { return e.Err }

func lockedErrors(err error) ValidationErrors {
	var out ValidationErrors
	var joined interface{ Unwrap() []error }
	list := []error{err}
	if errors.As(err, &joined) {
		list = joined.Unwrap()
	}
	for _, e := range list {
		var locked *evolution.LockedError
		if errors.As(e, &locked) {
			out = append(out, ValidationError{
				Field:   "fields." + locked.Field + ".strategy",
				Message: fmt.Sprintf("cannot migrate %s to %s", locked.From, locked.To),
				Code:    ErrSchemaLocked,
			})
			continue
		}
		out = append(out, ValidationError{Field: "fields", Message: e.Error(), Code: ErrSchemaLocked})
	}
	return out
}
