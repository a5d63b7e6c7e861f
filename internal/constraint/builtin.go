package constraint

import (
	"fmt"

	"github.com/roach88/concord/internal/crdt"
	"github.com/roach88/concord/internal/ir"
)

// Immutable declares that field never changes once written. Implied by the
// immutable strategy.
func Immutable(field string) Declaration {
	return Declaration{
		Name:       field + ".immutable",
		Category:   Structural,
		Fields:     []string{field},
		Strategies: []crdt.Strategy{crdt.Immutable},
	}
}

// NonNegative declares that a pn_counter never drops below zero. Each
// decrement costs its amount in escrow budget.
func NonNegative(field string) Declaration {
	return Declaration{
		Name:       field + ".non_negative",
		Category:   Strong,
		Fields:     []string{field},
		Strategies: []crdt.Strategy{crdt.PNCounter},
		Cost: func(intent crdt.Intent) int64 {
			if d, ok := intent.(crdt.Decrement); ok {
				return d.Amount
			}
			return 0
		},
	}
}

// UniqueElements declares that a sequence holds no duplicate visible
// elements. Concurrent inserts of the same element violate it until the
// application compensates.
func UniqueElements(field string) Declaration {
	return Declaration{
		Name:       field + ".unique",
		Category:   Eventual,
		Fields:     []string{field},
		Strategies: []crdt.Strategy{crdt.RGA},
		Predicate: func(r Reader) (bool, string) {
			st, ok := r.State(field)
			if !ok {
				return true, ""
			}
			seen := map[string]bool{}
			for _, v := range st.(*crdt.RGAState).Elements() {
				k := ir.Key(v)
				if seen[k] {
					return false, fmt.Sprintf("duplicate element %s in %s", k, field)
				}
				seen[k] = true
			}
			return true, ""
		},
	}
}

// MaxElements declares that an or_set or rga holds at most n visible
// elements.
func MaxElements(field string, n int) Declaration {
	return Declaration{
		Name:       fmt.Sprintf("%s.max_elements", field),
		Category:   Eventual,
		Fields:     []string{field},
		Strategies: []crdt.Strategy{crdt.ORSet, crdt.RGA},
		Predicate: func(r Reader) (bool, string) {
			st, ok := r.State(field)
			if !ok {
				return true, ""
			}
			var size int
			switch s := st.(type) {
			case *crdt.ORSetState:
				size = s.Len()
			case *crdt.RGAState:
				size = s.Len()
			}
			if size > n {
				return false, fmt.Sprintf("%s holds %d elements, limit %d", field, size, n)
			}
			return true, ""
		},
	}
}

// SingleValue declares that an mv_register settles on one value.
// Concurrent writes leave several values until someone writes over them.
func SingleValue(field string) Declaration {
	return Declaration{
		Name:       field + ".single_value",
		Category:   Eventual,
		Fields:     []string{field},
		Strategies: []crdt.Strategy{crdt.MVRegister},
		Predicate: func(r Reader) (bool, string) {
			st, ok := r.State(field)
			if !ok {
				return true, ""
			}
			if n := len(st.(*crdt.MVRegisterState).Entries()); n > 1 {
				return false, fmt.Sprintf("%s has %d concurrent values", field, n)
			}
			return true, ""
		},
	}
}

// Custom declares an eventual constraint with an application predicate.
func Custom(name string, fields []string, p Predicate) Declaration {
	return Declaration{Name: name, Category: Eventual, Fields: fields, Predicate: p}
}

// Builtin constructs a built-in declaration by kind, as named in schemas.
func Builtin(kind, field string, limit int) (Declaration, error) {
	switch kind {
	case "immutable":
		return Immutable(field), nil
	case "non_negative":
		return NonNegative(field), nil
	case "unique":
		return UniqueElements(field), nil
	case "max_elements":
		if limit <= 0 {
			return Declaration{}, fmt.Errorf("max_elements requires a positive limit")
		}
		return MaxElements(field, limit), nil
	case "single_value":
		return SingleValue(field), nil
	}
	return Declaration{}, fmt.Errorf("unknown constraint kind %q", kind)
}
