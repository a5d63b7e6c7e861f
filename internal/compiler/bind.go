package compiler

import (
	"errors"
	"fmt"

	"github.com/roach88/concord/internal/constraint"
	"github.com/roach88/concord/internal/document"
)

var errUnknownKind = errors.New("unknown constraint kind")

// declarations expands a constraint spec into one built-in declaration per
// field. A single-field constraint keeps its name; multi-field constraints
// are named name.field.
func declarations(c ConstraintSpec) ([]constraint.Declaration, error) {
	out := make([]constraint.Declaration, 0, len(c.Fields))
	for _, f := range c.Fields {
		d, err := constraint.Builtin(c.Kind, f, c.Limit)
		if err != nil {
			switch c.Kind {
			case "immutable", "non_negative", "unique", "max_elements", "single_value":
				return nil, fmt.Errorf("constraint %q: %w", c.Name, err)
			}
			return nil, fmt.Errorf("constraint %q: %w %q", c.Name, errUnknownKind, c.Kind)
		}
		d.Name = c.Name
		if len(c.Fields) > 1 {
			d.Name = c.Name + "." + f
		}
		out = append(out, d)
	}
	return out, nil
}

// Declarations returns the constraint declarations a schema binds.
func Declarations(s *Schema) ([]constraint.Declaration, error) {
	var out []constraint.Declaration
	for _, c := range s.Constraints {
		decls, err := declarations(c)
		if err != nil {
			return nil, err
		}
		out = append(out, decls...)
	}
	return out, nil
}

// Bind registers the schema's fields and constraints on a document and
// records its version. The schema is validated first; a schema with errors
// returns ValidationErrors and leaves the document untouched.
func Bind(doc *document.Document, s *Schema) error {
	if errs := Validate(s); len(errs) > 0 {
		return ValidationErrors(errs)
	}
	decls, err := Declarations(s)
	if err != nil {
		return err
	}

	for _, f := range s.Fields {
		if err := doc.RegisterField(f.Name, f.Strategy, f.Type); err != nil {
			return fmt.Errorf("bind %s: %w", s.Name, err)
		}
	}
	for _, d := range decls {
		if err := doc.RegisterConstraint(d); err != nil {
			return fmt.Errorf("bind %s: %w", s.Name, err)
		}
	}
	doc.SetSchemaVersion(s.Version)
	return nil
}
