package compiler

import (
	"fmt"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/concord/internal/crdt"
)

// Schema is one compiled document schema.
type Schema struct {
	Name        string           `json:"name" validate:"required,ident"`
	Version     int              `json:"version" validate:"gte=1"`
	Fields      []FieldSpec      `json:"fields" validate:"min=1,dive"`
	Constraints []ConstraintSpec `json:"constraints,omitempty" validate:"dive"`
}

// FieldSpec declares one replicated field.
type FieldSpec struct {
	Name     string        `json:"name" yaml:"name" validate:"required,ident"`
	Type     string        `json:"type" yaml:"type" validate:"required"`
	Strategy crdt.Strategy `json:"strategy" yaml:"strategy" validate:"required"`
}

// ConstraintSpec declares a built-in constraint over one or more fields.
type ConstraintSpec struct {
	Name     string   `json:"name" yaml:"name" validate:"required"`
	Category string   `json:"category" yaml:"category" validate:"required,oneof=structural eventual strong"`
	Kind     string   `json:"kind" yaml:"kind" validate:"required"`
	Fields   []string `json:"fields" yaml:"fields" validate:"min=1,dive,required"`
	Limit    int      `json:"limit,omitempty" yaml:"limit,omitempty" validate:"gte=0"`
}

// Field returns the named field spec.
func (s *Schema) Field(name string) (FieldSpec, bool) {
	i := slices.IndexFunc(s.Fields, func(f FieldSpec) bool { return f.Name == name })
	if i < 0 {
		return FieldSpec{}, false
	}
	return s.Fields[i], true
}

// Strategies maps field names to strategies.
func (s *Schema) Strategies() map[string]crdt.Strategy {
	out := make(map[string]crdt.Strategy, len(s.Fields))
	for _, f := range s.Fields {
		out[f.Name] = f.Strategy
	}
	return out
}

// CompileSource compiles every schema under the top-level document struct
// of a CUE source, ordered by name.
//
//	document: Account: { version: 1, fields: {...}, constraints: [...] }
func CompileSource(filename string, src []byte) ([]*Schema, error) {
	v := cuecontext.New().CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	docs := v.LookupPath(cue.ParsePath("document"))
	if !docs.Exists() {
		return nil, &CompileError{Field: "document", Message: "no document schemas defined", Pos: v.Pos()}
	}
	iter, err := docs.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []*Schema
	for iter.Next() {
		s, err := Compile(iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *Schema) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// Compile parses a CUE value into a Schema. The value is the schema struct
// itself; its name is the last selector of its path.
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`document: Account: { ... }`)
//	s, err := Compile(v.LookupPath(cue.ParsePath("document.Account")))
func Compile(v cue.Value) (*Schema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	s := &Schema{}
	if labels := v.Path().Selectors(); len(labels) > 0 {
		s.Name = labels[len(labels)-1].String()
	}

	versionVal := v.LookupPath(cue.ParsePath("version"))
	if !versionVal.Exists() {
		return nil, &CompileError{Field: "version", Message: "version is required", Pos: v.Pos()}
	}
	version, err := versionVal.Int64()
	if err != nil {
		return nil, formatCUEError(err)
	}
	s.Version = int(version)

	if s.Fields, err = parseFields(v); err != nil {
		return nil, err
	}
	if s.Constraints, err = parseConstraints(v); err != nil {
		return nil, err
	}
	return s, nil
}

// parseFields extracts field declarations in declaration order.
func parseFields(v cue.Value) ([]FieldSpec, error) {
	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return nil, &CompileError{Field: "fields", Message: "at least one field is required", Pos: v.Pos()}
	}
	iter, err := fieldsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var fields []FieldSpec
	for iter.Next() {
		name := iter.Label()
		fv := iter.Value()

		typ, err := requiredString(fv, "type", "fields."+name)
		if err != nil {
			return nil, err
		}
		strategy, err := requiredString(fv, "strategy", "fields."+name)
		if err != nil {
			return nil, err
		}
		fields = append(fields, FieldSpec{Name: name, Type: typ, Strategy: crdt.Strategy(strategy)})
	}
	return fields, nil
}

// parseConstraints extracts constraint declarations (optional).
func parseConstraints(v cue.Value) ([]ConstraintSpec, error) {
	cv := v.LookupPath(cue.ParsePath("constraints"))
	if !cv.Exists() {
		return nil, nil
	}
	iter, err := cv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []ConstraintSpec
	for i := 0; iter.Next(); i++ {
		item := iter.Value()
		path := fmt.Sprintf("constraints[%d]", i)

		var c ConstraintSpec
		if c.Name, err = requiredString(item, "name", path); err != nil {
			return nil, err
		}
		if c.Category, err = requiredString(item, "category", path); err != nil {
			return nil, err
		}
		if c.Kind, err = requiredString(item, "kind", path); err != nil {
			return nil, err
		}

		fieldsVal := item.LookupPath(cue.ParsePath("fields"))
		if fieldsVal.Exists() {
			fi, err := fieldsVal.List()
			if err != nil {
				return nil, formatCUEError(err)
			}
			for fi.Next() {
				f, err := fi.Value().String()
				if err != nil {
					return nil, formatCUEError(err)
				}
				c.Fields = append(c.Fields, f)
			}
		}

		if limitVal := item.LookupPath(cue.ParsePath("limit")); limitVal.Exists() {
			n, err := limitVal.Int64()
			if err != nil {
				return nil, formatCUEError(err)
			}
			c.Limit = int(n)
		}
		out = append(out, c)
	}
	return out, nil
}

func requiredString(v cue.Value, name, path string) (string, error) {
	sv := v.LookupPath(cue.ParsePath(name))
	if !sv.Exists() {
		return "", &CompileError{Field: path + "." + name, Message: name + " is required", Pos: v.Pos()}
	}
	s, err := sv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
