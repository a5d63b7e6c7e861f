package compiler

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/concord/internal/constraint"
	"github.com/roach88/concord/internal/crdt"
)

// Validation error codes (E200-E299)
const (
	// General validation errors (E200)
	ErrInvalidSchema = "E200" // struct-level validation failed

	// Schema errors (E201-E209)
	ErrSchemaName           = "E201" // schema name missing or not an identifier
	ErrSchemaVersion        = "E202" // version must be >= 1
	ErrNoFields             = "E203" // at least one field required
	ErrUnknownStrategy      = "E204" // strategy tag not recognized
	ErrInvalidFieldType     = "E205" // malformed type string
	ErrFloatTypeForbidden   = "E206" // float types not allowed
	ErrIncompatibleStrategy = "E207" // strategy cannot hold the declared type
	ErrDuplicateName        = "E208" // duplicate field or constraint name
	ErrInvalidField         = "E209" // field declaration malformed

	// Constraint errors (E210-E219)
	ErrUnknownFieldRef       = "E210" // constraint references an unknown field
	ErrUnknownConstraintKind = "E211" // built-in kind not recognized
	ErrConstraintCategory    = "E212" // declared category disagrees with the kind or field strategies
	ErrInvalidConstraint     = "E213" // constraint declaration malformed

	// Evolution errors (E220-E229)
	ErrSchemaLocked   = "E220" // unsafe strategy change
	ErrVersionOrder   = "E221" // next version must be greater
	ErrSchemaMismatch = "E222" // comparing schemas of different documents
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors is a non-empty list of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (es ValidationErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// schemaValidate is the shared struct validator for schema types.
var schemaValidate = newValidator()

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("ident", func(fl validator.FieldLevel) bool {
		return identPattern.MatchString(fl.Field().String())
	})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks a compiled schema. Returns all errors found (does not
// fail-fast).
func Validate(s *Schema) []ValidationError {
	if s == nil {
		return []ValidationError{{Field: "schema", Message: "schema is nil", Code: ErrInvalidSchema}}
	}

	errs := structErrors(schemaValidate.Struct(s))

	fieldNames := make(map[string]bool)
	for i, f := range s.Fields {
		path := fmt.Sprintf("fields[%d]", i)

		// E208: duplicate field name
		if fieldNames[f.Name] {
			errs = append(errs, ValidationError{
				Field:   path + ".name",
				Message: fmt.Sprintf("duplicate field name: %q", f.Name),
				Code:    ErrDuplicateName,
			})
		}
		fieldNames[f.Name] = true
		errs = append(errs, validateField(f, path)...)
	}

	constraintNames := make(map[string]bool)
	for i, c := range s.Constraints {
		path := fmt.Sprintf("constraints[%d]", i)
		if constraintNames[c.Name] {
			errs = append(errs, ValidationError{
				Field:   path + ".name",
				Message: fmt.Sprintf("duplicate constraint name: %q", c.Name),
				Code:    ErrDuplicateName,
			})
		}
		constraintNames[c.Name] = true
		errs = append(errs, validateConstraint(s, c, path)...)
	}
	return errs
}

// validateField checks the strategy tag and type/strategy compatibility.
func validateField(f FieldSpec, path string) []ValidationError {
	var errs []ValidationError

	// E204: unknown strategy
	if f.Strategy != "" && !f.Strategy.Valid() {
		errs = append(errs, ValidationError{
			Field:   path + ".strategy",
			Message: fmt.Sprintf("unknown strategy %q for field %q", f.Strategy, f.Name),
			Code:    ErrUnknownStrategy,
		})
	}
	if f.Type == "" {
		return errs
	}

	// E206: float forbidden
	if containsFloat(f.Type) {
		return append(errs, ValidationError{
			Field:   path + ".type",
			Message: fmt.Sprintf("float type forbidden for field %q, use an integer type instead", f.Name),
			Code:    ErrFloatTypeForbidden,
		})
	}

	// E205: malformed type
	allowed := CompatibleStrategies(f.Type)
	if allowed == nil {
		return append(errs, ValidationError{
			Field:   path + ".type",
			Message: fmt.Sprintf("invalid type %q for field %q", f.Type, f.Name),
			Code:    ErrInvalidFieldType,
		})
	}

	// E207: incompatible strategy
	if f.Strategy.Valid() && !slices.Contains(allowed, f.Strategy) {
		errs = append(errs, ValidationError{
			Field:   path + ".strategy",
			Message: fmt.Sprintf("%s cannot be used with type %s; valid strategies: %s", f.Strategy, f.Type, joinStrategies(allowed)),
			Code:    ErrIncompatibleStrategy,
		})
	}
	return errs
}

// validateConstraint resolves the built-in kind and classifies it against
// the schema's strategies.
func validateConstraint(s *Schema, c ConstraintSpec, path string) []ValidationError {
	var errs []ValidationError
	strategies := s.Strategies()

	for j, name := range c.Fields {
		// E210: unknown field
		if _, ok := strategies[name]; !ok {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s.fields[%d]", path, j),
				Message: fmt.Sprintf("constraint %q references unknown field %q", c.Name, name),
				Code:    ErrUnknownFieldRef,
			})
		}
	}
	if len(errs) > 0 || c.Kind == "" || len(c.Fields) == 0 {
		return errs
	}

	decls, err := declarations(c)
	if err != nil {
		code := ErrInvalidConstraint
		if errors.Is(err, errUnknownKind) {
			code = ErrUnknownConstraintKind
		}
		return append(errs, ValidationError{Field: path + ".kind", Message: err.Error(), Code: code})
	}

	// E212: category mismatch or misclassification
	engine := constraint.NewEngine()
	for _, d := range decls {
		if string(d.Category) != c.Category {
			errs = append(errs, ValidationError{
				Field:   path + ".category",
				Message: fmt.Sprintf("%s constraints are %s, declared %s", c.Kind, d.Category, c.Category),
				Code:    ErrConstraintCategory,
			})
			break
		}
		if err := engine.Register(d, strategies); err != nil {
			errs = append(errs, ValidationError{Field: path, Message: err.Error(), Code: ErrConstraintCategory})
			break
		}
	}
	return errs
}

// structErrors maps validator/v10 failures to validation errors.
func structErrors(err error) []ValidationError {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationError{{Field: "schema", Message: err.Error(), Code: ErrInvalidSchema}}
	}

	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Schema.")
		out = append(out, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("failed %q check (value %v)", fe.Tag(), fe.Value()),
			Code:    codeFor(fe),
		})
	}
	return out
}

func codeFor(fe validator.FieldError) string {
	switch ns := fe.StructNamespace(); {
	case ns == "Schema.Name":
		return ErrSchemaName
	case ns == "Schema.Version":
		return ErrSchemaVersion
	case ns == "Schema.Fields":
		return ErrNoFields
	case strings.HasPrefix(ns, "Schema.Fields"):
		return ErrInvalidField
	case strings.HasPrefix(ns, "Schema.Constraints"):
		return ErrInvalidConstraint
	}
	return ErrInvalidSchema
}

func joinStrategies(list []crdt.Strategy) string {
	parts := make([]string, len(list))
	for i, s := range list {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}
