package document

import (
	"errors"
	"fmt"

	"github.com/roach88/concord/internal/crdt"
	"github.com/roach88/concord/internal/escrow"
	"github.com/roach88/concord/internal/evolution"
)

// ErrSchemaLocked is returned for strategy changes outside Migrate.
var ErrSchemaLocked = evolution.ErrSchemaLocked

// ErrUnknownField is returned for operations on unregistered fields.
var ErrUnknownField = errors.New("unknown field")

// ErrRevisionAhead is returned for a remote operation or snapshot from a
// replica that has migrated a field this document has not migrated yet.
var ErrRevisionAhead = errors.New("field revision ahead of local schema")

// Reason categorizes why a local mutation was rejected.
type Reason string

const (
	// ReasonEscrowExceeded means a strong constraint's cost did not fit the
	// actor's escrow budget.
	ReasonEscrowExceeded Reason = "ESCROW_EXCEEDED"

	// ReasonTypeMismatch means the intent does not fit the field strategy.
	ReasonTypeMismatch Reason = "TYPE_MISMATCH"

	// ReasonSchemaLocked means the field is unknown or its strategy cannot
	// accept the change.
	ReasonSchemaLocked Reason = "SCHEMA_LOCKED"

	// ReasonInvalidIntent means the intent can never apply, such as an
	// index past the end of a sequence.
	ReasonInvalidIntent Reason = "INVALID_INTENT"
)

// Rejected is returned when a local mutation is refused. Nothing was
// applied or emitted.
type Rejected struct {
	Reason Reason
	Field  string
	Err    error
}

// Error implements the error interface.
func (e *Rejected) Error() string {
	return fmt.Sprintf("%s: field %q: %v", e.Reason, e.Field, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Rejected) Unwrap() error { return e.Err }

// reject classifies err into a Rejected.
func reject(field string, err error) *Rejected {
	r := &Rejected{Field: field, Err: err}
	switch {
	case errors.Is(err, escrow.ErrEscrowExceeded):
		r.Reason = ReasonEscrowExceeded
	case errors.Is(err, crdt.ErrTypeMismatch):
		r.Reason = ReasonTypeMismatch
	case errors.Is(err, ErrSchemaLocked), errors.Is(err, ErrUnknownField):
		r.Reason = ReasonSchemaLocked
	default:
		r.Reason = ReasonInvalidIntent
	}
	return r
}

// IsRejected reports whether err is a *Rejected with the given reason.
// Uses errors.As to handle wrapped errors.
func IsRejected(err error, reason Reason) bool {
	var r *Rejected
	if errors.As(err, &r) {
		return r.Reason == reason
	}
	return false
}
