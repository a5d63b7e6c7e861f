package evolution

import (
	"errors"
	"fmt"

	"github.com/roach88/concord/internal/crdt"
)

// ErrSchemaLocked is matched by every *LockedError.
var ErrSchemaLocked = errors.New("schema locked")

// LockedError reports a strategy change that no replica may make.
type LockedError struct {
	Field string
	From  crdt.Strategy
	To    crdt.Strategy
}

// Error implements the error interface.
func (e *LockedError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("cannot migrate %s to %s: schema locked", e.From, e.To)
	}
	return fmt.Sprintf("field %q: cannot migrate %s to %s: schema locked", e.Field, e.From, e.To)
}

// Is makes errors.Is(err, ErrSchemaLocked) match.
func (e *LockedError) Is(target error) bool {
	return target == ErrSchemaLocked
}

// IsSchemaLocked reports whether err is or wraps ErrSchemaLocked.
func IsSchemaLocked(err error) bool {
	return errors.Is(err, ErrSchemaLocked)
}
