package crdt

import "errors"

var (
	// ErrTypeMismatch is returned when a payload, intent or state is handed
	// to a state of a different strategy.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrUnknownStrategy is returned for an unrecognized strategy tag.
	ErrUnknownStrategy = errors.New("unknown strategy")

	// ErrIndexOutOfRange is returned when a positional intent names an
	// index outside the visible sequence.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrInvalidIntent is returned for intents that can never be prepared,
	// such as a negative increment.
	ErrInvalidIntent = errors.New("invalid intent")

	// ErrInvalidOperation is returned for malformed operations.
	ErrInvalidOperation = errors.New("invalid operation")
)
