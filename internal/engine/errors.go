package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected by the replica host itself, as
// opposed to errors from a document or the store, which are wrapped.
//
// RuntimeError includes structured fields for diagnostics.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// DocumentID identifies the affected document.
	DocumentID string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUnknownDocument indicates no document with the id is open.
	ErrCodeUnknownDocument RuntimeErrorCode = "UNKNOWN_DOCUMENT"

	// ErrCodeDuplicateDocument indicates the id is already open.
	ErrCodeDuplicateDocument RuntimeErrorCode = "DUPLICATE_DOCUMENT"

	// ErrCodeNoStore indicates persistence was requested without a store.
	ErrCodeNoStore RuntimeErrorCode = "NO_STORE"

	// ErrCodeNoQuorum indicates reconciliation was requested without a quorum.
	ErrCodeNoQuorum RuntimeErrorCode = "NO_QUORUM"

	// ErrCodeNoLedger indicates an escrow operation on a document without one.
	ErrCodeNoLedger RuntimeErrorCode = "NO_LEDGER"

	// ErrCodeInvalidEvent indicates a malformed queue event.
	ErrCodeInvalidEvent RuntimeErrorCode = "INVALID_EVENT"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.DocumentID != "" {
		return fmt.Sprintf("%s: %s (document=%s)", e.Code, e.Message, e.DocumentID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsUnknownDocument returns true if the error is an unknown document error.
// Uses errors.As to handle wrapped errors.
func IsUnknownDocument(err error) bool {
	return hasCode(err, ErrCodeUnknownDocument)
}

// IsDuplicateDocument returns true if the error is a duplicate document error.
func IsDuplicateDocument(err error) bool {
	return hasCode(err, ErrCodeDuplicateDocument)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

func newUnknownDocumentError(id string) *RuntimeError {
	return &RuntimeError{Code: ErrCodeUnknownDocument, Message: "document is not open", DocumentID: id}
}

func newDuplicateDocumentError(id string) *RuntimeError {
	return &RuntimeError{Code: ErrCodeDuplicateDocument, Message: "document is already open", DocumentID: id}
}

func newNoStoreError(id string) *RuntimeError {
	return &RuntimeError{Code: ErrCodeNoStore, Message: "engine has no store", DocumentID: id}
}

func newNoQuorumError(id string) *RuntimeError {
	return &RuntimeError{Code: ErrCodeNoQuorum, Message: "engine has no reconciliation quorum", DocumentID: id}
}

func newNoLedgerError(id string) *RuntimeError {
	return &RuntimeError{Code: ErrCodeNoLedger, Message: "document has no escrow ledger", DocumentID: id}
}

func newInvalidEventError(e Event, reason string) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodeInvalidEvent,
		Message:    reason,
		DocumentID: e.DocumentID,
		Details:    map[string]string{"type": e.Type.String()},
	}
}
