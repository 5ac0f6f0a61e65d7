package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/sadhana/internal/journal"
)

// Error is a policy rejection raised by the engine or the tracker before any
// state changes.
//
// Remote faults are not wrapped in Error; they surface as *remote.Error.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Key identifies the affected (dayKey, itemId), when there is one.
	Key *journal.Key
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeInFlight means a write for the same key is still outstanding.
	ErrCodeInFlight ErrorCode = "WRITE_IN_FLIGHT"

	// ErrCodeCapReached means the item was already completed the maximum
	// number of times today.
	ErrCodeCapReached ErrorCode = "CAP_REACHED"

	// ErrCodeUnknownItem means the item is not in the active catalog.
	ErrCodeUnknownItem ErrorCode = "UNKNOWN_ITEM"

	// ErrCodeNotFound means there was nothing to delete.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeInvalidEvent means the event failed validation.
	ErrCodeInvalidEvent ErrorCode = "INVALID_EVENT"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key != nil {
		return fmt.Sprintf("%s: %s (key=%s)", e.Code, e.Message, e.Key)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsInFlight returns true if err reports a concurrent write for the same key.
func IsInFlight(err error) bool {
	return hasCode(err, ErrCodeInFlight)
}

// IsCapReached returns true if err reports the per-day cap.
func IsCapReached(err error) bool {
	return hasCode(err, ErrCodeCapReached)
}

// IsUnknownItem returns true if err reports an item missing from the catalog.
func IsUnknownItem(err error) bool {
	return hasCode(err, ErrCodeUnknownItem)
}

// IsNotFound returns true if err reports a delete with no matching event.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsInvalidEvent returns true if err reports a malformed event.
func IsInvalidEvent(err error) bool {
	return hasCode(err, ErrCodeInvalidEvent)
}

// CodeOf returns the engine error code carried by err, or "".
func CodeOf(err error) ErrorCode {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

func hasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// NewInFlightError creates an Error for a key with an outstanding write.
func NewInFlightError(k journal.Key) *Error {
	return &Error{Code: ErrCodeInFlight, Message: "a write for this item and day is already in progress", Key: &k}
}

// NewCapError creates an Error for an item completed limit times today.
func NewCapError(k journal.Key, limit int) *Error {
	return &Error{Code: ErrCodeCapReached, Message: fmt.Sprintf("already completed %d times today", limit), Key: &k}
}

// NewUnknownItemError creates an Error for an id missing from the catalog.
func NewUnknownItemError(id string) *Error {
	return &Error{Code: ErrCodeUnknownItem, Message: fmt.Sprintf("item %q is not in the active catalog", id)}
}

// NewNotFoundError creates an Error for a delete that matched nothing.
func NewNotFoundError(k journal.Key) *Error {
	return &Error{Code: ErrCodeNotFound, Message: "no completion recorded for this item and day", Key: &k}
}

// NewInvalidEventError wraps a validation failure.
func NewInvalidEventError(err error) *Error {
	return &Error{Code: ErrCodeInvalidEvent, Message: err.Error()}
}
