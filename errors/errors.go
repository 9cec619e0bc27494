package errors

import (
	"errors"
	"fmt"
)

// Kinds surfaced to callers of the chat core.
// Every store-level failure is converted into one of them at the call site.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrValidation   = fmt.Errorf("validation error")
	ErrWriteFailure = fmt.Errorf("write failure")
	ErrSubscription = fmt.Errorf("subscription error")
)

// Document store errors
var (
	ErrDocumentNotFound = fmt.Errorf("document not found")
	ErrDocumentExists   = fmt.Errorf("document already exists")
	ErrStoreClosed      = fmt.Errorf("store closed")
	ErrInvalidPath      = fmt.Errorf("invalid document path")
	ErrUnsupportedValue = fmt.Errorf("unsupported field value")
	ErrMalformedValue   = fmt.Errorf("malformed stored value")
	ErrTooManyConflicts = fmt.Errorf("too many transaction conflicts")
)

var (
	ErrInvalidToken      = fmt.Errorf("invalid token")
	ErrTokenGeneration   = fmt.Errorf("token generation failed")
	ErrRoomCodeExhausted = fmt.Errorf("no free room code found")
	ErrSessionBound      = fmt.Errorf("session already bound to another room")
	ErrWorkerPanic       = fmt.Errorf("worker panic")
	ErrUnknownDriver     = fmt.Errorf("unknown store driver")
)

type Kind string

const (
	KindNone         Kind = ""
	KindNotFound     Kind = "NotFound"
	KindValidation   Kind = "ValidationError"
	KindWriteFailure Kind = "WriteFailure"
	KindSubscription Kind = "SubscriptionError"
	KindUnknown      Kind = "Unknown"
)

// KindOf reports which kind of the taxonomy err belongs to.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrWriteFailure):
		return KindWriteFailure
	case errors.Is(err, ErrSubscription):
		return KindSubscription
	default:
		return KindUnknown
	}
}

// Is is errors.Is, so callers importing this package need no alias for the standard one.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
