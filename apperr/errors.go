// Package apperr defines the error taxonomy shared by the reputation and guild services.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for callers and transports.
type Kind string

const (
	KindValidation        Kind = "VALIDATION_ERROR"
	KindPermissionDenied  Kind = "PERMISSION_DENIED"
	KindCapacityExceeded  Kind = "CAPACITY_EXCEEDED"
	KindInsufficientFunds Kind = "INSUFFICIENT_FUNDS"
	KindConflict          Kind = "CONFLICT"
	KindNotFound          Kind = "NOT_FOUND"
	KindState             Kind = "STATE_ERROR"
	KindPerkUnavailable   Kind = "PERK_UNAVAILABLE"
	KindUnavailable       Kind = "UNAVAILABLE"
	KindInternal          Kind = "INTERNAL_ERROR"
)

// Sentinels usable with errors.Is; an *Error matches the sentinel of its Kind.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrPermissionDenied  = &Error{Kind: KindPermissionDenied}
	ErrCapacityExceeded  = &Error{Kind: KindCapacityExceeded}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrState             = &Error{Kind: KindState}
	ErrPerkUnavailable   = &Error{Kind: KindPerkUnavailable}
	ErrUnavailable       = &Error{Kind: KindUnavailable}
	ErrInternal          = &Error{Kind: KindInternal}
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(err error, kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func Validation(msg string) *Error        { return New(KindValidation, msg) }
func PermissionDenied(msg string) *Error  { return New(KindPermissionDenied, msg) }
func CapacityExceeded(msg string) *Error  { return New(KindCapacityExceeded, msg) }
func InsufficientFunds(msg string) *Error { return New(KindInsufficientFunds, msg) }
func Conflict(msg string) *Error          { return New(KindConflict, msg) }
func NotFound(msg string) *Error          { return New(KindNotFound, msg) }
func State(msg string) *Error             { return New(KindState, msg) }

// KindOf returns the Kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Internal wraps an unexpected store or runtime error. Already classified
// errors pass through untouched so transaction callbacks can return either.
func Internal(err error, msg string) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return Wrap(err, KindInternal, msg)
}

// Store classifies an error returned by the persistent store. Deadlines and
// cancellations surface as Unavailable; anything else unclassified is Internal.
func Store(err error, msg string) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Wrap(err, KindUnavailable, msg)
	}
	return Wrap(err, KindInternal, msg)
}
