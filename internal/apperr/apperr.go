// Package apperr defines the machine-readable error kinds surfaced to API
// callers. Packages declare their own sentinel errors with New and wrap them
// with fmt.Errorf("%w ...") to add context.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for callers.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindInvalidSignature  Kind = "invalid_signature"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindInvalidAmount     Kind = "invalid_amount"
	KindDuplicateAddress  Kind = "duplicate_address"
	KindReplayDetected    Kind = "replay_detected"
	KindContention        Kind = "contention"
	KindInvalidArgument   Kind = "invalid_argument"
	KindUnavailable       Kind = "unavailable"
)

// Error is a sentinel error carrying a Kind.
type Error struct {
	kind Kind
	msg  string
}

// New returns a sentinel error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// Kind returns the classification of the error.
func (e *Error) Kind() Kind { return e.kind }

// KindOf reports the kind of the first *Error in err's chain. Errors without
// one are unexpected failures and classify as KindUnavailable.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnavailable
}

// Retryable reports whether the caller may retry the same request unchanged.
func Retryable(err error) bool {
	return KindOf(err) == KindContention
}

// HTTPStatus maps a kind to the status code used by the HTTP surface.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidSignature, KindInvalidAmount, KindInvalidArgument:
		return http.StatusBadRequest
	case KindInsufficientFunds:
		return http.StatusPaymentRequired
	case KindDuplicateAddress, KindReplayDetected:
		return http.StatusConflict
	case KindContention:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
