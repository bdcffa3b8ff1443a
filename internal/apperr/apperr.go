// Package apperr defines the error taxonomy shared by the sync and bundle
// engines and the remote adapters.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how callers are expected to react to it.
type Kind int

const (
	// KindTransport covers network and provider availability failures.
	// Only the task runner retries these.
	KindTransport Kind = iota + 1

	// KindAuthorization covers expired or rejected credentials. Never retried.
	KindAuthorization

	// KindConsistency covers local invariants that did not hold. Always fatal
	// to the current operation.
	KindConsistency

	// KindConflict covers remote state that already exists in another shape
	// (a label with the same name, a filter with a different target).
	KindConflict

	// KindRemote covers any other non-2xx provider response.
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAuthorization:
		return "authorization"
	case KindConsistency:
		return "consistency"
	case KindConflict:
		return "conflict"
	case KindRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Sentinel errors wrapped by Error values or returned directly.
var (
	ErrNotFound          = errors.New("not found")
	ErrBundleNotFound    = errors.New("bundle not found")
	ErrThreadNotInBundle = errors.New("thread is not in the source bundle")
	ErrBatchMismatch     = errors.New("batch insert row count mismatch")
	ErrSyncInProgress    = errors.New("sync already running for account")
	ErrMoveInProgress    = errors.New("move already running for thread")
)

// Error is a classified error. Status carries the provider's numeric
// status code when one was returned.
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transport wraps err as a transport failure.
func Transport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// Authorization wraps err as an authorization failure.
func Authorization(op string, err error) *Error {
	return &Error{Kind: KindAuthorization, Op: op, Err: err}
}

// Consistency wraps err as a consistency failure.
func Consistency(op string, err error) *Error {
	return &Error{Kind: KindConsistency, Op: op, Err: err}
}

// FromStatus classifies a non-2xx provider status code.
func FromStatus(op string, status int, err error) *Error {
	e := &Error{Op: op, Status: status, Err: err}
	switch {
	case status == 401 || status == 403:
		e.Kind = KindAuthorization
	case status == 408 || status == 429 || status >= 500:
		e.Kind = KindTransport
	case status == 409:
		e.Kind = KindConflict
	default:
		e.Kind = KindRemote
	}
	return e
}

// KindOf reports the Kind of the first Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsTransient reports whether err may succeed when retried.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransport
}

// IsAuth reports whether err is an authorization failure.
func IsAuth(err error) bool {
	return KindOf(err) == KindAuthorization
}

// IsConsistency reports whether err is a consistency failure.
func IsConsistency(err error) bool {
	return KindOf(err) == KindConsistency
}

// IsConflict reports whether err is a provider-state conflict.
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}

// StatusCode returns the provider status preserved in err's chain, or 0.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
