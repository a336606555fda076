package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindInvalidInput        Kind = "INVALID_INPUT"
	KindNotFound            Kind = "NOT_FOUND"
	KindInvalidReference    Kind = "INVALID_REFERENCE"
	KindConflict            Kind = "CONFLICT"
	KindInsufficientStock   Kind = "INSUFFICIENT_STOCK"
	KindUpstreamUnavailable Kind = "UPSTREAM_UNAVAILABLE"
	KindUnauthorized        Kind = "UNAUTHORIZED"
	KindForbidden           Kind = "FORBIDDEN"
	KindInternal            Kind = "INTERNAL"
)

// Error is the structured failure returned across package boundaries.
// Status, when non-zero, overrides the status derived from Kind; it is set
// when a downstream response is passed through unchanged.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func InvalidInput(msg string) *Error        { return New(KindInvalidInput, msg) }
func NotFound(msg string) *Error            { return New(KindNotFound, msg) }
func Conflict(msg string) *Error            { return New(KindConflict, msg) }
func Upstream(err error, msg string) *Error { return Wrap(KindUpstreamUnavailable, err, msg) }
func Internal(err error, msg string) *Error { return Wrap(KindInternal, err, msg) }

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the Kind of err; anything that is not an *Error is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }

func HTTPStatus(err error) int {
	if e, ok := As(err); ok && e.Status != 0 {
		return e.Status
	}
	switch KindOf(err) {
	case KindInvalidInput, KindInvalidReference, KindInsufficientStock:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// KindForStatus maps a downstream HTTP status back into the taxonomy.
func KindForStatus(code int) Kind {
	switch {
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusConflict:
		return KindConflict
	case code == http.StatusUnauthorized:
		return KindUnauthorized
	case code == http.StatusForbidden:
		return KindForbidden
	case code >= 400 && code < 500:
		return KindInvalidInput
	default:
		return KindUpstreamUnavailable
	}
}

// Message returns the user-visible message; internal causes are not leaked.
func Message(err error) string {
	if e, ok := As(err); ok {
		return e.Message
	}
	return "internal server error"
}
