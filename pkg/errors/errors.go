// Package errors defines the typed error kinds the proxy uses to map
// internal failures onto the HTTP status contract described in the
// error handling design.
package errors

import (
	"fmt"
	"net/http"
)

// Kind identifies the category of a proxy error.
type Kind int

const (
	// Unknown is a catch-all for errors that were never classified.
	Unknown Kind = iota

	// BadRequest covers malformed params, undecodable base64/hex, and
	// unsupported decrypt methods.
	BadRequest

	// UpstreamError covers non-2xx responses from the origin; the
	// upstream status is carried in Error.Status.
	UpstreamError

	// GatewayTimeout covers upstream fetches that exceeded their
	// per-request deadline.
	GatewayTimeout

	// Forbidden covers a KID that doesn't match any supplied key.
	Forbidden

	// UnprocessableEntity covers a decryption primitive failure.
	UnprocessableEntity

	// Internal covers bugs and invariant violations.
	Internal
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case BadRequest:
		return "bad_request"
	case UpstreamError:
		return "upstream_error"
	case GatewayTimeout:
		return "gateway_timeout"
	case Forbidden:
		return "forbidden"
	case UnprocessableEntity:
		return "unprocessable_entity"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the proxy's error type: a Kind, a short message safe to
// return to the client, and an optional wrapped cause kept for logs
// only (never rendered to the client, so upstream credentials baked
// into a URL don't leak).
type Error struct {
	Kind    Kind
	Message string
	Status  int // upstream status, only meaningful for UpstreamError
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error that wraps an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WrapUpstream creates an UpstreamError carrying the mirrored status.
func WrapUpstream(status int, message string, cause error) *Error {
	return &Error{Kind: UpstreamError, Message: message, Status: status, Cause: cause}
}

// KindOf returns the Kind of err, or Unknown if err is not an *Error.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return Unknown
}

// StatusFor maps an Error's kind (and, for UpstreamError, its mirrored
// status) onto the HTTP status code the API layer should return.
func StatusFor(err error) int {
	e, ok := err.(*Error)
	if !ok {
		return http.StatusInternalServerError
	}

	switch e.Kind {
	case BadRequest:
		return http.StatusBadRequest
	case UpstreamError:
		if e.Status >= 400 && e.Status < 600 {
			return e.Status
		}
		return http.StatusBadGateway
	case GatewayTimeout:
		return http.StatusGatewayTimeout
	case Forbidden:
		return http.StatusForbidden
	case UnprocessableEntity:
		return http.StatusUnprocessableEntity
	case Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Convenience constructors mirroring the common-case errors the proxy
// raises at each stage of request handling.

// NewBadRequest creates a BadRequest error with the given message.
func NewBadRequest(message string) *Error {
	return New(BadRequest, message)
}

// NewForbidden creates a Forbidden error, e.g. for a KID that has no
// matching client-supplied key.
func NewForbidden(message string) *Error {
	return New(Forbidden, message)
}

// NewUnprocessable creates an UnprocessableEntity error for a
// decryption primitive failure.
func NewUnprocessable(message string, cause error) *Error {
	return Wrap(UnprocessableEntity, message, cause)
}

// NewGatewayTimeout creates a GatewayTimeout error.
func NewGatewayTimeout(message string, cause error) *Error {
	return Wrap(GatewayTimeout, message, cause)
}

// NewInternal creates an Internal error for invariant violations.
func NewInternal(message string, cause error) *Error {
	return Wrap(Internal, message, cause)
}
