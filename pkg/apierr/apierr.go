// Package apierr provides the tagged error-kind union shared by every
// component. Components never return bare errors across their public
// contract; they wrap or construct an *Error carrying one of the stable
// kinds below so the HTTP router can map it to a wire code without
// inspecting error strings.
package apierr

import (
	"errors"
	"fmt"
)

// Kind is a stable wire-facing error classification.
type Kind string

const (
	// InvalidInput covers validation, normalization, and client-side policy violations.
	InvalidInput Kind = "INVALID_INPUT"
	// AuthExpired means the upstream rejected current credentials.
	AuthExpired Kind = "AUTH_EXPIRED"
	// RateLimited means a self-imposed cooldown or an upstream 429.
	RateLimited Kind = "RATE_LIMITED"
	// UpstreamError means a third-party non-recoverable failure or malformed response.
	UpstreamError Kind = "UPSTREAM_ERROR"
	// DependencyMissing means a required local tool or model is not installed.
	DependencyMissing Kind = "DEPENDENCY_MISSING"
	// Internal is the fallback for unexpected bugs.
	Internal Kind = "INTERNAL_ERROR"
)

// Error is the tagged error carried across every component boundary.
type Error struct {
	cause   error
	Kind    Kind
	Message string
	// RetryAfterSeconds is set for RateLimited errors when the upstream or
	// the self-imposed cooldown provided a concrete wait time.
	RetryAfterSeconds int
	// Data carries a structured payload through to the HTTP envelope's
	// data field even on failure, e.g. the cooldown {remaining_seconds,
	// next_allowed_at_epoch} shape spec §4.9/§6 require alongside a
	// RATE_LIMITED rejection.
	Data any
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error { return e.cause }

// New constructs a bare *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs a bare *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error with a kind, preserving it as the cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// RateLimit constructs a RateLimited error with a known remaining duration.
func RateLimit(message string, retryAfterSeconds int) *Error {
	return &Error{Kind: RateLimited, Message: message, RetryAfterSeconds: retryAfterSeconds}
}

// WithData attaches a structured payload to e, surfaced in the HTTP
// envelope's data field alongside the error's code/message. Returns e
// for chaining at the call site.
func (e *Error) WithData(data any) *Error {
	e.Data = data
	return e
}

// KindOf extracts the Kind from err, defaulting to Internal for untagged errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
