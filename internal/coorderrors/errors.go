// Package coorderrors provides the structured error taxonomy the coordinator
// uses at every component boundary. Each error kind maps to a class of
// caller-visible outcome (HTTP-equivalent status, retry behavior, whether the
// process should keep running) while still supporting errors.Is/As chains
// back to the underlying cause.
package coorderrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a CoordError into one of the taxonomy buckets described by
// the coordinator's error handling design.
type Kind string

const (
	// KindValidation marks malformed input at a boundary (HTTP 422-equivalent).
	KindValidation Kind = "validation"
	// KindAuthentication marks a missing or invalid credential (401-equivalent).
	KindAuthentication Kind = "authentication"
	// KindAuthorization marks a permission failure (403-equivalent).
	KindAuthorization Kind = "authorization"
	// KindNotFound marks a conversation/agent/task/capability lookup miss (404-equivalent).
	KindNotFound Kind = "not_found"
	// KindMarketplace marks a failed downstream marketplace call, such as a non-2xx response (502-equivalent).
	// The marketplace client does not retry, so no retries precede it.
	KindMarketplace Kind = "marketplace"
	// KindCoordination marks an internal consistency failure: agent missing,
	// capability missing, invalid task transition. Logged with full context
	// and surfaced as 500-equivalent; never crashes the coordinator.
	KindCoordination Kind = "coordination"
	// KindRateLimit marks a caller that must back off; carries a Retry-After hint.
	KindRateLimit Kind = "rate_limit"
	// KindFatal marks a configuration or initialization failure. Only Fatal
	// errors should abort process startup.
	KindFatal Kind = "fatal"
)

// CoordError is the structured error type returned across every component
// boundary in the coordinator. It preserves message, kind, and an optional
// cause chain so errors.Is/As keep working through wrapping.
type CoordError struct {
	Kind    Kind
	Message string
	// Entity identifies the object involved (agent id, task id, conflict id,
	// conversation id) for log correlation. Optional.
	Entity string
	// RetryAfter is set on KindRateLimit errors.
	RetryAfter time.Duration
	// MarketplaceName and StatusCode are set on KindMarketplace errors.
	MarketplaceName string
	StatusCode      int

	cause error
}

// Error implements the error interface.
func (e *CoordError) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind) + ": " + e.Message
	if e.Entity != "" {
		msg += " (" + e.Entity + ")"
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

// Unwrap supports errors.Is/As across the wrapped cause.
func (e *CoordError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// New constructs a CoordError of the given kind with no cause.
func New(kind Kind, message string) *CoordError {
	return &CoordError{Kind: kind, Message: message}
}

// Newf constructs a CoordError of the given kind using a format string.
func Newf(kind Kind, format string, args ...any) *CoordError {
	return &CoordError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs a CoordError of the given kind that wraps an underlying cause.
func Wrap(kind Kind, message string, cause error) *CoordError {
	return &CoordError{Kind: kind, Message: message, cause: cause}
}

// WithEntity returns a copy of e annotated with the entity id involved in the
// failure (agent id, task id, conflict id, conversation id).
func (e *CoordError) WithEntity(entity string) *CoordError {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Entity = entity
	return &clone
}

// Validation constructs a KindValidation error.
func Validation(format string, args ...any) *CoordError {
	return Newf(KindValidation, format, args...)
}

// Authentication constructs a KindAuthentication error.
func Authentication(format string, args ...any) *CoordError {
	return Newf(KindAuthentication, format, args...)
}

// Authorization constructs a KindAuthorization error.
func Authorization(format string, args ...any) *CoordError {
	return Newf(KindAuthorization, format, args...)
}

// NotFound constructs a KindNotFound error for the named entity kind and id.
func NotFound(entityKind, entityID string) *CoordError {
	return &CoordError{
		Kind:    KindNotFound,
		Message: entityKind + " not found",
		Entity:  entityID,
	}
}

// Marketplace constructs a KindMarketplace error carrying the marketplace
// name and the HTTP status code of the failed call (the marketplace client
// makes a single attempt per call).
func Marketplace(marketplaceName string, statusCode int, cause error) *CoordError {
	return &CoordError{
		Kind:            KindMarketplace,
		Message:         "marketplace call failed",
		MarketplaceName: marketplaceName,
		StatusCode:      statusCode,
		cause:           cause,
	}
}

// Coordination constructs a KindCoordination error for an internal
// consistency failure (agent missing, capability missing, invalid task
// transition). Callers at a background loop boundary should log and
// continue rather than propagate.
func Coordination(entity string, format string, args ...any) *CoordError {
	return (&CoordError{Kind: KindCoordination, Message: fmt.Sprintf(format, args...)}).WithEntity(entity)
}

// RateLimit constructs a KindRateLimit error with a Retry-After hint.
func RateLimit(retryAfter time.Duration, format string, args ...any) *CoordError {
	return &CoordError{Kind: KindRateLimit, Message: fmt.Sprintf(format, args...), RetryAfter: retryAfter}
}

// Fatal constructs a KindFatal error. Only startup code should treat this as
// a reason to abort; runtime components must never return Fatal errors.
func Fatal(format string, args ...any) *CoordError {
	return Newf(KindFatal, format, args...)
}

// Is reports whether target is a CoordError with the same Kind, enabling
// errors.Is(err, coorderrors.New(coorderrors.KindNotFound, "")) style checks
// that only compare on kind.
func (e *CoordError) Is(target error) bool {
	var other *CoordError
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// IsKind reports whether err is (or wraps) a CoordError of the given kind.
func IsKind(err error, kind Kind) bool {
	var ce *CoordError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Kind == kind
}
