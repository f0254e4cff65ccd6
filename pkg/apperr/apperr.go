// Package apperr defines the error taxonomy shared across InfraLLM's
// components and the HTTP boundary that translates it into responses.
package apperr

import "fmt"

// Kind classifies an error for translation into a client-visible status code.
type Kind string

// Error kinds, matching the taxonomy table in spec.md §7.
const (
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindInvalidArgument Kind = "invalid_argument"
	KindPolicyDenied    Kind = "policy_denied"
	KindUpstreamFailure Kind = "upstream_failure"
	KindCanceled        Kind = "canceled"
	KindInternal        Kind = "internal"
)

// StatusCode returns the HTTP status code a Kind maps to.
func (k Kind) StatusCode() int {
	switch k {
	case KindUnauthenticated:
		return 401
	case KindForbidden:
		return 403
	case KindNotFound:
		return 404
	case KindInvalidArgument:
		return 400
	case KindPolicyDenied:
		return 403
	case KindUpstreamFailure:
		return 502
	case KindCanceled:
		return 499
	default:
		return 500
	}
}

// Error is a structured error carrying a Kind plus optional policy-denial
// context. It wraps Cause so errors.Is/errors.As keep working through it.
type Error struct {
	Kind         Kind
	Message      string
	DenialReason string // only meaningful when Kind == KindPolicyDenied
	MatchedRule  string // the pattern or policy name that triggered a denial
	Cause        error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a plain Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Denied constructs a KindPolicyDenied error with reason/rule context.
func Denied(reason, matchedRule string) *Error {
	return &Error{
		Kind:         KindPolicyDenied,
		Message:      "command denied by policy",
		DenialReason: reason,
		MatchedRule:  matchedRule,
	}
}

// NotFound is a convenience constructor for the common not-found case.
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %q not found", entity, id)}
}

// Forbidden is a convenience constructor for cross-tenant/cross-user denial.
func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

// Invalid is a convenience constructor for schema/range violations.
func Invalid(message string) *Error {
	return &Error{Kind: KindInvalidArgument, Message: message}
}

// Upstream wraps a transport failure (SSH, MCP, LLM provider).
func Upstream(message string, cause error) *Error {
	return &Error{Kind: KindUpstreamFailure, Message: message, Cause: cause}
}

// Canceled marks client-disconnect/explicit-cancel termination.
func Canceled(message string) *Error {
	return &Error{Kind: KindCanceled, Message: message}
}

// Internal wraps an unhandled error.
func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Cause: cause}
}
