// Package failure defines the error kinds every public operation reports and
// their mapping to HTTP status codes.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	Unauthenticated        Kind = "unauthenticated"
	InactiveUser           Kind = "inactive_user"
	Forbidden              Kind = "forbidden"
	NotFound               Kind = "not_found"
	Validation             Kind = "validation_error"
	Conflict               Kind = "conflict"
	DepthExceeded          Kind = "depth_exceeded"
	RelationshipDisallowed Kind = "relationship_disallowed"
	ApprovalRequired       Kind = "approval_required"
	BudgetExceeded         Kind = "budget_exceeded"
	RateLimited            Kind = "rate_limited"
	CredentialMissing      Kind = "credential_missing"
	CredentialExpired      Kind = "credential_expired"
	InstanceUnavailable    Kind = "instance_unavailable"
	SkillDisabled          Kind = "skill_disabled"
	SkillError             Kind = "skill_error"
	LLMError               Kind = "llm_error"
	Timeout                Kind = "timeout"
	Internal               Kind = "internal"
)

// Error carries a Kind plus a caller-safe message and optional details.
type Error struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches another *Error by kind, so errors.Is(err, failure.New(failure.Conflict, ""))
// works as a kind test.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind to cause. The cause is kept for logs but never rendered.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithDetails returns a copy of e carrying details merged over existing ones.
func (e *Error) WithDetails(details map[string]any) *Error {
	out := *e
	out.Details = make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		out.Details[k] = v
	}
	for k, v := range details {
		out.Details[k] = v
	}
	return &out
}

// KindOf classifies any error. Context deadline errors count as Timeout.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Internal
}

// As extracts the *Error, classifying unknown errors as Internal.
func As(err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(Timeout, err, "deadline exceeded")
	}
	return Wrap(Internal, err, "internal error")
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the kind is a transient upstream failure.
func Retryable(kind Kind) bool {
	switch kind {
	case SkillError, LLMError, Timeout:
		return true
	default:
		return false
	}
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case Unauthenticated, InactiveUser:
		return http.StatusUnauthorized
	case Forbidden, RelationshipDisallowed, SkillDisabled:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Validation, DepthExceeded:
		return http.StatusBadRequest
	case Conflict, ApprovalRequired:
		return http.StatusConflict
	case BudgetExceeded:
		return http.StatusPaymentRequired
	case RateLimited:
		return http.StatusTooManyRequests
	case CredentialMissing, CredentialExpired:
		return http.StatusFailedDependency
	case InstanceUnavailable:
		return http.StatusServiceUnavailable
	case SkillError, LLMError:
		return http.StatusBadGateway
	case Timeout:
		return http.StatusGatewayTimeout
	case Internal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// KindForStatus maps a plain HTTP status (as raised by echo itself for
// routing or binding problems) back onto a kind.
func KindForStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized:
		return Unauthenticated
	case http.StatusForbidden:
		return Forbidden
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return NotFound
	case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusRequestEntityTooLarge:
		return Validation
	case http.StatusConflict:
		return Conflict
	case http.StatusTooManyRequests:
		return RateLimited
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return Timeout
	}
	return Internal
}
