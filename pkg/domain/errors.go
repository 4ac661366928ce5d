package domain

import "errors"

// Common domain errors
var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrUpstreamUnreachable   = errors.New("upstream service unreachable")
	ErrMisconfiguredEndpoint = errors.New("misconfigured endpoint")
	ErrPolicyDenied          = errors.New("request denied by policy")
	ErrRateLimited           = errors.New("rate limit exceeded")
)

// Machine-readable error codes carried in ErrorResponse.
const (
	CodeInvalidInput          = "INVALID_INPUT"
	CodeUpstreamUnreachable   = "UPSTREAM_UNREACHABLE"
	CodeMisconfiguredEndpoint = "MISCONFIGURED_ENDPOINT"
	CodePolicyDenied          = "POLICY_DENIED"
	CodeRateLimited           = "RATE_LIMITED"
	CodeInternal              = "INTERNAL_ERROR"
)

// DomainError wraps errors with additional context.
//
//nolint:revive // Name is intentionally verbose to distinguish domain-layer errors
type DomainError struct {
	Err     error
	Code    string
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewInvalidInput returns a DomainError wrapping ErrInvalidInput.
func NewInvalidInput(message string) *DomainError {
	return &DomainError{Err: ErrInvalidInput, Code: CodeInvalidInput, Message: message}
}

// CodeFor maps an error to its machine-readable code.
func CodeFor(err error) string {
	var de *DomainError
	if errors.As(err, &de) && de.Code != "" {
		return de.Code
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrUpstreamUnreachable):
		return CodeUpstreamUnreachable
	case errors.Is(err, ErrMisconfiguredEndpoint):
		return CodeMisconfiguredEndpoint
	case errors.Is(err, ErrPolicyDenied):
		return CodePolicyDenied
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	default:
		return CodeInternal
	}
}

// ErrorResponse defines the standard JSON error model returned by the edge.
// It intentionally avoids exposing sensitive details while providing a stable machine-readable code.
// TraceID should carry the current OpenTelemetry trace identifier when available to aid diagnostics.
type ErrorResponse struct {
	Code    string `json:"code"`               // Machine-readable error code (e.g., INVALID_INPUT)
	Message string `json:"message"`            // Human-readable message (safe for logs)
	TraceID string `json:"trace_id,omitempty"` // Optional trace/correlation ID
}
