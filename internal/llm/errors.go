package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorClass categorizes a provider failure for failover decisions.
type ErrorClass string

const (
	// ClassAuth covers invalid credentials, forbidden access and billing
	// problems. Retrying the same model cannot help.
	ClassAuth ErrorClass = "auth"

	// ClassRateLimited covers HTTP 429 and provider throttling.
	ClassRateLimited ErrorClass = "rate_limited"

	// ClassContextOverflow means the request exceeded the model's context window.
	ClassContextOverflow ErrorClass = "context_overflow"

	// ClassTransient covers timeouts, 5xx responses and dropped connections.
	ClassTransient ErrorClass = "transient"

	// ClassFatal covers malformed requests and unknown models.
	ClassFatal ErrorClass = "fatal"
)

// ProviderError represents a structured error from an LLM provider.
type ProviderError struct {
	// Class categorizes the error for retry/failover logic.
	Class ErrorClass

	// Provider is the registry id of the provider (e.g., "anthropic").
	Provider string

	// Model is the model that was requested.
	Model string

	// Status is the HTTP status code, if applicable.
	Status int

	// Code is the provider-specific error code.
	Code string

	// Message is the human-readable error message.
	Message string

	// RequestID is the provider's request ID for debugging.
	RequestID string

	// RetryAfter is the server-suggested wait, when the provider sent one.
	RetryAfter time.Duration

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Class))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a ProviderError classified from cause.
func NewProviderError(provider, model string, cause error) *ProviderError {
	e := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Class:    ClassTransient,
	}
	if cause != nil {
		e.Message = cause.Error()
	}
	e.reclassify()
	return e
}

// WithStatus adds the HTTP status and reclassifies.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	e.reclassify()
	return e
}

// WithCode adds a provider-specific error code and reclassifies.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	e.reclassify()
	return e
}

// WithMessage replaces the message and reclassifies.
func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	e.reclassify()
	return e
}

// WithRequestID adds the provider's request ID.
func (e *ProviderError) WithRequestID(id string) *ProviderError {
	e.RequestID = id
	return e
}

// WithRetryAfter records a server-suggested wait.
func (e *ProviderError) WithRetryAfter(d time.Duration) *ProviderError {
	e.RetryAfter = d
	return e
}

// reclassify derives Class from everything known so far. Overflow wins over
// the status code because providers report it as a plain 400.
func (e *ProviderError) reclassify() {
	if isOverflow(e.Code, e.Message) {
		e.Class = ClassContextOverflow
		return
	}
	if class, ok := classifyErrorCode(e.Code); ok {
		e.Class = class
		return
	}
	if class, ok := classifyStatusCode(e.Status); ok {
		e.Class = class
		return
	}
	if e.Cause != nil {
		e.Class = Classify(e.Cause)
		return
	}
	e.Class = classifyMessage(e.Message)
}

// GetProviderError extracts a ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Classify maps any error onto an ErrorClass. Unrecognized errors are
// treated as transient so a flaky network never skips straight to fatal.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	if pe, ok := GetProviderError(err); ok && pe.Class != "" {
		return pe.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	if errors.Is(err, context.Canceled) {
		return ClassFatal
	}
	return classifyMessage(err.Error())
}

// IsContextOverflow reports whether err is a context window overflow.
func IsContextOverflow(err error) bool {
	return Classify(err) == ClassContextOverflow
}

func isOverflow(code, msg string) bool {
	code = strings.ToLower(code)
	if code == "context_length_exceeded" || code == "request_too_large" {
		return true
	}
	lower := strings.ToLower(msg)
	for _, kw := range overflowKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

var overflowKeywords = []string{
	"context_length_exceeded",
	"context length",
	"context window",
	"maximum context",
	"prompt is too long",
	"too many tokens",
	"input is too long",
	"exceeds the maximum number of tokens",
	"request too large",
}

func classifyMessage(msg string) ErrorClass {
	lower := strings.ToLower(msg)
	switch {
	case isOverflow("", lower):
		return ClassContextOverflow
	case containsAny(lower, "rate limit", "rate_limit", "too many requests", "throttl", "429", "resource_exhausted"):
		return ClassRateLimited
	case containsAny(lower, "unauthorized", "invalid api key", "invalid_api_key", "authentication",
		"permission denied", "access denied", "forbidden", "billing", "payment", "insufficient_quota",
		"401", "402", "403"):
		return ClassAuth
	case containsAny(lower, "timeout", "timed out", "deadline exceeded", "etimedout", "connection reset",
		"connection refused", "eof", "internal server", "server error", "overloaded", "unavailable",
		"500", "502", "503", "504", "529"):
		return ClassTransient
	case containsAny(lower, "model not found", "model_not_found", "does not exist", "invalid_request",
		"invalid request", "validation", "content_filter", "content policy", "roles must alternate",
		"expected alternating"):
		return ClassFatal
	default:
		return ClassTransient
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// classifyStatusCode maps HTTP status codes onto classes.
func classifyStatusCode(status int) (ErrorClass, bool) {
	switch {
	case status == 0:
		return "", false
	case status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusPaymentRequired:
		return ClassAuth, true
	case status == http.StatusTooManyRequests:
		return ClassRateLimited, true
	case status == http.StatusRequestEntityTooLarge:
		return ClassContextOverflow, true
	case status == http.StatusRequestTimeout || status >= 500:
		return ClassTransient, true
	case status >= 400:
		return ClassFatal, true
	default:
		return "", false
	}
}

// classifyErrorCode maps provider-specific error codes onto classes.
func classifyErrorCode(code string) (ErrorClass, bool) {
	switch strings.ToLower(code) {
	case "":
		return "", false
	case "rate_limit_error", "rate_limit_exceeded", "throttlingexception", "resource_exhausted", "toomanyrequestsexception":
		return ClassRateLimited, true
	case "authentication_error", "invalid_api_key", "permission_error", "accessdeniedexception",
		"unrecognizedclientexception", "insufficient_quota", "billing_hard_limit_reached", "permission_denied", "unauthenticated":
		return ClassAuth, true
	case "context_length_exceeded", "request_too_large":
		return ClassContextOverflow, true
	case "server_error", "api_error", "overloaded_error", "serviceunavailableexception", "internalserverexception",
		"modeltimeoutexception", "modelnotreadyexception", "unavailable", "internal", "deadline_exceeded":
		return ClassTransient, true
	case "invalid_request_error", "model_not_found", "not_found_error", "validationexception",
		"resourcenotfoundexception", "content_filter", "invalid_argument", "not_found":
		return ClassFatal, true
	default:
		return "", false
	}
}
