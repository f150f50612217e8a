// Package llmerrors classifies LLM API failures so callers can decide whether to retry.
package llmerrors

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorType represents different categories of LLM errors for retry logic.
type ErrorType int8

const (
	// ErrorTypeRateLimit represents rate limiting errors (429, quota exceeded).
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient represents transient errors (5xx, EOF, connection reset, timeout).
	ErrorTypeTransient
	// ErrorTypeEmptyResponse represents a successful call with neither text nor tool calls.
	ErrorTypeEmptyResponse

	// ErrorTypeAuth represents authentication errors (401/403, bad API key).
	ErrorTypeAuth
	// ErrorTypeBadPrompt represents malformed request errors (too long, violates policy).
	ErrorTypeBadPrompt
	// ErrorTypeUnknown represents default for unclassified errors.
	ErrorTypeUnknown

	// ErrorTypeServiceUnavailable is emitted once in-call retries are exhausted.
	// The workflow engine may still retry the whole run later.
	ErrorTypeServiceUnavailable
)

// String returns the string representation of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	case ErrorTypeServiceUnavailable:
		return "service_unavailable"
	default:
		return "invalid"
	}
}

// RetryConfig defines exponential backoff configuration for each error type.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

// DefaultRetryConfigs provides default retry configurations for each error type.
//
//nolint:gochecknoglobals // Configuration map - acceptable for package defaults
var DefaultRetryConfigs = map[ErrorType]RetryConfig{
	ErrorTypeEmptyResponse: {MaxRetries: 3, InitialDelay: time.Second, MaxDelay: 10 * time.Second, BackoffFactor: 2.0, Jitter: true},
	ErrorTypeRateLimit:     {MaxRetries: 5, InitialDelay: time.Second, MaxDelay: 60 * time.Second, BackoffFactor: 2.0, Jitter: true},
	ErrorTypeTransient:     {MaxRetries: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, BackoffFactor: 2.0, Jitter: true},
	ErrorTypeAuth:          {BackoffFactor: 1.0},
	ErrorTypeBadPrompt:     {BackoffFactor: 1.0},
	ErrorTypeUnknown:       {MaxRetries: 1, InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 2.0, Jitter: true},
	// Emitted after retries are exhausted.
	ErrorTypeServiceUnavailable: {BackoffFactor: 1.0},
}

// Error represents a classified LLM error with retry metadata.
type Error struct {
	Err        error
	Message    string
	BodyStub   string // first portion of the response body only
	Type       ErrorType
	StatusCode int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("LLM error (%s): %s", e.Type.String(), e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("LLM error (%s): %v", e.Type.String(), e.Err)
	}
	return fmt.Sprintf("LLM error (%s): status %d", e.Type.String(), e.StatusCode)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable returns whether this error type should be retried.
// Everything is retryable unless explicitly listed.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeAuth, ErrorTypeBadPrompt, ErrorTypeServiceUnavailable:
		return false
	default:
		return true
	}
}

// GetRetryConfig returns the retry configuration for this error type.
func (e *Error) GetRetryConfig() RetryConfig {
	if cfg, exists := DefaultRetryConfigs[e.Type]; exists {
		return cfg
	}
	return DefaultRetryConfigs[ErrorTypeUnknown]
}

// Is checks if an error is of a specific type.
func Is(err error, errorType ErrorType) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == errorType
	}
	return false
}

// TypeOf returns the error type of an error, or ErrorTypeUnknown if not classified.
func TypeOf(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}

// IsPermanent reports whether retrying err, now or in a later run attempt, cannot help.
func IsPermanent(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeAuth, ErrorTypeBadPrompt:
		return true
	default:
		return false
	}
}

// NewError creates a new classified LLM error.
func NewError(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// NewErrorWithStatus creates a new classified LLM error with HTTP status.
func NewErrorWithStatus(errorType ErrorType, statusCode int, message string) *Error {
	return &Error{Type: errorType, StatusCode: statusCode, Message: message}
}

// NewErrorWithCause creates a new classified LLM error wrapping another error.
func NewErrorWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{Type: errorType, Err: cause, Message: message}
}

// NewServiceUnavailableError wraps the last error once retries are exhausted.
func NewServiceUnavailableError(cause error, attempts int) *Error {
	return &Error{
		Type:    ErrorTypeServiceUnavailable,
		Err:     cause,
		Message: fmt.Sprintf("service unavailable after %d retry attempts", attempts),
	}
}

// IsServiceUnavailable checks if the error indicates persistent service unavailability.
func IsServiceUnavailable(err error) bool {
	return Is(err, ErrorTypeServiceUnavailable)
}

// TypeForStatus maps an HTTP status code to an error type.
func TypeForStatus(status int) ErrorType {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorTypeAuth
	case status == http.StatusBadRequest || status == http.StatusRequestEntityTooLarge ||
		status == http.StatusUnprocessableEntity || status == http.StatusNotFound:
		return ErrorTypeBadPrompt
	case status >= 500:
		return ErrorTypeTransient
	default:
		return ErrorTypeUnknown
	}
}

// Classify wraps a provider error, guessing the type from the status code when known
// and from the message text otherwise. Already classified errors pass through.
func Classify(err error, status int, provider string) error {
	if err == nil {
		return nil
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	errorType := ErrorTypeUnknown
	if status > 0 {
		errorType = TypeForStatus(status)
	} else {
		errorType = typeFromMessage(err)
	}
	return &Error{
		Type:       errorType,
		Err:        err,
		StatusCode: status,
		Message:    fmt.Sprintf("%s: %v", provider, err),
	}
}

func typeFromMessage(err error) ErrorType {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTransient
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "quota"), strings.Contains(msg, "resource_exhausted"):
		return ErrorTypeRateLimit
	case strings.Contains(msg, "api key"), strings.Contains(msg, "unauthorized"), strings.Contains(msg, "permission"):
		return ErrorTypeAuth
	case strings.Contains(msg, "eof"), strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "timeout"), strings.Contains(msg, "unavailable"), strings.Contains(msg, "overloaded"):
		return ErrorTypeTransient
	default:
		return ErrorTypeUnknown
	}
}

// SanitizePrompt creates a safe representation of a prompt for logging.
// Large prompts keep their head and tail plus a hash of the full content.
func SanitizePrompt(prompt string, maxChars int) string {
	if len(prompt) <= maxChars {
		return prompt
	}

	halfMax := maxChars / 2
	if halfMax < 100 {
		halfMax = 100
	}
	if 2*halfMax >= len(prompt) {
		return prompt
	}

	hash := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("%s...[%d chars, hash:%x]...%s",
		prompt[:halfMax], len(prompt), hash[:8], prompt[len(prompt)-halfMax:])
}
