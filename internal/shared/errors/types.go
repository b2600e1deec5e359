// Package errors classifies failures for retry decisions and formats them for
// consumption by the language model. Transient errors are retried inside the
// component that sees them; permanent errors propagate.
package errors

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// TransientError represents an error that can be retried.
type TransientError struct {
	Err        error
	StatusCode int    // HTTP status code if applicable
	RetryAfter int    // Seconds to wait before retry (from Retry-After header)
	Message    string // LLM-friendly message
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError represents an error that should not be retried.
type PermanentError struct {
	Err        error
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// NewTransientError creates a transient error with an LLM-friendly message.
func NewTransientError(err error, message string) *TransientError {
	return &TransientError{Err: err, Message: message}
}

// NewPermanentError creates a permanent error with an LLM-friendly message.
func NewPermanentError(err error, message string) *PermanentError {
	return &PermanentError{Err: err, Message: message}
}

// IsTransient checks if an error is retry-able.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return true
	}
	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return false
	}

	if isNetworkError(err) {
		return true
	}
	if code := extractHTTPStatusCode(err); code > 0 {
		return isTransientHTTPStatus(code)
	}
	if isSyscallError(err) {
		return true
	}
	return false
}

// IsPermanent checks if an error is non-retry-able.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return true
	}
	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return false
	}

	if code := extractHTTPStatusCode(err); code > 0 {
		return isPermanentHTTPStatus(code)
	}

	lowerErr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"not found",
		"permission denied",
		"invalid",
		"unauthorized",
		"forbidden",
		"bad request",
	} {
		if strings.Contains(lowerErr, pattern) {
			return true
		}
	}
	return false
}

// FormatForLLM converts technical errors to actionable messages the agent can
// reason about.
func FormatForLLM(err error) string {
	if err == nil {
		return ""
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) && transientErr.Message != "" {
		return transientErr.Message
	}
	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) && permanentErr.Message != "" {
		return permanentErr.Message
	}

	lowerErr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(lowerErr, "rate limit") || strings.Contains(lowerErr, "429"):
		return "Provider rate limit reached. The system will automatically retry with backoff."
	case strings.Contains(lowerErr, "timeout") || strings.Contains(lowerErr, "deadline exceeded"):
		return "Request timed out. The operation may be too complex; try breaking it into smaller steps."
	case strings.Contains(lowerErr, "connection refused"):
		return "Service is not running. Please check that the required service is started."
	case strings.Contains(lowerErr, "unauthorized") || strings.Contains(lowerErr, "401"):
		return "Authentication failed. Please check your API key configuration."
	case strings.Contains(lowerErr, "permission denied") || strings.Contains(lowerErr, "403"):
		return "Permission denied. You don't have access to this resource."
	case strings.Contains(lowerErr, "not found") || strings.Contains(lowerErr, "404"):
		return "Resource not found. Please verify the path or identifier."
	case strings.Contains(lowerErr, "bad request") || strings.Contains(lowerErr, "400"):
		return "Invalid request. Please check the parameters and try again."
	case strings.Contains(lowerErr, "500") || strings.Contains(lowerErr, "502") ||
		strings.Contains(lowerErr, "503") || strings.Contains(lowerErr, "internal server error"):
		return "Server error. The service is temporarily unavailable; the system will automatically retry."
	}

	return err.Error()
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"timeout",
		"deadline exceeded",
		"connection reset",
		"broken pipe",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func isSyscallError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}

func isTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isPermanentHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusMethodNotAllowed,
		http.StatusConflict,
		http.StatusUnprocessableEntity:
		return true
	}
	return false
}

var httpStatusCodes = []int{400, 401, 403, 404, 409, 422, 429, 500, 502, 503, 504}

func extractHTTPStatusCode(err error) int {
	lowerErr := strings.ToLower(err.Error())
	for _, code := range httpStatusCodes {
		if strings.Contains(lowerErr, fmt.Sprintf("status %d", code)) ||
			strings.Contains(lowerErr, fmt.Sprintf(" %d", code)) ||
			strings.HasPrefix(lowerErr, fmt.Sprintf("%d", code)) {
			return code
		}
	}
	return 0
}
