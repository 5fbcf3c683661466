package authguard

import (
	"fmt"
	"net/http"
	"time"
)

// Security error codes as constants
const (
	ErrorCodeRateLimitExceeded  = "rate_limit_exceeded"
	ErrorCodeInvalidCredentials = "invalid_credentials"
	ErrorCodeSessionInvalid     = "session_invalid"
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeServerError        = "server_error"
)

// SecurityError represents a security runtime error with an HTTP mapping.
// The host layer translates Code and Status directly into its response;
// RetryAfter, when positive, belongs in a Retry-After header.
type SecurityError struct {
	Code        string        // Stable error code (e.g., "rate_limit_exceeded")
	Description string        // Human-readable error description
	Status      int           // HTTP status code
	RetryAfter  time.Duration // How long the caller should wait, zero if not applicable
}

// Error implements the error interface
func (e *SecurityError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewSecurityError creates a new security error
func NewSecurityError(code, description string, status int) *SecurityError {
	return &SecurityError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common security errors as reusable constructors
var (
	// ErrRateLimited indicates the action was denied by the rate limiter
	ErrRateLimited = func(retryAfter time.Duration) *SecurityError {
		return &SecurityError{
			Code:        ErrorCodeRateLimitExceeded,
			Description: "too many requests, retry later",
			Status:      http.StatusTooManyRequests,
			RetryAfter:  retryAfter,
		}
	}

	// ErrBadCredentials indicates the email/password pair did not match
	ErrBadCredentials = func() *SecurityError {
		return NewSecurityError(ErrorCodeInvalidCredentials, "invalid email or password", http.StatusUnauthorized)
	}

	// ErrSessionInvalid indicates the session failed validation; desc carries
	// the session store's reason
	ErrSessionInvalid = func(desc string) *SecurityError {
		return NewSecurityError(ErrorCodeSessionInvalid, desc, http.StatusUnauthorized)
	}

	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *SecurityError {
		return NewSecurityError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrServerError indicates an internal error occurred
	ErrServerError = func(desc string) *SecurityError {
		return NewSecurityError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)
