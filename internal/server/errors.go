package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
)

// ErrInvalidRequest is wrapped by request parsers.
var ErrInvalidRequest = errors.New("invalid request")

// AccessError represents an error due to access denial.
type AccessError struct {
	Message    string
	StatusCode int
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("access error (%d): %s", e.StatusCode, e.Message)
}

// IsAccessError checks if an error is an access error.
func IsAccessError(err error) bool {
	var accessErr *AccessError
	if errors.As(err, &accessErr) {
		return accessErr.StatusCode == http.StatusForbidden ||
			accessErr.StatusCode == http.StatusNotFound ||
			accessErr.StatusCode == http.StatusUnauthorized
	}
	if errors.Is(err, cycletime.ErrAccessDenied) {
		return true
	}
	// GraphQL permission errors from prx are not typed.
	errStr := err.Error()
	return strings.Contains(errStr, "Resource not accessible by integration") ||
		strings.Contains(errStr, "Not Found")
}

// NewAccessError creates a new access error.
func NewAccessError(statusCode int, message string) error {
	return &AccessError{
		Message:    message,
		StatusCode: statusCode,
	}
}

// statusFor maps processing errors to HTTP status codes.
func statusFor(err error) int {
	var accessErr *AccessError
	switch {
	case errors.As(err, &accessErr):
		return accessErr.StatusCode
	case IsAccessError(err):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, cycletime.ErrMalformedInput):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
