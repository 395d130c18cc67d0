package client

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Common errors returned by the client.
var (
	// ErrRateLimited matches any APIError caused by HTTP 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnauthorized matches any APIError caused by HTTP 401 or 403.
	ErrUnauthorized = errors.New("unauthorized")
)

// APIError is a failed LingQ API call with its classification.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Endpoint   string

	// RetryAfter is the server's Retry-After hint, if any.
	RetryAfter time.Duration

	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("LingQ %s error (status %d) on %s: %s: %v",
			e.ErrorClass, e.StatusCode, e.Endpoint, e.Message, e.Err)
	}
	return fmt.Sprintf("LingQ %s error (status %d) on %s: %s",
		e.ErrorClass, e.StatusCode, e.Endpoint, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the package sentinels by classification.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.ErrorClass == ErrorClassRateLimit
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	default:
		return false
	}
}

// IsRateLimited reports whether err is a throttling signal from the API.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && Retryable(apiErr.ErrorClass)
}

// Retryable reports whether an error class is transient. Only throttling is:
// everything else is treated as fatal for the partition being fetched.
func Retryable(errorClass ErrorClass) bool {
	return errorClass == ErrorClassRateLimit
}
