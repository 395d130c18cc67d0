package client

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestRetryable(t *testing.T) {
	tests := []struct {
		name       string
		errorClass ErrorClass
		expected   bool
	}{
		{name: "client error is fatal", errorClass: ErrorClassClient, expected: false},
		{name: "server error is fatal", errorClass: ErrorClassServer, expected: false},
		{name: "rate limit is retried", errorClass: ErrorClassRateLimit, expected: true},
		{name: "network error is fatal", errorClass: ErrorClassNetwork, expected: false},
		{name: "decode error is fatal", errorClass: ErrorClassDecode, expected: false},
		{name: "empty error class is fatal", errorClass: "", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.errorClass); got != tt.expected {
				t.Errorf("Retryable(%q) = %v, want %v", tt.errorClass, got, tt.expected)
			}
		})
	}
}

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		apiError *APIError
		expected string
	}{
		{
			name: "error with wrapped error",
			apiError: &APIError{
				StatusCode: 500,
				ErrorClass: ErrorClassServer,
				Endpoint:   "/de/cards/",
				Message:    "Internal Server Error",
				Err:        errors.New("upstream timeout"),
			},
			expected: "LingQ server error (status 500) on /de/cards/: Internal Server Error: upstream timeout",
		},
		{
			name: "error without wrapped error",
			apiError: &APIError{
				StatusCode: 429,
				ErrorClass: ErrorClassRateLimit,
				Endpoint:   "/de/cards/",
				Message:    "429 Too Many Requests",
			},
			expected: "LingQ rate_limit error (status 429) on /de/cards/: 429 Too Many Requests",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.apiError.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAPIError_Is(t *testing.T) {
	throttled := &APIError{StatusCode: http.StatusTooManyRequests, ErrorClass: ErrorClassRateLimit}
	unauthorized := &APIError{StatusCode: http.StatusUnauthorized, ErrorClass: ErrorClassClient}
	forbidden := &APIError{StatusCode: http.StatusForbidden, ErrorClass: ErrorClassClient}
	server := &APIError{StatusCode: http.StatusBadGateway, ErrorClass: ErrorClassServer}

	if !errors.Is(throttled, ErrRateLimited) {
		t.Error("429 should match ErrRateLimited")
	}
	if !IsRateLimited(fmt.Errorf("fetch page: %w", throttled)) {
		t.Error("wrapped 429 should match ErrRateLimited")
	}
	if errors.Is(server, ErrRateLimited) {
		t.Error("502 should not match ErrRateLimited")
	}
	if !errors.Is(unauthorized, ErrUnauthorized) || !errors.Is(forbidden, ErrUnauthorized) {
		t.Error("401/403 should match ErrUnauthorized")
	}
	if errors.Is(throttled, ErrUnauthorized) {
		t.Error("429 should not match ErrUnauthorized")
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := &APIError{ErrorClass: ErrorClassNetwork, Err: inner}

	if !errors.Is(err, inner) {
		t.Error("errors.Is should find the wrapped error")
	}

	var apiErr *APIError
	if !errors.As(fmt.Errorf("outer: %w", err), &apiErr) {
		t.Fatal("errors.As should find *APIError")
	}
	if apiErr.ErrorClass != ErrorClassNetwork {
		t.Errorf("ErrorClass = %q, want network", apiErr.ErrorClass)
	}
}
