package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/helixir/research-pipeline-service/internal/domain"
)

// APIError represents an error returned by a completion provider API.
type APIError struct {
	// Provider is the name of the provider (e.g., "openai", "anthropic").
	Provider string
	// StatusCode is the HTTP status code returned by the API. 0 means no
	// response was received.
	StatusCode int
	// Message is the error message from the API.
	Message string
	// Type is the error type classification from the API.
	Type string
	// Code is the provider-specific error code (if available).
	Code string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: API error (status %d, type %s): %s", e.Provider, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsTransient returns true for rate limiting (429), server errors (5xx) and
// network errors.
func (e *APIError) IsTransient() bool {
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// Unwrap maps the error onto the domain taxonomy so callers can match it
// with errors.Is.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case e.StatusCode == 0 || e.StatusCode >= 500:
		return domain.ErrServiceUnavailable
	case e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnprocessableEntity:
		return domain.ErrInvalidInput
	}
	return nil
}

// isTransientError checks if an error is a transient APIError eligible for retry.
func isTransientError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsTransient()
	}
	return false
}

// errorType returns a short label for metrics.
func errorType(err error) string {
	var apiErr *APIError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &apiErr):
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return "rate_limit"
		case apiErr.StatusCode == 0:
			return "network"
		case apiErr.StatusCode >= 500:
			return "server"
		default:
			return "client"
		}
	}
	return "other"
}
