// Package resilience classifies pipeline errors and drives stage-level
// retries inside the research pipeline workflow.
package resilience

import (
	"context"
	"errors"
	"strings"

	"go.temporal.io/sdk/temporal"

	"github.com/helixir/research-pipeline-service/internal/domain"
)

// ErrorCategory classifies errors into workflow-level categories that
// determine whether a stage is retried.
type ErrorCategory int

const (
	// Transient errors are temporary failures that should be retried with
	// backoff (store outages, rate limits, timeouts).
	Transient ErrorCategory = iota

	// Permanent errors are non-recoverable. The stage fails.
	Permanent
)

// String returns a human-readable name for the category.
func (c ErrorCategory) String() string {
	switch c {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Application error types carried across the activity boundary. Domain
// error values do not survive serialization; their type names do.
const (
	TypeValidation       = "ValidationError"
	TypeNotFound         = "NotFoundError"
	TypeAlreadyExists    = "AlreadyExistsError"
	TypeStaleState       = "StaleStateError"
	TypeAlreadyTerminal  = "JobAlreadyTerminalError"
	TypeInvalidTransit   = "InvalidTransitionError"
	TypeStageExecution   = "StageExecutionError"
	TypeStore            = "StoreError"
	TypeRateLimited      = "RateLimitedError"
	TypeServiceUnavailable = "ServiceUnavailableError"
	TypeUnknown          = "UnknownError"
)

var permanentTypes = map[string]bool{
	TypeValidation:      true,
	TypeNotFound:        true,
	TypeAlreadyExists:   true,
	TypeStaleState:      true,
	TypeAlreadyTerminal: true,
	TypeInvalidTransit:  true,
	TypeStageExecution:  true,
}

// transientSubstrings indicate a transient failure when the error carries no
// structured type.
var transientSubstrings = []string{
	"timeout",
	"network",
	"connection refused",
	"connection reset",
	"rate limit",
	"service unavailable",
	"temporary",
	"deadline exceeded",
}

// permanentSubstrings indicate a permanent failure. They are chosen narrowly:
// "invalid request" rather than a bare "invalid".
var permanentSubstrings = []string{
	"unauthorized",
	"forbidden",
	"bad request",
	"not found",
	"invalid request",
	"validation",
}

// Classify inspects err and returns its ErrorCategory.
//
// Classification priority:
//  1. Nil errors: Permanent (callers should not retry nil)
//  2. Temporal ApplicationError: Type(), then NonRetryable()
//  3. Temporal timeouts: Transient
//  4. Domain sentinel errors
//  5. Error message substrings, transient checked first
//  6. Default: Transient
func Classify(err error) ErrorCategory {
	if err == nil {
		return Permanent
	}

	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		if permanentTypes[appErr.Type()] || appErr.NonRetryable() {
			return Permanent
		}
		if appErr.Type() != "" && appErr.Type() != TypeUnknown {
			return Transient
		}
	}

	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		return Transient
	}

	if errors.Is(err, domain.ErrStageExecution) {
		return Permanent
	}
	if errors.Is(err, domain.ErrStore) || errors.Is(err, domain.ErrRateLimited) ||
		errors.Is(err, domain.ErrServiceUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	if errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrJobAlreadyTerminal) || errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrStaleState) || errors.Is(err, domain.ErrAlreadyExists) {
		return Permanent
	}

	msg := strings.ToLower(err.Error())
	for _, sub := range transientSubstrings {
		if strings.Contains(msg, sub) {
			return Transient
		}
	}
	for _, sub := range permanentSubstrings {
		if strings.Contains(msg, sub) {
			return Permanent
		}
	}

	return Transient
}

// ErrorType returns the application error type name for a domain error.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, domain.ErrStageExecution):
		return TypeStageExecution
	case errors.Is(err, domain.ErrStore):
		return TypeStore
	case errors.Is(err, domain.ErrInvalidInput):
		return TypeValidation
	case errors.Is(err, domain.ErrNotFound):
		return TypeNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		return TypeAlreadyExists
	case errors.Is(err, domain.ErrStaleState):
		return TypeStaleState
	case errors.Is(err, domain.ErrJobAlreadyTerminal):
		return TypeAlreadyTerminal
	case errors.Is(err, domain.ErrInvalidTransition):
		return TypeInvalidTransit
	case errors.Is(err, domain.ErrRateLimited):
		return TypeRateLimited
	case errors.Is(err, domain.ErrServiceUnavailable):
		return TypeServiceUnavailable
	default:
		return TypeUnknown
	}
}

// ToApplicationError converts an activity error into a Temporal application
// error that keeps its type name. Permanent errors are marked non-retryable
// so Temporal does not retry the activity.
func ToApplicationError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return err
	}
	if Classify(err) == Permanent {
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrorType(err), err)
	}
	return temporal.NewApplicationErrorWithCause(err.Error(), ErrorType(err), err)
}
