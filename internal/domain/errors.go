package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStaleState indicates that a compare-and-swap status update lost a race.
	ErrStaleState = errors.New("stale state")

	// ErrJobAlreadyTerminal indicates an attempt to mutate a COMPLETED or FAILED job.
	ErrJobAlreadyTerminal = errors.New("job already terminal")

	// ErrInvalidTransition indicates a status change that is not in the transition table.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrStageExecution indicates that a stage could not produce findings.
	ErrStageExecution = errors.New("stage execution failed")

	// ErrStore indicates a persistence failure. Store errors are retryable.
	ErrStore = errors.New("store error")

	// ErrRateLimited indicates that the request was rate limited.
	ErrRateLimited = errors.New("rate limited")

	// ErrServiceUnavailable indicates that an external service is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// AlreadyExistsError provides details about a duplicate entity.
type AlreadyExistsError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *AlreadyExistsError) Unwrap() error {
	return ErrAlreadyExists
}

// StaleStateError reports that the stored status did not match the status the
// caller expected. The caller re-reads the job and decides whether to retry or
// abandon.
type StaleStateError struct {
	Expected JobStatus
	Actual   JobStatus
}

// Error implements the error interface.
func (e *StaleStateError) Error() string {
	return fmt.Sprintf("stale state: expected status %s, found %s", e.Expected, e.Actual)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *StaleStateError) Unwrap() error {
	return ErrStaleState
}

// JobAlreadyTerminalError reports a mutation attempted on a terminal job.
type JobAlreadyTerminalError struct {
	Status JobStatus
}

// Error implements the error interface.
func (e *JobAlreadyTerminalError) Error() string {
	return fmt.Sprintf("job already terminal: %s", e.Status)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *JobAlreadyTerminalError) Unwrap() error {
	return ErrJobAlreadyTerminal
}

// StageExecutionError wraps an external-service, timeout or persistence
// failure that prevented a stage from recording findings.
type StageExecutionError struct {
	Stage Stage
	Cause error
}

// Error implements the error interface.
func (e *StageExecutionError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("stage %s failed", e.Stage)
	}
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Cause)
}

// Is matches ErrStageExecution.
func (e *StageExecutionError) Is(target error) bool {
	return target == ErrStageExecution
}

// Unwrap returns the underlying cause.
func (e *StageExecutionError) Unwrap() error {
	return e.Cause
}

// StoreError wraps a persistence failure for a named operation.
type StoreError struct {
	Op    string
	Cause error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Cause)
}

// Is matches ErrStore.
func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

// Unwrap returns the underlying cause.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(entity, id string) *AlreadyExistsError {
	return &AlreadyExistsError{
		Entity: entity,
		ID:     id,
	}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewStaleStateError creates a new StaleStateError.
func NewStaleStateError(expected, actual JobStatus) *StaleStateError {
	return &StaleStateError{Expected: expected, Actual: actual}
}

// NewJobAlreadyTerminalError creates a new JobAlreadyTerminalError.
func NewJobAlreadyTerminalError(status JobStatus) *JobAlreadyTerminalError {
	return &JobAlreadyTerminalError{Status: status}
}

// NewStageExecutionError creates a new StageExecutionError.
func NewStageExecutionError(stage Stage, cause error) *StageExecutionError {
	return &StageExecutionError{Stage: stage, Cause: cause}
}

// NewStoreError creates a new StoreError.
func NewStoreError(op string, cause error) *StoreError {
	return &StoreError{Op: op, Cause: cause}
}
