package resilience

import (
	"fmt"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// StageResult contains the outcome of a stage execution.
type StageResult struct {
	// Failed is true when the stage hit a permanent error or exhausted its
	// retries. Err carries the cause.
	Failed bool

	// Err is the last error encountered. Non-nil when Failed is true.
	Err error

	// Attempts is the total number of execution attempts (1 = succeeded on first try).
	Attempts int
}

// Progress tracks retry state for query visibility.
type Progress struct {
	// RetryAttempt is the current retry attempt number (0 = first execution).
	RetryAttempt int `json:"retry_attempt"`

	// RetryStage is the stage currently being retried.
	RetryStage string `json:"retry_stage,omitempty"`

	// LastRetryError is the last transient error seen.
	LastRetryError string `json:"last_retry_error,omitempty"`
}

// ExecuteStage runs fn with stage-level retry logic, sleeping with
// workflow.Sleep between attempts. Permanent errors and cancellation end the
// stage immediately.
func ExecuteStage(ctx workflow.Context, cfg StageConfig, progress *Progress, fn func() error) StageResult {
	logger := workflow.GetLogger(ctx)

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if progress != nil {
			progress.RetryAttempt = attempt
			progress.RetryStage = cfg.Name
		}

		err := fn()
		if err == nil {
			if progress != nil {
				*progress = Progress{}
			}
			return StageResult{Attempts: attempt + 1}
		}

		if temporal.IsCanceledError(err) || ctx.Err() != nil {
			return StageResult{
				Failed:   true,
				Err:      fmt.Errorf("%s: cancelled: %w", cfg.Name, err),
				Attempts: attempt + 1,
			}
		}

		category := Classify(err)
		if progress != nil {
			progress.LastRetryError = err.Error()
		}

		logger.Info("stage execution failed",
			"stage", cfg.Name,
			"attempt", attempt+1,
			"maxAttempts", cfg.MaxRetries+1,
			"errorCategory", category.String(),
			"error", err,
		)

		if category == Permanent {
			return StageResult{Failed: true, Err: fmt.Errorf("%s: %w", cfg.Name, err), Attempts: attempt + 1}
		}

		if attempt < cfg.MaxRetries {
			backoff := cfg.backoffForAttempt(attempt)
			logger.Info("retrying stage after backoff",
				"stage", cfg.Name,
				"attempt", attempt+1,
				"backoff", backoff,
			)
			if sleepErr := workflow.Sleep(ctx, backoff); sleepErr != nil {
				return StageResult{Failed: true, Err: fmt.Errorf("%s: cancelled during retry backoff: %w", cfg.Name, sleepErr), Attempts: attempt + 1}
			}
		}
	}

	return StageResult{
		Failed:   true,
		Err:      fmt.Errorf("%s: retries exhausted: %s", cfg.Name, progressError(progress)),
		Attempts: cfg.MaxRetries + 1,
	}
}

func progressError(p *Progress) string {
	if p == nil || p.LastRetryError == "" {
		return "unknown error"
	}
	return p.LastRetryError
}
