package resilience

import (
	"time"

	"github.com/helixir/research-pipeline-service/internal/domain"
)

// StageConfig holds the workflow-level retry configuration for one stage.
// Activity-level retries handle lost workers; this budget covers transient
// failures that reach the workflow.
type StageConfig struct {
	// Name is the stage identifier.
	Name string

	// MaxRetries is the maximum number of retry attempts for transient errors.
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// BackoffMultiplier controls exponential growth of the backoff interval.
	BackoffMultiplier float64

	// MaxBackoff caps the maximum backoff interval.
	MaxBackoff time.Duration
}

// backoffForAttempt computes the backoff duration for the given attempt (0-indexed).
func (c StageConfig) backoffForAttempt(attempt int) time.Duration {
	backoff := c.InitialBackoff
	for i := 0; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * c.BackoffMultiplier)
		if backoff > c.MaxBackoff {
			backoff = c.MaxBackoff
			break
		}
	}
	return backoff
}

// DefaultStageConfig returns the retry configuration for stage. Analysis
// stages share one budget; synthesis gets a single retry since it runs
// after every other stage has been paid for.
func DefaultStageConfig(stage domain.Stage) StageConfig {
	if stage == domain.StageSynthesis {
		return StageConfig{
			Name:              string(stage),
			MaxRetries:        1,
			InitialBackoff:    10 * time.Second,
			BackoffMultiplier: 2.0,
			MaxBackoff:        30 * time.Second,
		}
	}
	return StageConfig{
		Name:              string(stage),
		MaxRetries:        2,
		InitialBackoff:    5 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        60 * time.Second,
	}
}
