package activities

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/helixir/research-pipeline-service/internal/domain"
	"github.com/helixir/research-pipeline-service/internal/repository"
)

// StoreRetryConfig bounds the in-activity retries of store writes.
type StoreRetryConfig struct {
	// Attempts is the number of retries after the first try.
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultStoreRetryConfig returns the defaults used when none is configured.
func DefaultStoreRetryConfig() StoreRetryConfig {
	return StoreRetryConfig{Attempts: 3, InitialInterval: 200 * time.Millisecond, MaxInterval: 5 * time.Second}
}

// withStoreRetry runs op until it succeeds, fails with a non-store error, or
// the retry budget is spent. Only domain.ErrStore failures are retried.
func withStoreRetry(ctx context.Context, cfg StoreRetryConfig, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval
	b.MaxElapsedTime = 0

	var policy backoff.BackOff = b
	if cfg.Attempts >= 0 {
		policy = backoff.WithMaxRetries(b, uint64(cfg.Attempts))
	}

	return backoff.Retry(func() error {
		err := op()
		if err == nil || errors.Is(err, domain.ErrStore) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(policy, ctx))
}

// updateJob applies upd with store retries.
func updateJob(ctx context.Context, repo repository.JobRepository, cfg StoreRetryConfig, ref JobRef, upd domain.JobUpdate) (*domain.Job, error) {
	var job *domain.Job
	err := withStoreRetry(ctx, cfg, func() error {
		var err error
		job, err = repo.Update(ctx, ref.SessionID, ref.JobID, upd)
		return err
	})
	return job, err
}

// getJob reads a job with store retries.
func getJob(ctx context.Context, repo repository.JobRepository, cfg StoreRetryConfig, sessionID string, id uuid.UUID) (*domain.Job, error) {
	var job *domain.Job
	err := withStoreRetry(ctx, cfg, func() error {
		var err error
		job, err = repo.Get(ctx, sessionID, id)
		return err
	})
	return job, err
}

// executionReference identifies the workflow run driving an activity.
func executionReference(workflowID, runID string) string {
	return workflowID + "/" + runID
}
