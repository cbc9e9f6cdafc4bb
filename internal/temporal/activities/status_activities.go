package activities

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/helixir/research-pipeline-service/internal/domain"
	"github.com/helixir/research-pipeline-service/internal/observability"
	"github.com/helixir/research-pipeline-service/internal/repository"
	"github.com/helixir/research-pipeline-service/internal/temporal/resilience"
)

// StatusActivities moves jobs into and out of the pipeline.
// Methods on this struct are registered as Temporal activities via the worker.
type StatusActivities struct {
	jobs    repository.JobRepository
	metrics *observability.Metrics
	retry   StoreRetryConfig
}

// NewStatusActivities creates a new StatusActivities instance.
// The metrics parameter may be nil (metrics recording will be skipped).
func NewStatusActivities(jobs repository.JobRepository, metrics *observability.Metrics, retry StoreRetryConfig) *StatusActivities {
	return &StatusActivities{jobs: jobs, metrics: metrics, retry: retry}
}

// StartJob moves a CREATED job to IN_PROGRESS and records the execution
// reference of the calling workflow run.
//
// A job that is missing, already past CREATED, or claimed concurrently by a
// different run is reported as Skipped. A job already IN_PROGRESS under the
// same run is a retry of this activity and proceeds.
func (a *StatusActivities) StartJob(ctx context.Context, input StartJobInput) (*StartJobOutput, error) {
	logger := activity.GetLogger(ctx)
	info := activity.GetInfo(ctx)
	ref := executionReference(info.WorkflowExecution.ID, info.WorkflowExecution.RunID)

	job, err := getJob(ctx, a.jobs, a.retry, input.SessionID, input.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("job not found, skipping", "jobID", input.JobID)
			return &StartJobOutput{Skipped: true, Reason: ReasonJobNotFound}, nil
		}
		return nil, resilience.ToApplicationError(fmt.Errorf("load job: %w", err))
	}

	switch {
	case job.Status == domain.JobStatusInProgress && job.ExecutionReference == ref:
		return &StartJobOutput{Instructions: job.Instructions}, nil
	case job.Status != domain.JobStatusCreated:
		logger.Info("job already started, skipping", "jobID", input.JobID, "status", job.Status)
		return &StartJobOutput{Skipped: true, Reason: ReasonNotCreated}, nil
	}

	upd := domain.Transition(domain.JobStatusCreated, domain.JobStatusInProgress)
	upd.ExecutionReference = &ref
	if _, err := updateJob(ctx, a.jobs, a.retry, input.JobRef, upd); err != nil {
		if errors.Is(err, domain.ErrStaleState) || errors.Is(err, domain.ErrJobAlreadyTerminal) {
			a.metrics.RecordStoreConflict("start_job")
			logger.Info("lost start race, skipping", "jobID", input.JobID, "error", err)
			return &StartJobOutput{Skipped: true, Reason: ReasonStale}, nil
		}
		return nil, resilience.ToApplicationError(fmt.Errorf("start job: %w", err))
	}

	logger.Info("job started", "jobID", input.JobID, "executionReference", ref)
	return &StartJobOutput{Instructions: job.Instructions}, nil
}

// FailJob moves a job to FAILED. When the job already holds an error
// message (set by a failed_<stage> transition) that message is kept;
// otherwise input.Error is recorded. A job still in processing_<stage> for
// input.Stage passes through failed_<stage> first.
func (a *StatusActivities) FailJob(ctx context.Context, input FailJobInput) (*FailJobOutput, error) {
	logger := activity.GetLogger(ctx)

	job, err := getJob(ctx, a.jobs, a.retry, input.SessionID, input.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &FailJobOutput{AlreadyTerminal: true}, nil
		}
		return nil, resilience.ToApplicationError(fmt.Errorf("load job: %w", err))
	}
	if job.IsFinal() {
		logger.Info("job already terminal", "jobID", input.JobID, "status", job.Status)
		return &FailJobOutput{AlreadyTerminal: true, Status: job.Status, ErrorMessage: job.ErrorMessage}, nil
	}

	msg := job.ErrorMessage
	if msg == "" {
		msg = input.Error
	}
	if msg == "" {
		msg = "pipeline failed"
	}

	// A stage that gave up without recording its own failure still leaves
	// failed_<stage> behind before the job goes terminal.
	if input.Stage != "" && job.Status == domain.ProcessingStatus(input.Stage) {
		upd := domain.Transition(job.Status, domain.FailedStatus(input.Stage))
		upd.ErrorMessage = &msg
		stepped, err := updateJob(ctx, a.jobs, a.retry, input.JobRef, upd)
		if err != nil {
			return nil, resilience.ToApplicationError(domain.NewStoreError("fail stage", err))
		}
		job = stepped
		logger.Info("stage marked failed", "jobID", input.JobID, "status", job.Status)
	}

	upd := domain.Transition(job.Status, domain.JobStatusFailed)
	upd.ErrorMessage = &msg
	updated, err := updateJob(ctx, a.jobs, a.retry, input.JobRef, upd)
	if err != nil {
		// The status moved under us; let Temporal retry against a fresh read.
		return nil, resilience.ToApplicationError(domain.NewStoreError("fail job", err))
	}

	stage := string(input.Stage)
	if s, ok := domain.StageOf(job.Status); ok {
		stage = string(s)
	}
	a.metrics.RecordJobFailed(stage, jobDuration(updated))

	logger.Info("job failed", "jobID", input.JobID, "stage", stage, "error", msg)
	return &FailJobOutput{Status: updated.Status, ErrorMessage: updated.ErrorMessage}, nil
}

func jobDuration(job *domain.Job) float64 {
	if job.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if job.CompletedAt != nil {
		end = *job.CompletedAt
	}
	return end.Sub(*job.StartedAt).Seconds()
}
