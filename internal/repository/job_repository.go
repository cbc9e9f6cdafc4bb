package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/research-pipeline-service/internal/domain"
)

// JobRepository persists research jobs and their per-stage findings.
type JobRepository interface {
	// Create inserts a new job. Returns domain.ErrAlreadyExists if a job with
	// the same ID exists and domain.ErrInvalidInput for missing fields.
	Create(ctx context.Context, job *domain.Job) error

	// Get retrieves a job with all recorded findings.
	// Returns domain.ErrNotFound if no job matches (sessionID, id).
	Get(ctx context.Context, sessionID string, id uuid.UUID) (*domain.Job, error)

	// Update applies upd atomically and returns the job as stored afterwards.
	//
	// When upd.ExpectedStatus is set the update is applied only if the stored
	// status matches it, otherwise a *domain.StaleStateError is returned and
	// nothing is written. Any mutation of a terminal job fails with
	// *domain.JobAlreadyTerminalError. Stage findings are added under the
	// stage's own key and never replace an earlier write.
	Update(ctx context.Context, sessionID string, id uuid.UUID, upd domain.JobUpdate) (*domain.Job, error)

	// ListBySession returns the jobs of one session, newest first, and the
	// total number of matching jobs.
	ListBySession(ctx context.Context, filter JobFilter) ([]*domain.Job, int64, error)
}

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	// SessionID is required.
	SessionID string

	// Status filters by one or more statuses (optional).
	Status []domain.JobStatus

	// Limit specifies maximum number of results (default: 50, max: 500).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Validate checks the filter and applies pagination defaults.
func (f *JobFilter) Validate() error {
	if f.SessionID == "" {
		return domain.NewValidationError("session_id", "session ID is required")
	}
	for _, s := range f.Status {
		if !s.Valid() {
			return domain.NewValidationError("status", fmt.Sprintf("unknown status %q", s))
		}
	}
	applyPaginationDefaults(&f.Limit, &f.Offset)
	return nil
}

func validateNewJob(job *domain.Job) error {
	if job == nil {
		return domain.NewValidationError("job", "job cannot be nil")
	}
	if job.ID == uuid.Nil {
		return domain.NewValidationError("id", "job ID is required")
	}
	if job.SessionID == "" {
		return domain.NewValidationError("session_id", "session ID is required")
	}
	if job.Instructions == "" {
		return domain.NewValidationError("instructions", "instructions are required")
	}
	if job.Status != domain.JobStatusCreated {
		return domain.NewValidationError("status", fmt.Sprintf("new jobs start in %s, got %s", domain.JobStatusCreated, job.Status))
	}
	return nil
}

// applyUpdate applies upd to job in memory. It is the single definition of
// update semantics shared by every JobRepository implementation; on error job
// may be partially modified and must be discarded.
func applyUpdate(job *domain.Job, upd domain.JobUpdate, transitions *domain.TransitionTable, now time.Time) error {
	if job.Status.IsTerminal() {
		return domain.NewJobAlreadyTerminalError(job.Status)
	}
	if upd.ExpectedStatus != nil && *upd.ExpectedStatus != job.Status {
		return domain.NewStaleStateError(*upd.ExpectedStatus, job.Status)
	}

	if upd.Status != nil && *upd.Status != job.Status {
		if err := transitions.Validate(job.Status, *upd.Status); err != nil {
			return err
		}
		job.Status = *upd.Status
		switch {
		case job.Status == domain.JobStatusInProgress && job.StartedAt == nil:
			t := now
			job.StartedAt = &t
		case job.Status.IsTerminal() && job.CompletedAt == nil:
			t := now
			job.CompletedAt = &t
		}
	}

	if f := upd.StageFindings; f != nil {
		stage := f.Stage()
		if !stage.IsAnalysis() {
			return domain.NewValidationError("stage", fmt.Sprintf("stage %q does not record findings", stage))
		}
		if job.HasFindings(stage) {
			return domain.NewAlreadyExistsError("findings", string(stage))
		}
		if job.Findings == nil {
			job.Findings = domain.FindingsSet{}
		}
		job.Findings[stage] = f
	}

	if upd.Result != nil {
		if job.Status != domain.JobStatusCompleted {
			return domain.NewValidationError("result", "result is only recorded on COMPLETED jobs")
		}
		job.Result = upd.Result
	}
	if upd.ErrorMessage != nil {
		if !job.Status.IsFailure() {
			return domain.NewValidationError("error_message", "error message is only recorded on failed jobs")
		}
		job.ErrorMessage = *upd.ErrorMessage
	}
	if upd.ExecutionReference != nil {
		job.ExecutionReference = *upd.ExecutionReference
	}
	if upd.StartedAt != nil {
		job.StartedAt = upd.StartedAt
	}
	if upd.CompletedAt != nil {
		job.CompletedAt = upd.CompletedAt
	}

	switch job.Status {
	case domain.JobStatusCompleted:
		if job.Result == nil {
			return domain.NewValidationError("result", "COMPLETED requires a result")
		}
	case domain.JobStatusFailed:
		if job.ErrorMessage == "" {
			return domain.NewValidationError("error_message", "FAILED requires an error message")
		}
	}

	job.UpdatedAt = now
	return nil
}
