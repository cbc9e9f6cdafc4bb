// Package workflows defines the Temporal workflow that drives one research
// job through its stages.
package workflows

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/helixir/research-pipeline-service/internal/domain"
	litemporal "github.com/helixir/research-pipeline-service/internal/temporal"
	"github.com/helixir/research-pipeline-service/internal/temporal/activities"
	"github.com/helixir/research-pipeline-service/internal/temporal/resilience"
)

// QueryProgress re-exports the progress query name.
const QueryProgress = litemporal.QueryProgress

// Activity timeout constants.
const (
	defaultStageTimeout     = 10 * time.Minute
	defaultSynthesisTimeout = 10 * time.Minute
	statusActivityTimeout   = 30 * time.Second
)

// PipelineInput is an alias for the input type defined in the parent
// temporal package.
type PipelineInput = litemporal.PipelineInput

// PipelineResult summarizes one pipeline run.
type PipelineResult struct {
	JobID uuid.UUID

	// Status is the job status the run ended with. Empty when skipped.
	Status domain.JobStatus

	// Skipped is true when the run found nothing to do: the job was missing,
	// already started, or moved on by another execution.
	Skipped    bool
	SkipReason string

	CompletedStages []domain.Stage

	// ParseFailures lists stages whose output was replaced by a placeholder.
	ParseFailures []domain.Stage

	CitationCount        int
	DroppedCitations     int
	UnresolvedReferences int

	// Duration is the run's wall time in seconds.
	Duration float64
}

// ResearchPipelineWorkflow runs every analysis stage of a job in order,
// then synthesis.
//
// Every step re-reads the job, so a redelivered dispatch or a replayed run
// never repeats a recorded stage. A stage that fails permanently, or
// exhausts its retries, moves the job to FAILED and fails the workflow.
func ResearchPipelineWorkflow(ctx workflow.Context, input PipelineInput) (*PipelineResult, error) {
	logger := workflow.GetLogger(ctx)
	startTime := workflow.Now(ctx)
	ref := activities.JobRef{SessionID: input.SessionID, JobID: input.JobID}

	order := input.Stages
	if len(order) == 0 {
		order = domain.AnalysisStages
	}

	progress := &litemporal.PipelineProgress{
		Status:          string(domain.JobStatusCreated),
		CompletedStages: []domain.Stage{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryProgress, func() (*litemporal.PipelineProgress, error) {
		return progress, nil
	}); err != nil {
		logger.Error("failed to register progress query handler", "error", err)
		return nil, fmt.Errorf("register query handler: %w", err)
	}

	var statusAct *activities.StatusActivities
	var stageAct *activities.StageActivities
	var eventAct *activities.EventActivities

	statusCtx := workflow.WithActivityOptions(ctx, statusActivityOptions())
	eventCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: statusActivityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    500 * time.Millisecond,
			BackoffCoefficient: 2.0,
			MaximumInterval:    5 * time.Second,
			MaximumAttempts:    3,
		},
	})
	// Stage retries are driven by resilience.ExecuteStage so that the
	// workflow sees every failure and can classify it.
	stageCtx := workflow.WithActivityOptions(ctx, stageActivityOptions(input.StageTimeout, defaultStageTimeout))
	synthCtx := workflow.WithActivityOptions(ctx, stageActivityOptions(input.SynthesisTimeout, defaultSynthesisTimeout))

	result := &PipelineResult{JobID: input.JobID, CompletedStages: []domain.Stage{}}

	// Fire-and-forget: event publishing never fails the job.
	publish := func(pctx workflow.Context, eventType string, status domain.JobStatus, stage domain.Stage, payload map[string]interface{}) {
		err := workflow.ExecuteActivity(pctx, eventAct.PublishEvent, activities.PublishEventInput{
			EventType: eventType,
			JobRef:    ref,
			Status:    status,
			Stage:     stage,
			Payload:   payload,
		}).Get(pctx, nil)
		if err != nil {
			logger.Warn("event not published", "eventType", eventType, "error", err)
		}
	}

	skip := func(reason string) (*PipelineResult, error) {
		logger.Info("pipeline run skipped", "jobID", input.JobID, "reason", reason)
		progress.CurrentStage = ""
		result.Skipped = true
		result.SkipReason = reason
		result.Duration = workflow.Now(ctx).Sub(startTime).Seconds()
		return result, nil
	}

	// handleFailure moves the job to FAILED and returns the original error.
	// It runs on a disconnected context so it completes after cancellation.
	handleFailure := func(stage domain.Stage, cause error) (*PipelineResult, error) {
		logger.Error("pipeline failed", "jobID", input.JobID, "stage", stage, "error", cause)

		failCtx, _ := workflow.NewDisconnectedContext(ctx)
		var out activities.FailJobOutput
		err := workflow.ExecuteActivity(workflow.WithActivityOptions(failCtx, statusActivityOptions()),
			statusAct.FailJob, activities.FailJobInput{JobRef: ref, Stage: stage, Error: cause.Error()},
		).Get(failCtx, &out)
		if err != nil {
			logger.Error("failed to record job failure", "jobID", input.JobID, "error", err)
		}

		progress.Status = string(domain.JobStatusFailed)
		if !out.AlreadyTerminal {
			msg := out.ErrorMessage
			if msg == "" {
				msg = cause.Error()
			}
			publish(workflow.WithActivityOptions(failCtx, statusActivityOptions()),
				domain.EventTypeJobFailed, domain.JobStatusFailed, stage,
				map[string]interface{}{"error": msg, "stage": string(stage)},
			)
		}

		if stage == "" {
			return nil, cause
		}
		return nil, fmt.Errorf("stage %s: %w", stage, cause)
	}

	// =========================================================================
	// Start: CREATED -> IN_PROGRESS
	// =========================================================================

	var startOut activities.StartJobOutput
	if err := workflow.ExecuteActivity(statusCtx, statusAct.StartJob, activities.StartJobInput{JobRef: ref}).Get(ctx, &startOut); err != nil {
		return handleFailure("", fmt.Errorf("start job: %w", err))
	}
	if startOut.Skipped {
		return skip(startOut.Reason)
	}
	progress.Status = string(domain.JobStatusInProgress)
	publish(eventCtx, domain.EventTypeJobStarted, domain.JobStatusInProgress, "", nil)

	// =========================================================================
	// Analysis stages
	// =========================================================================

	for _, stage := range order {
		progress.CurrentStage = stage
		progress.Status = string(domain.ProcessingStatus(stage))

		var out activities.RunStageOutput
		res := resilience.ExecuteStage(ctx, resilience.DefaultStageConfig(stage), &progress.Retry, func() error {
			return workflow.ExecuteActivity(stageCtx, stageAct.RunStage, activities.RunStageInput{JobRef: ref, Stage: stage}).Get(ctx, &out)
		})
		if res.Failed {
			return handleFailure(stage, res.Err)
		}
		if out.Skipped {
			return skip(out.Reason)
		}

		progress.CompletedStages = append(progress.CompletedStages, stage)
		result.CompletedStages = append(result.CompletedStages, stage)
		if out.ParseFailed {
			result.ParseFailures = append(result.ParseFailures, stage)
		}
		if !out.AlreadyRecorded {
			publish(eventCtx, domain.EventTypeJobStageCompleted, domain.ProcessingStatus(stage), stage, map[string]interface{}{
				"citation_count": out.CitationCount,
				"parse_failed":   out.ParseFailed,
			})
		}
		logger.Info("stage finished", "jobID", input.JobID, "stage", stage, "attempts", res.Attempts)
	}

	// =========================================================================
	// Synthesis: consolidate citations and complete the job
	// =========================================================================

	progress.CurrentStage = domain.StageSynthesis
	progress.Status = string(domain.JobStatusSynthesizing)

	var synthOut activities.SynthesizeOutput
	res := resilience.ExecuteStage(ctx, resilience.DefaultStageConfig(domain.StageSynthesis), &progress.Retry, func() error {
		return workflow.ExecuteActivity(synthCtx, stageAct.Synthesize, activities.SynthesizeInput{JobRef: ref}).Get(ctx, &synthOut)
	})
	if res.Failed {
		return handleFailure(domain.StageSynthesis, res.Err)
	}
	if synthOut.Skipped {
		return skip(synthOut.Reason)
	}

	progress.CurrentStage = ""
	progress.Status = string(domain.JobStatusCompleted)
	result.Status = domain.JobStatusCompleted
	result.CitationCount = synthOut.CitationCount
	result.DroppedCitations = synthOut.DroppedCitations
	result.UnresolvedReferences = synthOut.UnresolvedReferences
	result.Duration = workflow.Now(ctx).Sub(startTime).Seconds()

	if !synthOut.AlreadyCompleted {
		publish(eventCtx, domain.EventTypeJobCompleted, domain.JobStatusCompleted, "", map[string]interface{}{
			"citation_count":        synthOut.CitationCount,
			"dropped_citations":     synthOut.DroppedCitations,
			"unresolved_references": synthOut.UnresolvedReferences,
			"duration_seconds":      synthOut.DurationSeconds,
		})
	}

	logger.Info("pipeline completed",
		"jobID", input.JobID,
		"citations", result.CitationCount,
		"parseFailures", len(result.ParseFailures),
		"duration", result.Duration,
	)
	return result, nil
}

func statusActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: statusActivityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    500 * time.Millisecond,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    5,
		},
	}
}

func stageActivityOptions(timeout, fallback time.Duration) workflow.ActivityOptions {
	if timeout <= 0 {
		timeout = fallback
	}
	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
}
