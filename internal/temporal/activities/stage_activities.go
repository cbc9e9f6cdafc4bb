package activities

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/helixir/research-pipeline-service/internal/citations"
	"github.com/helixir/research-pipeline-service/internal/domain"
	"github.com/helixir/research-pipeline-service/internal/observability"
	"github.com/helixir/research-pipeline-service/internal/pipeline"
	"github.com/helixir/research-pipeline-service/internal/repository"
	"github.com/helixir/research-pipeline-service/internal/stages"
	"github.com/helixir/research-pipeline-service/internal/temporal/resilience"
)

// StageAnalyzer produces the findings of one analysis stage.
type StageAnalyzer interface {
	Analyze(ctx context.Context, in stages.AnalysisInput) (*stages.AnalysisOutput, error)
}

// ReportSynthesizer writes the synthesis block over consolidated findings.
type ReportSynthesizer interface {
	Synthesize(ctx context.Context, instructions string, res *citations.Result) (*domain.Synthesis, error)
}

// StageConfig configures StageActivities.
type StageConfig struct {
	// CompletionTimeout bounds one completion call. Exceeding it fails the stage.
	CompletionTimeout time.Duration

	Retry StoreRetryConfig
}

// StageActivities runs analysis stages and the synthesis stage.
// Methods on this struct are registered as Temporal activities via the worker.
type StageActivities struct {
	jobs        repository.JobRepository
	graph       *pipeline.Graph
	transitions *domain.TransitionTable
	analyzer    StageAnalyzer
	synthesizer ReportSynthesizer
	metrics     *observability.Metrics
	cfg         StageConfig
	now         func() time.Time
}

// NewStageActivities creates a new StageActivities instance. The metrics
// parameter may be nil.
func NewStageActivities(
	jobs repository.JobRepository,
	graph *pipeline.Graph,
	analyzer StageAnalyzer,
	synthesizer ReportSynthesizer,
	metrics *observability.Metrics,
	cfg StageConfig,
) (*StageActivities, error) {
	transitions, err := graph.Transitions()
	if err != nil {
		return nil, fmt.Errorf("build transition table: %w", err)
	}
	return &StageActivities{
		jobs:        jobs,
		graph:       graph,
		transitions: transitions,
		analyzer:    analyzer,
		synthesizer: synthesizer,
		metrics:     metrics,
		cfg:         cfg,
		now:         time.Now,
	}, nil
}

// RunStage executes one analysis stage for a job.
//
// The activity is idempotent: a terminal job, a stage whose findings are
// already recorded, or a job another execution has moved on are reported
// without writes. A retry of this run's own attempt (status already
// processing_<stage> under the same execution reference) resumes. A
// completion failure moves the job to failed_<stage> and returns a
// non-retryable error.
func (a *StageActivities) RunStage(ctx context.Context, input RunStageInput) (*RunStageOutput, error) {
	logger := activity.GetLogger(ctx)
	stage := input.Stage
	if !stage.IsAnalysis() {
		return nil, resilience.ToApplicationError(domain.NewValidationError("stage", fmt.Sprintf("%q is not an analysis stage", stage)))
	}

	job, skip, err := a.claim(ctx, input.JobRef, stage)
	if err != nil || skip != "" {
		if skip != "" {
			a.metrics.RecordStageSkipped(string(stage))
			logger.Info("stage skipped", "jobID", input.JobID, "stage", stage, "reason", skip)
			return &RunStageOutput{Skipped: true, Reason: skip}, nil
		}
		return nil, err
	}
	if job == nil {
		return &RunStageOutput{AlreadyRecorded: true}, nil
	}

	start := a.now()
	upstream := make(domain.FindingsSet)
	for _, s := range a.graph.Upstream(stage) {
		upstream[s] = job.Findings[s]
	}

	logger.Info("running stage", "jobID", input.JobID, "stage", stage, "upstream", len(upstream))
	activity.RecordHeartbeat(ctx, string(stage))

	callCtx, cancel := a.completionContext(ctx)
	out, err := a.analyzer.Analyze(callCtx, stages.AnalysisInput{
		Stage:        stage,
		Instructions: job.Instructions,
		Upstream:     upstream,
	})
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, resilience.ToApplicationError(fmt.Errorf("stage %s interrupted: %w", stage, ctx.Err()))
		}
		return nil, a.failStage(ctx, input.JobRef, stage, err, start)
	}

	processing := domain.ProcessingStatus(stage)
	_, err = updateJob(ctx, a.jobs, a.cfg.Retry, input.JobRef, domain.JobUpdate{
		ExpectedStatus: &processing,
		StageFindings:  out.Findings,
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAlreadyExists):
		return &RunStageOutput{AlreadyRecorded: true, CitationCount: len(out.Findings.CitationList())}, nil
	case isLostRace(err):
		a.metrics.RecordStoreConflict("record_findings")
		return &RunStageOutput{Skipped: true, Reason: ReasonStale}, nil
	case errors.Is(err, domain.ErrStore):
		return nil, a.failStage(ctx, input.JobRef, stage, domain.NewStageExecutionError(stage, err), start)
	default:
		return nil, resilience.ToApplicationError(fmt.Errorf("record %s findings: %w", stage, err))
	}

	parseFailed := out.Findings.ParseFailed()
	a.metrics.RecordStageCompleted(string(stage), parseFailed, a.now().Sub(start).Seconds())
	logger.Info("stage completed",
		"jobID", input.JobID,
		"stage", stage,
		"citations", len(out.Findings.CitationList()),
		"parseFailed", parseFailed,
		"model", out.Model,
	)

	return &RunStageOutput{ParseFailed: parseFailed, CitationCount: len(out.Findings.CitationList())}, nil
}

// Synthesize consolidates every stage's citations, writes the executive
// summary and completes the job.
func (a *StageActivities) Synthesize(ctx context.Context, input SynthesizeInput) (*SynthesizeOutput, error) {
	logger := activity.GetLogger(ctx)
	stage := domain.StageSynthesis

	job, skip, err := a.claim(ctx, input.JobRef, stage)
	if err != nil {
		return nil, err
	}
	if skip == ReasonJobTerminal && job != nil && job.Status == domain.JobStatusCompleted {
		return &SynthesizeOutput{AlreadyCompleted: true, CitationCount: job.Result.Synthesis.CitationCount}, nil
	}
	if skip != "" {
		a.metrics.RecordStageSkipped(string(stage))
		logger.Info("synthesis skipped", "jobID", input.JobID, "reason", skip)
		return &SynthesizeOutput{Skipped: true, Reason: skip}, nil
	}

	start := a.now()
	order := a.graph.AnalysisOrder()
	in := make([]citations.StageFindings, 0, len(order))
	for _, s := range order {
		in = append(in, citations.StageFindings{Stage: s, Findings: job.Findings[s]})
	}

	res, err := citations.Consolidate(in)
	if err != nil {
		return nil, a.failStage(ctx, input.JobRef, stage, err, start)
	}

	activity.RecordHeartbeat(ctx, string(stage))
	callCtx, cancel := a.completionContext(ctx)
	synthesis, err := a.synthesizer.Synthesize(callCtx, job.Instructions, res)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, resilience.ToApplicationError(fmt.Errorf("synthesis interrupted: %w", ctx.Err()))
		}
		return nil, a.failStage(ctx, input.JobRef, stage, err, start)
	}

	now := a.now().UTC()
	synthesizing := domain.JobStatusSynthesizing
	completed := domain.JobStatusCompleted
	updated, err := updateJob(ctx, a.jobs, a.cfg.Retry, input.JobRef, domain.JobUpdate{
		ExpectedStatus: &synthesizing,
		Status:         &completed,
		Result: &domain.Report{
			Instructions: job.Instructions,
			Findings:     res.FindingsSet(),
			Synthesis:    *synthesis,
			CompletedAt:  now,
		},
		CompletedAt: &now,
	})
	switch {
	case err == nil:
	case isLostRace(err):
		a.metrics.RecordStoreConflict("complete_job")
		return &SynthesizeOutput{Skipped: true, Reason: ReasonStale}, nil
	case errors.Is(err, domain.ErrStore):
		return nil, a.failStage(ctx, input.JobRef, stage, domain.NewStageExecutionError(stage, err), start)
	default:
		return nil, resilience.ToApplicationError(fmt.Errorf("complete job: %w", err))
	}

	a.metrics.RecordConsolidation(len(res.Bibliography), res.Dropped, len(synthesis.UnresolvedReferences))
	a.metrics.RecordStageCompleted(string(stage), false, a.now().Sub(start).Seconds())
	duration := jobDuration(updated)
	a.metrics.RecordJobCompleted(duration)

	logger.Info("job completed",
		"jobID", input.JobID,
		"citations", synthesis.CitationCount,
		"dropped", synthesis.DroppedCitations,
		"unresolved", len(synthesis.UnresolvedReferences),
	)

	return &SynthesizeOutput{
		CitationCount:        synthesis.CitationCount,
		DroppedCitations:     synthesis.DroppedCitations,
		UnresolvedReferences: len(synthesis.UnresolvedReferences),
		DurationSeconds:      duration,
	}, nil
}

// claim re-reads the job and moves it to the stage's processing status.
//
// It returns a non-empty skip reason when this execution must not run the
// stage. A nil job with no skip reason and no error means the stage's
// findings are already recorded. A terminal job is returned with its skip
// reason so callers can inspect it.
func (a *StageActivities) claim(ctx context.Context, ref JobRef, stage domain.Stage) (*domain.Job, string, error) {
	info := activity.GetInfo(ctx)
	execRef := executionReference(info.WorkflowExecution.ID, info.WorkflowExecution.RunID)

	job, err := getJob(ctx, a.jobs, a.cfg.Retry, ref.SessionID, ref.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ReasonJobNotFound, nil
		}
		return nil, "", resilience.ToApplicationError(fmt.Errorf("load job: %w", err))
	}

	switch {
	case job.IsFinal():
		return job, ReasonJobTerminal, nil
	case stage.IsAnalysis() && job.HasFindings(stage):
		return nil, "", nil
	case job.Status.IsFailure():
		return nil, ReasonJobFailed, nil
	case !a.graph.Ready(stage, job.RecordedStages()):
		return nil, ReasonPredecessorsMissing, nil
	}

	processing := domain.ProcessingStatus(stage)
	if job.Status == processing {
		if job.ExecutionReference != execRef {
			return nil, ReasonOtherExecution, nil
		}
		return job, "", nil
	}

	expected, err := a.transitions.ExpectedPredecessor(stage)
	if err != nil {
		return nil, "", resilience.ToApplicationError(err)
	}
	claimed, err := updateJob(ctx, a.jobs, a.cfg.Retry, ref, domain.Transition(expected, processing))
	if err != nil {
		if isLostRace(err) {
			a.metrics.RecordStoreConflict("claim_stage")
			return nil, ReasonStale, nil
		}
		return nil, "", resilience.ToApplicationError(fmt.Errorf("claim stage %s: %w", stage, err))
	}
	return claimed, "", nil
}

// failStage records failed_<stage> with the error message and returns the
// non-retryable error that halts the workflow.
func (a *StageActivities) failStage(ctx context.Context, ref JobRef, stage domain.Stage, cause error, start time.Time) error {
	stageErr := cause
	if !errors.Is(cause, domain.ErrStageExecution) {
		stageErr = domain.NewStageExecutionError(stage, cause)
	}
	msg := stageErr.Error()

	upd := domain.Transition(domain.ProcessingStatus(stage), domain.FailedStatus(stage))
	upd.ErrorMessage = &msg
	if _, err := updateJob(ctx, a.jobs, a.cfg.Retry, ref, upd); err != nil && !isLostRace(err) {
		// The failure is not recorded; a retry resumes the stage.
		return resilience.ToApplicationError(domain.NewStoreError("record stage failure", err))
	}

	a.metrics.RecordStageFailed(string(stage), a.now().Sub(start).Seconds())
	activity.GetLogger(ctx).Error("stage failed", "jobID", ref.JobID, "stage", stage, "error", msg)
	return resilience.ToApplicationError(stageErr)
}

func (a *StageActivities) completionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.CompletionTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.cfg.CompletionTimeout)
}

// isLostRace reports whether err means another execution changed the job.
func isLostRace(err error) bool {
	return errors.Is(err, domain.ErrStaleState) || errors.Is(err, domain.ErrJobAlreadyTerminal)
}
