package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/research-pipeline-service/internal/domain"
	"github.com/helixir/research-pipeline-service/internal/observability"
	"github.com/helixir/research-pipeline-service/internal/repository"
	litemporal "github.com/helixir/research-pipeline-service/internal/temporal"
)

// Outcome is how one work item was settled.
type Outcome string

const (
	OutcomeStarted    Outcome = "started"
	OutcomeNotFound   Outcome = "not_found"
	OutcomeNotCreated Outcome = "not_created"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeFailed     Outcome = "failed"
	OutcomeError      Outcome = "error"
)

// PipelineStarter starts the pipeline workflow of one job.
type PipelineStarter interface {
	StartPipeline(ctx context.Context, input litemporal.PipelineInput, workflowFunc interface{}) (workflowID, runID string, err error)
}

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	// Workflow is the workflow function or registered name to start.
	Workflow interface{}

	// Stages is the analysis stage order passed to each run.
	Stages []domain.Stage

	StageTimeout     time.Duration
	SynthesisTimeout time.Duration

	// Concurrency bounds how many items of one batch run at once.
	Concurrency int

	// StoreRetries bounds retries of a failed job read or write.
	StoreRetries int
	StoreBackoff time.Duration
}

// Handler settles work items: it starts the pipeline for CREATED jobs and
// discards everything else.
type Handler struct {
	jobs    repository.JobRepository
	starter PipelineStarter
	cfg     HandlerConfig
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewHandler creates a Handler.
func NewHandler(jobs repository.JobRepository, starter PipelineStarter, cfg HandlerConfig, metrics *observability.Metrics, logger zerolog.Logger) (*Handler, error) {
	if cfg.Workflow == nil {
		return nil, errors.New("dispatch: workflow is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.StoreBackoff <= 0 {
		cfg.StoreBackoff = 200 * time.Millisecond
	}
	return &Handler{
		jobs:    jobs,
		starter: starter,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With().Str("component", "dispatch_handler").Logger(),
	}, nil
}

// Handle settles one work item. A nil error means the item may be
// acknowledged; an error means the job store could not be reached and the
// job was left unchanged.
func (h *Handler) Handle(ctx context.Context, item WorkItem) (Outcome, error) {
	outcome, err := h.handle(ctx, item)
	h.metrics.RecordDispatch(string(outcome))
	return outcome, err
}

func (h *Handler) handle(ctx context.Context, item WorkItem) (Outcome, error) {
	logger := observability.WithJobContext(h.logger, item.SessionID, item.JobID.String())

	var job *domain.Job
	err := h.retry(ctx, func() error {
		var err error
		job, err = h.jobs.Get(ctx, item.SessionID, item.JobID)
		return err
	})
	switch {
	case errors.Is(err, domain.ErrNotFound):
		logger.Warn().Msg("work item for unknown job discarded")
		return OutcomeNotFound, nil
	case err != nil:
		return OutcomeError, fmt.Errorf("read job: %w", err)
	}

	if job.Status != domain.JobStatusCreated {
		logger.Info().Str("status", string(job.Status)).Msg("work item discarded: job already dispatched")
		return OutcomeNotCreated, nil
	}

	workflowID, runID, err := h.starter.StartPipeline(ctx, litemporal.PipelineInput{
		SessionID:        item.SessionID,
		JobID:            item.JobID,
		Stages:           h.cfg.Stages,
		StageTimeout:     h.cfg.StageTimeout,
		SynthesisTimeout: h.cfg.SynthesisTimeout,
	}, h.cfg.Workflow)
	if litemporal.IsWorkflowAlreadyStarted(err) {
		logger.Info().Msg("work item discarded: pipeline already running")
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return h.failJob(ctx, logger, item, err)
	}

	logger.Info().
		Str("workflow_id", workflowID).
		Str("run_id", runID).
		Msg("pipeline started")
	return OutcomeStarted, nil
}

// failJob marks a CREATED job FAILED after its pipeline could not start.
func (h *Handler) failJob(ctx context.Context, logger zerolog.Logger, item WorkItem, cause error) (Outcome, error) {
	msg := fmt.Sprintf("dispatch failed: %v", cause)
	upd := domain.Transition(domain.JobStatusCreated, domain.JobStatusFailed)
	upd.ErrorMessage = &msg

	err := h.retry(ctx, func() error {
		_, err := h.jobs.Update(ctx, item.SessionID, item.JobID, upd)
		return err
	})
	switch {
	case errors.Is(err, domain.ErrStaleState), errors.Is(err, domain.ErrJobAlreadyTerminal):
		// Another delivery got there first.
		logger.Info().Err(cause).Msg("start failed but job already moved on")
		return OutcomeNotCreated, nil
	case err != nil:
		return OutcomeError, fmt.Errorf("mark job failed after start error %v: %w", cause, err)
	}

	logger.Error().Err(cause).Msg("pipeline start failed, job marked FAILED")
	h.metrics.RecordJobFailed("", 0)
	return OutcomeFailed, nil
}

func (h *Handler) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.cfg.StoreBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(h.cfg.StoreRetries, 0))), ctx)

	return backoff.Retry(func() error {
		err := op()
		if err == nil || errors.Is(err, domain.ErrStore) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

// Result is the settlement of one item of a batch.
type Result struct {
	Item    WorkItem
	Outcome Outcome
	Err     error
}

// HandleBatch settles items independently and concurrently. A failing item
// never stops its siblings; the returned error is non-nil only when an item
// panicked.
func (h *Handler) HandleBatch(ctx context.Context, items []WorkItem) ([]Result, error) {
	results := make([]Result, len(items))

	var g errgroup.Group
	g.SetLimit(h.cfg.Concurrency)
	for i, item := range items {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					results[i] = Result{Item: item, Outcome: OutcomeError, Err: fmt.Errorf("panic: %v", r)}
					err = fmt.Errorf("dispatch: panic handling job %s: %v", item.JobID, r)
				}
			}()
			outcome, herr := h.Handle(ctx, item)
			results[i] = Result{Item: item, Outcome: outcome, Err: herr}
			if herr != nil {
				h.logger.Error().Err(herr).
					Str("job_id", item.JobID.String()).
					Msg("work item not settled")
			}
			return nil
		})
	}
	err := g.Wait()
	return results, err
}
