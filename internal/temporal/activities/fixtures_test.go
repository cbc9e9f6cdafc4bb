package activities

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/helixir/research-pipeline-service/internal/citations"
	"github.com/helixir/research-pipeline-service/internal/domain"
	"github.com/helixir/research-pipeline-service/internal/pipeline"
	"github.com/helixir/research-pipeline-service/internal/repository"
	"github.com/helixir/research-pipeline-service/internal/stages"
)

var fastRetry = StoreRetryConfig{Attempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}

// fakeAnalyzer answers every stage with findings carrying one citation.
type fakeAnalyzer struct {
	mu    sync.Mutex
	calls []stages.AnalysisInput
	fail  map[domain.Stage]error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, in stages.AnalysisInput) (*stages.AnalysisOutput, error) {
	f.mu.Lock()
	f.calls = append(f.calls, in)
	err := f.fail[in.Stage]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	findings, err := domain.DecodeFindings(in.Stage, []byte(fmt.Sprintf(
		`{"citations":[{"id":"cite_1","url":"https://example.com/%s","title":"%s source"}]}`, in.Stage, in.Stage)))
	if err != nil {
		return nil, err
	}
	return &stages.AnalysisOutput{Findings: findings, Model: "fake"}, nil
}

func (f *fakeAnalyzer) stagesCalled() []domain.Stage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Stage, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Stage
	}
	return out
}

// fakeSynthesizer writes a summary referencing the first bibliography entry.
type fakeSynthesizer struct {
	err   error
	calls int
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, _ string, res *citations.Result) (*domain.Synthesis, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	summary := "No sources."
	if len(res.Bibliography) > 0 {
		summary = fmt.Sprintf("Summary [%s].", res.Bibliography[0].ID())
	}
	return &domain.Synthesis{
		ExecutiveSummary:     summary,
		Citations:            res.Bibliography,
		CitationCount:        len(res.Bibliography),
		DroppedCitations:     res.Dropped,
		UnresolvedReferences: res.Unresolved,
		ResearchDate:         "2025-03-14",
	}, nil
}

// flakyRepository fails the next n calls of Update with a store error.
type flakyRepository struct {
	repository.JobRepository
	mu       sync.Mutex
	failures int
	calls    int
}

func (r *flakyRepository) Update(ctx context.Context, sessionID string, id uuid.UUID, upd domain.JobUpdate) (*domain.Job, error) {
	r.mu.Lock()
	r.calls++
	if r.failures > 0 {
		r.failures--
		r.mu.Unlock()
		return nil, domain.NewStoreError("update job", fmt.Errorf("connection reset"))
	}
	r.mu.Unlock()
	return r.JobRepository.Update(ctx, sessionID, id, upd)
}

// statusRecorder records every status written through Update.
type statusRecorder struct {
	repository.JobRepository
	mu       sync.Mutex
	statuses []domain.JobStatus
}

func (r *statusRecorder) Update(ctx context.Context, sessionID string, id uuid.UUID, upd domain.JobUpdate) (*domain.Job, error) {
	job, err := r.JobRepository.Update(ctx, sessionID, id, upd)
	if err == nil && upd.Status != nil {
		r.mu.Lock()
		r.statuses = append(r.statuses, *upd.Status)
		r.mu.Unlock()
	}
	return job, err
}

func newTestJob(t *testing.T, repo repository.JobRepository) JobRef {
	t.Helper()
	job := domain.NewJob("session-1", "Telecom operators lose revenue to SIM-box fraud.", time.Now().UTC())
	require.NoError(t, repo.Create(context.Background(), job))
	return JobRef{SessionID: job.SessionID, JobID: job.ID}
}

type activityHarness struct {
	env      *testsuite.TestActivityEnvironment
	repo     repository.JobRepository
	status   *StatusActivities
	stage    *StageActivities
	analyzer *fakeAnalyzer
	synth    *fakeSynthesizer
}

func newHarness(t *testing.T, repo repository.JobRepository) *activityHarness {
	t.Helper()
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestActivityEnvironment()

	if repo == nil {
		repo = repository.NewMemoryJobRepository(nil)
	}
	h := &activityHarness{
		env:      env,
		repo:     repo,
		analyzer: &fakeAnalyzer{fail: map[domain.Stage]error{}},
		synth:    &fakeSynthesizer{},
	}
	h.status = NewStatusActivities(repo, nil, fastRetry)
	stage, err := NewStageActivities(repo, pipeline.DefaultGraph(), h.analyzer, h.synth, nil, StageConfig{
		CompletionTimeout: time.Second,
		Retry:             fastRetry,
	})
	require.NoError(t, err)
	h.stage = stage

	env.RegisterActivity(h.status)
	env.RegisterActivity(h.stage)
	return h
}

func (h *activityHarness) start(t *testing.T, ref JobRef) {
	t.Helper()
	val, err := h.env.ExecuteActivity(h.status.StartJob, StartJobInput{JobRef: ref})
	require.NoError(t, err)
	var out StartJobOutput
	require.NoError(t, val.Get(&out))
	require.False(t, out.Skipped, out.Reason)
}

func (h *activityHarness) runStage(t *testing.T, ref JobRef, stage domain.Stage) (RunStageOutput, error) {
	t.Helper()
	var out RunStageOutput
	val, err := h.env.ExecuteActivity(h.stage.RunStage, RunStageInput{JobRef: ref, Stage: stage})
	if err != nil {
		return out, err
	}
	require.NoError(t, val.Get(&out))
	return out, nil
}

func (h *activityHarness) job(t *testing.T, ref JobRef) *domain.Job {
	t.Helper()
	job, err := h.repo.Get(context.Background(), ref.SessionID, ref.JobID)
	require.NoError(t, err)
	return job
}
