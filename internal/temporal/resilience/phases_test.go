package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/helixir/research-pipeline-service/internal/domain"
)

func TestDefaultStageConfig(t *testing.T) {
	for _, s := range domain.AnalysisStages {
		cfg := DefaultStageConfig(s)
		if cfg.Name != string(s) || cfg.MaxRetries != 2 {
			t.Errorf("stage %s: %+v", s, cfg)
		}
	}
	if got := DefaultStageConfig(domain.StageSynthesis).MaxRetries; got != 1 {
		t.Errorf("synthesis MaxRetries = %d, want 1", got)
	}
}

func TestBackoffForAttempt(t *testing.T) {
	cfg := StageConfig{
		InitialBackoff:    1 * time.Second,
		BackoffMultiplier: 10.0,
		MaxBackoff:        5 * time.Second,
	}

	if got := cfg.backoffForAttempt(0); got != time.Second {
		t.Errorf("backoffForAttempt(0) = %v, want 1s", got)
	}
	// Attempt 1: 10s -> capped at 5s
	if got := cfg.backoffForAttempt(1); got != 5*time.Second {
		t.Errorf("backoffForAttempt(1) = %v, want %v", got, 5*time.Second)
	}
}

// stageRunWorkflow drives ExecuteStage with a scripted sequence of errors.
func stageRunWorkflow(ctx workflow.Context, failures []string) (StageResult, error) {
	calls := 0
	progress := &Progress{}
	cfg := StageConfig{Name: "legal", MaxRetries: 2, InitialBackoff: time.Second, BackoffMultiplier: 2, MaxBackoff: 4 * time.Second}
	res := ExecuteStage(ctx, cfg, progress, func() error {
		defer func() { calls++ }()
		if calls < len(failures) {
			switch failures[calls] {
			case "transient":
				return temporal.NewApplicationError("db down", TypeStore)
			case "permanent":
				return temporal.NewNonRetryableApplicationError("llm failed", TypeStageExecution, nil)
			}
		}
		return nil
	})
	if res.Err != nil {
		return StageResult{Failed: res.Failed, Attempts: res.Attempts}, res.Err
	}
	return res, nil
}

func TestExecuteStage(t *testing.T) {
	tests := []struct {
		name       string
		failures   []string
		wantErr    bool
		wantErrMsg string
		attempts   int
	}{
		{name: "first try", attempts: 1},
		{name: "recovers after transient", failures: []string{"transient", "transient"}, attempts: 3},
		{name: "permanent stops at once", failures: []string{"permanent"}, wantErr: true, wantErrMsg: "llm failed"},
		{name: "exhausted", failures: []string{"transient", "transient", "transient"}, wantErr: true, wantErrMsg: "retries exhausted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var suite testsuite.WorkflowTestSuite
			env := suite.NewTestWorkflowEnvironment()
			env.RegisterWorkflow(stageRunWorkflow)

			env.ExecuteWorkflow(stageRunWorkflow, tt.failures)
			require.True(t, env.IsWorkflowCompleted())

			if tt.wantErr {
				err := env.GetWorkflowError()
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErrMsg)
				return
			}
			require.NoError(t, env.GetWorkflowError())
			var res StageResult
			require.NoError(t, env.GetWorkflowResult(&res))
			assert.False(t, res.Failed)
			assert.Equal(t, tt.attempts, res.Attempts)
		})
	}
}

func TestProgressError(t *testing.T) {
	assert.Equal(t, "unknown error", progressError(nil))
	assert.Equal(t, "x", progressError(&Progress{LastRetryError: "x"}))
}
