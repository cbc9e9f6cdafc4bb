package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDContext(t *testing.T) {
	t.Run("stores and retrieves request ID", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "req-123")
		assert.Equal(t, "req-123", RequestIDFromContext(ctx))
	})

	t.Run("returns empty string when not set", func(t *testing.T) {
		assert.Empty(t, RequestIDFromContext(context.Background()))
	})
}

func TestJobContext(t *testing.T) {
	ctx := WithJob(context.Background(), "sess-1", "job-1")
	sessionID, jobID := JobFromContext(ctx)
	assert.Equal(t, "sess-1", sessionID)
	assert.Equal(t, "job-1", jobID)

	sessionID, jobID = JobFromContext(context.Background())
	assert.Empty(t, sessionID)
	assert.Empty(t, jobID)
}

func TestStageContext(t *testing.T) {
	ctx := WithStage(context.Background(), "legal")
	assert.Equal(t, "legal", StageFromContext(ctx))

	// Later values shadow earlier ones.
	ctx = WithStage(ctx, "market")
	assert.Equal(t, "market", StageFromContext(ctx))
}

func TestWorkflowContext(t *testing.T) {
	ctx := WithWorkflow(context.Background(), "research-job-1", "run-1")
	workflowID, runID := WorkflowFromContext(ctx)
	assert.Equal(t, "research-job-1", workflowID)
	assert.Equal(t, "run-1", runID)
}

func TestContextValueWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), requestIDKey, 42)
	assert.Empty(t, RequestIDFromContext(ctx))
}
