package observability

import (
	"context"

	"github.com/rs/zerolog"
)

type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	sessionIDKey  contextKey = "session_id"
	jobIDKey      contextKey = "job_id"
	stageKey      contextKey = "stage"
	workflowIDKey contextKey = "workflow_id"
	runIDKey      contextKey = "workflow_run_id"
)

func stringValue(ctx context.Context, key contextKey) string {
	if v := ctx.Value(key); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithJob adds the session and job identifiers to the context.
func WithJob(ctx context.Context, sessionID, jobID string) context.Context {
	ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	return context.WithValue(ctx, jobIDKey, jobID)
}

// JobFromContext retrieves the session and job identifiers.
func JobFromContext(ctx context.Context) (sessionID, jobID string) {
	return stringValue(ctx, sessionIDKey), stringValue(ctx, jobIDKey)
}

// WithStage adds the pipeline stage name to the context.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext retrieves the pipeline stage name.
func StageFromContext(ctx context.Context) string {
	return stringValue(ctx, stageKey)
}

// WithWorkflow adds workflow ID and run ID to the context.
func WithWorkflow(ctx context.Context, workflowID, runID string) context.Context {
	ctx = context.WithValue(ctx, workflowIDKey, workflowID)
	return context.WithValue(ctx, runIDKey, runID)
}

// WorkflowFromContext retrieves workflow ID and run ID from context.
func WorkflowFromContext(ctx context.Context) (workflowID, runID string) {
	return stringValue(ctx, workflowIDKey), stringValue(ctx, runIDKey)
}

// LoggerFromContext returns base enriched with every identifier present in ctx.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	lc := base.With()
	for _, key := range []contextKey{requestIDKey, sessionIDKey, jobIDKey, stageKey, workflowIDKey, runIDKey} {
		if v := stringValue(ctx, key); v != "" {
			lc = lc.Str(string(key), v)
		}
	}
	return lc.Logger()
}
