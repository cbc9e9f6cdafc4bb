package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestDefaultLoggingConfig(t *testing.T) {
	cfg := DefaultLoggingConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
	assert.False(t, cfg.AddSource)
}

func TestNewLogger_Level(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	var buf bytes.Buffer
	logger := newLogger(LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn().Str("stage", "legal").Msg("kept")
	entry := decodeEntry(t, &buf)
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "legal", entry["stage"])
	assert.Contains(t, entry, "time")
}

func TestNewLogger_AddSource(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	var buf bytes.Buffer
	logger := newLogger(LoggingConfig{Level: "info", AddSource: true}, &buf)
	logger.Info().Msg("with caller")

	entry := decodeEntry(t, &buf)
	assert.Contains(t, entry, "caller")
}

func TestNewLogger_Console(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	var buf bytes.Buffer
	logger := newLogger(LoggingConfig{Level: "info", Format: "console"}, &buf)
	logger.Info().Msg("human readable")

	assert.Contains(t, buf.String(), "human readable")
	assert.NotContains(t, buf.String(), `"message"`)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"WARNING", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"unknown", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input))
		})
	}
}

func TestWithJobContext(t *testing.T) {
	var buf bytes.Buffer
	logger := WithJobContext(zerolog.New(&buf), "sess-1", "job-1")
	logger = WithStageContext(logger, "competitor", 2)
	logger.Info().Msg("stage started")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "sess-1", entry["session_id"])
	assert.Equal(t, "job-1", entry["job_id"])
	assert.Equal(t, "competitor", entry["stage"])
	assert.Equal(t, float64(2), entry["attempt"])
}

func TestWithWorkflowContext(t *testing.T) {
	var buf bytes.Buffer
	WithWorkflowContext(zerolog.New(&buf), "research-job-1", "run-1").Info().Msg("x")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "research-job-1", entry["workflow_id"])
	assert.Equal(t, "run-1", entry["workflow_run_id"])
}

func TestTemporalLogger(t *testing.T) {
	var buf bytes.Buffer
	tl := NewTemporalLogger(zerolog.New(&buf))

	tl.Info("workflow started", "WorkflowID", "research-job-1", 42, "answer", "dangling")
	entry := decodeEntry(t, &buf)
	assert.Equal(t, "temporal-sdk", entry["component"])
	assert.Equal(t, "research-job-1", entry["WorkflowID"])
	assert.Equal(t, "answer", entry["42"])
	assert.NotContains(t, entry, "dangling")

	buf.Reset()
	tl.With("Namespace", "research-pipeline").Error("poll failed")
	entry = decodeEntry(t, &buf)
	assert.Equal(t, "research-pipeline", entry["Namespace"])
	assert.Equal(t, "error", entry["level"])
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithRequestID(context.Background(), "req-9")
	ctx = WithJob(ctx, "sess-9", "job-9")
	ctx = WithStage(ctx, "market")

	LoggerFromContext(ctx, zerolog.New(&buf)).Info().Msg("enriched")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "req-9", entry["request_id"])
	assert.Equal(t, "sess-9", entry["session_id"])
	assert.Equal(t, "job-9", entry["job_id"])
	assert.Equal(t, "market", entry["stage"])
	assert.NotContains(t, entry, "workflow_id")
}
