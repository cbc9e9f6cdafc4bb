package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// promauto registers globally, so every test uses its own namespace.

func TestNewMetrics(t *testing.T) {
	m := NewMetrics("test_research_new")

	assert.NotNil(t, m.JobsCreated)
	assert.NotNil(t, m.JobsCompleted)
	assert.NotNil(t, m.JobsFailed)
	assert.NotNil(t, m.JobDuration)
	assert.NotNil(t, m.StageRuns)
	assert.NotNil(t, m.StageParseErrors)
	assert.NotNil(t, m.StageDuration)
	assert.NotNil(t, m.DispatchMessages)
	assert.NotNil(t, m.CitationsConsolidated)
	assert.NotNil(t, m.CitationsDropped)
	assert.NotNil(t, m.UnresolvedReferences)
	assert.NotNil(t, m.StoreConflicts)
	assert.NotNil(t, m.ChatTurns)
	assert.NotNil(t, m.LLMRequestsTotal)
	assert.NotNil(t, m.LLMTokensUsed)
}

func TestRecordJobLifecycle(t *testing.T) {
	m := NewMetrics("test_job_lifecycle")

	m.RecordJobCreated()
	m.RecordJobCreated()
	m.RecordJobCompleted(120)
	m.RecordJobFailed("legal", 30)
	m.RecordJobFailed("", 0)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.JobsCreated))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.JobsCompleted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.JobsFailed.WithLabelValues("legal")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.JobsFailed.WithLabelValues("")))

	// The zero-duration failure is not observed.
	count, err := getHistogramSampleCount(m.JobDuration)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}

func TestRecordStageOutcomes(t *testing.T) {
	m := NewMetrics("test_stage_outcomes")

	m.RecordStageCompleted("obstacles", false, 10)
	m.RecordStageCompleted("market", true, 12)
	m.RecordStageFailed("legal", 3)
	m.RecordStageSkipped("legal")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.StageRuns.WithLabelValues("obstacles", "completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StageRuns.WithLabelValues("market", "completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StageRuns.WithLabelValues("legal", "failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StageRuns.WithLabelValues("legal", "skipped")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StageParseErrors.WithLabelValues("market")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.StageParseErrors.WithLabelValues("obstacles")))
}

func TestRecordDispatchAndStore(t *testing.T) {
	m := NewMetrics("test_dispatch_store")

	m.RecordDispatch("started")
	m.RecordDispatch("duplicate")
	m.RecordDispatch("duplicate")
	m.RecordStoreConflict("run_stage")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.DispatchMessages.WithLabelValues("started")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.DispatchMessages.WithLabelValues("duplicate")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StoreConflicts.WithLabelValues("run_stage")))
}

func TestRecordChatTurn(t *testing.T) {
	m := NewMetrics("test_chat_turns")

	m.RecordChatTurn("ok")
	m.RecordChatTurn("ok")
	m.RecordChatTurn("failed")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ChatTurns.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ChatTurns.WithLabelValues("failed")))
}

func TestRecordConsolidation(t *testing.T) {
	m := NewMetrics("test_consolidation")

	m.RecordConsolidation(7, 2, 1)
	assert.Equal(t, float64(7), testutil.ToFloat64(m.CitationsConsolidated))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CitationsDropped))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.UnresolvedReferences))
}

func TestRecordLLMRequest(t *testing.T) {
	m := NewMetrics("test_llm_request")

	m.RecordLLMRequest("anthropic", "claude-sonnet-4-5", 2.5, 100, 50)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LLMRequestsTotal.WithLabelValues("anthropic", "claude-sonnet-4-5")))
	assert.Equal(t, float64(100), testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet-4-5", "input")))
	assert.Equal(t, float64(50), testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet-4-5", "output")))

	m.RecordLLMRequestFailed("anthropic", "claude-sonnet-4-5", "rate_limit")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LLMRequestsFailed.WithLabelValues("anthropic", "claude-sonnet-4-5", "rate_limit")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.LLMRequestsTotal.WithLabelValues("anthropic", "claude-sonnet-4-5")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordJobCreated()
		m.RecordJobCompleted(1)
		m.RecordJobFailed("legal", 1)
		m.RecordStageCompleted("legal", true, 1)
		m.RecordStageFailed("legal", 1)
		m.RecordStageSkipped("legal")
		m.RecordDispatch("started")
		m.RecordConsolidation(1, 1, 1)
		m.RecordStoreConflict("start_job")
		m.RecordChatTurn("ok")
		m.RecordLLMRequest("openai", "gpt-4o", 1, 1, 1)
		m.RecordLLMRequestFailed("openai", "gpt-4o", "timeout")
	})
}

func getHistogramSampleCount(h prometheus.Histogram) (uint64, error) {
	ch := make(chan prometheus.Metric, 1)
	h.Collect(ch)
	close(ch)

	metric := <-ch
	var out dto.Metric
	if err := metric.Write(&out); err != nil {
		return 0, err
	}
	return out.Histogram.GetSampleCount(), nil
}
