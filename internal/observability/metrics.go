package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus metrics of the research pipeline. Metrics
// are grouped by subsystem: jobs, stages, dispatch, citations, store, chat and
// LLM.
// All collectors are registered with the default registry via promauto, so
// NewMetrics must be called once per namespace per process.
//
// Every Record method is safe to call on a nil *Metrics.
type Metrics struct {
	// JobsCreated counts jobs accepted by the intake API.
	JobsCreated prometheus.Counter

	// JobsCompleted counts jobs that reached COMPLETED.
	JobsCompleted prometheus.Counter

	// JobsFailed counts jobs that reached FAILED or a failed_<stage> status,
	// labeled by the failing stage ("" for orchestration failures).
	JobsFailed *prometheus.CounterVec

	// JobDuration observes seconds from start to a final status.
	JobDuration prometheus.Histogram

	// StageRuns counts stage executions labeled by stage and outcome
	// (completed, failed, skipped).
	StageRuns *prometheus.CounterVec

	// StageParseErrors counts analysis stages whose output fell back to the
	// placeholder findings.
	StageParseErrors *prometheus.CounterVec

	// StageDuration observes stage execution seconds, labeled by stage.
	StageDuration *prometheus.HistogramVec

	// DispatchMessages counts work items handled by the dispatcher, labeled
	// by outcome (started, discarded, duplicate, invalid, failed).
	DispatchMessages *prometheus.CounterVec

	// CitationsConsolidated counts citations that received a global id.
	CitationsConsolidated prometheus.Counter

	// CitationsDropped counts citation records rejected as malformed.
	CitationsDropped prometheus.Counter

	// UnresolvedReferences counts references left unmapped after consolidation.
	UnresolvedReferences prometheus.Counter

	// StoreConflicts counts compare-and-swap updates rejected as stale,
	// labeled by operation.
	StoreConflicts *prometheus.CounterVec

	// ChatTurns counts chat turns labeled by outcome (ok, invalid, failed).
	ChatTurns *prometheus.CounterVec

	// LLMRequestsTotal counts completion requests labeled by provider and model.
	LLMRequestsTotal *prometheus.CounterVec

	// LLMRequestsFailed counts failed completion requests labeled by provider,
	// model and error type.
	LLMRequestsFailed *prometheus.CounterVec

	// LLMRequestDuration observes completion latency in seconds.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed counts tokens labeled by provider, model and token type.
	LLMTokensUsed *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Jobs
		JobsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_created_total",
			Help:      "Total number of research jobs created",
		}),
		JobsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Total number of research jobs completed successfully",
		}),
		JobsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Total number of research jobs that failed",
		}, []string{"stage"}),
		JobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of research jobs from start to final status",
			Buckets:   []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),

		// Stages
		StageRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_runs_total",
			Help:      "Stage executions by stage and outcome",
		}, []string{"stage", "outcome"}),
		StageParseErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_parse_errors_total",
			Help:      "Stage outputs that could not be parsed and were replaced by placeholder findings",
		}, []string{"stage"}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of stage executions",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage"}),

		// Dispatch
		DispatchMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_messages_total",
			Help:      "Work items handled by the dispatcher by outcome",
		}, []string{"outcome"}),

		// Citations
		CitationsConsolidated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "citations_consolidated_total",
			Help:      "Citations assigned a global identifier during synthesis",
		}),
		CitationsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "citations_dropped_total",
			Help:      "Citation records dropped for missing url or title",
		}),
		UnresolvedReferences: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "citation_unresolved_references_total",
			Help:      "Citation references that matched no bibliography entry",
		}),

		// Store
		StoreConflicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_conflicts_total",
			Help:      "Conditional job updates rejected because the status changed",
		}, []string{"operation"}),

		// Chat
		ChatTurns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Chat turns handled, labeled by outcome",
		}, []string{"outcome"}),

		// LLM
		LLMRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total completion requests",
		}, []string{"provider", "model"}),
		LLMRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_failed_total",
			Help:      "Failed completion requests",
		}, []string{"provider", "model", "error_type"}),
		LLMRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Completion request latency",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"provider", "model"}),
		LLMTokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Tokens consumed by completion requests",
		}, []string{"provider", "model", "type"}),
	}
}

// RecordJobCreated records a job accepted by intake.
func (m *Metrics) RecordJobCreated() {
	if m == nil {
		return
	}
	m.JobsCreated.Inc()
}

// RecordJobCompleted records a job that reached COMPLETED.
func (m *Metrics) RecordJobCompleted(durationSeconds float64) {
	if m == nil {
		return
	}
	m.JobsCompleted.Inc()
	m.JobDuration.Observe(durationSeconds)
}

// RecordJobFailed records a failed job. stage is empty when the failure was
// not attributable to one stage.
func (m *Metrics) RecordJobFailed(stage string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.JobsFailed.WithLabelValues(stage).Inc()
	if durationSeconds > 0 {
		m.JobDuration.Observe(durationSeconds)
	}
}

// RecordStageCompleted records a successful stage run.
func (m *Metrics) RecordStageCompleted(stage string, parseError bool, durationSeconds float64) {
	if m == nil {
		return
	}
	m.StageRuns.WithLabelValues(stage, "completed").Inc()
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
	if parseError {
		m.StageParseErrors.WithLabelValues(stage).Inc()
	}
}

// RecordStageFailed records a stage that moved its job to failed_<stage>.
func (m *Metrics) RecordStageFailed(stage string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.StageRuns.WithLabelValues(stage, "failed").Inc()
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordStageSkipped records a redelivered stage that found its work done or
// its job final.
func (m *Metrics) RecordStageSkipped(stage string) {
	if m == nil {
		return
	}
	m.StageRuns.WithLabelValues(stage, "skipped").Inc()
}

// RecordDispatch records one handled work item.
func (m *Metrics) RecordDispatch(outcome string) {
	if m == nil {
		return
	}
	m.DispatchMessages.WithLabelValues(outcome).Inc()
}

// RecordConsolidation records the counts of one citation consolidation run.
func (m *Metrics) RecordConsolidation(consolidated, dropped, unresolved int) {
	if m == nil {
		return
	}
	m.CitationsConsolidated.Add(float64(consolidated))
	m.CitationsDropped.Add(float64(dropped))
	m.UnresolvedReferences.Add(float64(unresolved))
}

// RecordStoreConflict records a stale compare-and-swap.
func (m *Metrics) RecordStoreConflict(operation string) {
	if m == nil {
		return
	}
	m.StoreConflicts.WithLabelValues(operation).Inc()
}

// RecordChatTurn records one chat turn.
func (m *Metrics) RecordChatTurn(outcome string) {
	if m == nil {
		return
	}
	m.ChatTurns.WithLabelValues(outcome).Inc()
}

// RecordLLMRequest records a successful completion request.
func (m *Metrics) RecordLLMRequest(provider, model string, durationSeconds float64, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.LLMRequestsTotal.WithLabelValues(provider, model).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	m.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	m.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
}

// RecordLLMRequestFailed records a failed completion request.
func (m *Metrics) RecordLLMRequestFailed(provider, model, errorType string) {
	if m == nil {
		return
	}
	m.LLMRequestsTotal.WithLabelValues(provider, model).Inc()
	m.LLMRequestsFailed.WithLabelValues(provider, model, errorType).Inc()
}
