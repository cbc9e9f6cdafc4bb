// Package observability provides logging, metrics, and context helpers for
// the research pipeline service.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//
// Attach job fields once and reuse the derived logger:
//
//	logger = observability.WithJobContext(logger, sessionID, jobID)
//	logger = observability.WithStageContext(logger, "legal", attempt)
//
// Or enrich from a context populated by the HTTP layer or the dispatcher:
//
//	ctx = observability.WithJob(ctx, sessionID, jobID)
//	observability.LoggerFromContext(ctx, logger).Info().Msg("stage started")
//
// # Metrics
//
//	metrics := observability.NewMetrics("research_pipeline")
//	metrics.RecordJobCreated()
//	metrics.RecordStageCompleted("legal", false, 42.0)
//
// A nil *Metrics is valid and records nothing.
//
// # Standard Fields
//
//   - session_id: caller-supplied grouping key
//   - job_id: job identifier
//   - stage: pipeline stage (obstacles, solutions, legal, competitor, market, synthesis)
//   - request_id: HTTP request identifier
//   - workflow_id / workflow_run_id: Temporal execution
package observability
