package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/helixir/research-pipeline-service/internal/domain"
)

const (
	defaultStreamInterval    = 2 * time.Second
	defaultStreamMaxDuration = 2 * time.Hour
)

// sseEvent is one server-sent progress event.
type sseEvent struct {
	EventType       string    `json:"event_type"`
	JobID           string    `json:"job_id"`
	Status          string    `json:"status"`
	CompletedStages []string  `json:"completed_stages"`
	Message         string    `json:"message,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// streamProgress handles GET /sessions/{sessionID}/jobs/{jobID}/stream. It
// polls the job store and emits an event on every status change until the
// job is terminal.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionIDFromContext(r.Context())
	jobID, ok := parseUUID(w, chi.URLParam(r, "jobID"), "job_id")
	if !ok {
		return
	}

	job, err := s.jobs.Get(r.Context(), sessionID, jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if job.IsFinal() {
		sendSSEEvent(w, flusher, s.jobEvent("completed", job, "job is in terminal state"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.streamMaxDuration)
	defer cancel()

	sendSSEEvent(w, flusher, s.jobEvent("stream_started", job, "progress stream started"))
	last := job.Status

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if r.Context().Err() == nil {
				sendSSEEvent(w, flusher, sseEvent{
					EventType: "timeout",
					JobID:     jobID.String(),
					Message:   "stream max duration exceeded",
					Timestamp: s.now(),
				})
			}
			return

		case <-ticker.C:
			current, pollErr := s.jobs.Get(ctx, sessionID, jobID)
			if pollErr != nil {
				s.logger.Error().Err(pollErr).Str("job_id", jobID.String()).Msg("failed to poll job status")
				continue
			}

			if current.IsFinal() {
				sendSSEEvent(w, flusher, s.jobEvent("completed", current, "job finished with status: "+string(current.Status)))
				return
			}
			if current.Status != last {
				last = current.Status
				sendSSEEvent(w, flusher, s.jobEvent("progress_update", current, "status: "+string(current.Status)))
			}
		}
	}
}

func (s *Server) jobEvent(eventType string, j *domain.Job, message string) sseEvent {
	stages := make([]string, 0, len(j.Findings))
	for _, st := range domain.AnalysisStages {
		if j.HasFindings(st) {
			stages = append(stages, string(st))
		}
	}
	return sseEvent{
		EventType:       eventType,
		JobID:           j.ID.String(),
		Status:          string(j.Status),
		CompletedStages: stages,
		Message:         message,
		Timestamp:       s.now(),
	}
}

// sendSSEEvent writes a single SSE event to the response writer.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event sseEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
	flusher.Flush()
}
