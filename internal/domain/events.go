package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants for job lifecycle events.
const (
	EventTypeJobCreated        = "job.created"
	EventTypeJobStarted        = "job.started"
	EventTypeJobStageCompleted = "job.stage_completed"
	EventTypeJobCompleted      = "job.completed"
	EventTypeJobFailed         = "job.failed"
)

// JobEvent is a lifecycle notification published for downstream consumers.
// Events are informational; the job store remains the source of truth.
type JobEvent struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	JobID      uuid.UUID       `json:"job_id"`
	SessionID  string          `json:"session_id"`
	Status     JobStatus       `json:"status"`
	Stage      Stage           `json:"stage,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// NewJobEvent creates a new event. The payload is JSON-serialized when not nil.
func NewJobEvent(eventType string, jobID uuid.UUID, sessionID string, status JobStatus, payload interface{}) (*JobEvent, error) {
	e := &JobEvent{
		EventID:    uuid.New().String(),
		EventType:  eventType,
		JobID:      jobID,
		SessionID:  sessionID,
		Status:     status,
		OccurredAt: time.Now().UTC(),
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		e.Payload = b
	}
	return e, nil
}

// WithStage sets the stage on the event.
func (e *JobEvent) WithStage(s Stage) *JobEvent {
	e.Stage = s
	return e
}

// StageCompletedPayload is the payload for job.stage_completed events.
type StageCompletedPayload struct {
	CitationCount int  `json:"citation_count"`
	ParseFailed   bool `json:"parse_failed"`
}

// JobCompletedPayload is the payload for job.completed events.
type JobCompletedPayload struct {
	CitationCount    int           `json:"citation_count"`
	DroppedCitations int           `json:"dropped_citations"`
	Duration         time.Duration `json:"duration_ns"`
}

// JobFailedPayload is the payload for job.failed events.
type JobFailedPayload struct {
	Error string `json:"error"`
	Stage Stage  `json:"stage,omitempty"`
}
