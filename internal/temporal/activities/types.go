// Package activities provides Temporal activity implementations for the
// research pipeline.
//
// Activity inputs and outputs are serializable structs that cross the
// Temporal serialization boundary. All fields must be exported for JSON
// serialization by the Temporal SDK's default data converter.
//
// Every activity re-reads the job before acting and treats a job it can no
// longer advance (missing, terminal, or moved on by another execution) as a
// no-op reported through a Skipped flag rather than an error.
package activities

import (
	"github.com/google/uuid"

	"github.com/helixir/research-pipeline-service/internal/domain"
)

// JobRef identifies one job.
type JobRef struct {
	SessionID string
	JobID     uuid.UUID
}

// StartJobInput is the input of StatusActivities.StartJob.
type StartJobInput struct {
	JobRef
}

// StartJobOutput is the result of StatusActivities.StartJob.
type StartJobOutput struct {
	// Skipped is true when the job is missing or was already started by
	// another execution. The workflow ends without side effects.
	Skipped bool
	Reason  string

	// Instructions echoes the job's problem statement for logging.
	Instructions string
}

// FailJobInput is the input of StatusActivities.FailJob.
type FailJobInput struct {
	JobRef

	// Stage is the stage that failed, if any.
	Stage domain.Stage

	// Error is recorded when the job carries no error message yet.
	Error string
}

// FailJobOutput is the result of StatusActivities.FailJob.
type FailJobOutput struct {
	// AlreadyTerminal is true when the job had already reached COMPLETED or FAILED.
	AlreadyTerminal bool
	Status          domain.JobStatus
	ErrorMessage    string
}

// RunStageInput is the input of StageActivities.RunStage.
type RunStageInput struct {
	JobRef
	Stage domain.Stage
}

// RunStageOutput is the result of StageActivities.RunStage.
type RunStageOutput struct {
	// Skipped is true when this execution must not advance the job. The
	// workflow stops without failing the job.
	Skipped bool
	Reason  string

	// AlreadyRecorded is true when findings for the stage existed before this
	// attempt. The pipeline continues.
	AlreadyRecorded bool

	ParseFailed   bool
	CitationCount int
}

// SynthesizeInput is the input of StageActivities.Synthesize.
type SynthesizeInput struct {
	JobRef
}

// SynthesizeOutput is the result of StageActivities.Synthesize.
type SynthesizeOutput struct {
	Skipped bool
	Reason  string

	// AlreadyCompleted is true when the job was COMPLETED before this attempt.
	AlreadyCompleted bool

	CitationCount        int
	DroppedCitations     int
	UnresolvedReferences int
	DurationSeconds      float64
}

// PublishEventInput is the input of EventActivities.PublishEvent.
type PublishEventInput struct {
	EventType string
	JobRef
	Status domain.JobStatus
	Stage  domain.Stage

	// Payload is the event payload that will be JSON-serialized.
	Payload map[string]interface{}
}

// Skip reasons reported in outputs.
const (
	ReasonJobNotFound         = "job not found"
	ReasonJobTerminal         = "job already terminal"
	ReasonJobFailed           = "job already failed"
	ReasonNotCreated          = "job not in CREATED status"
	ReasonStale               = "status changed by another execution"
	ReasonOtherExecution      = "stage owned by another execution"
	ReasonPredecessorsMissing = "predecessors incomplete"
)
