// Package domain provides domain models and business rules for the research
// pipeline service.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobType enumerates the kinds of work the service runs.
type JobType string

const (
	// JobTypeMarketResearch is the multi-stage market research pipeline.
	JobTypeMarketResearch JobType = "market_research"
)

// Job is the unit of work. (SessionID, ID) is its lookup key.
type Job struct {
	ID           uuid.UUID
	SessionID    string
	Type         JobType
	Instructions string
	Status       JobStatus

	// Findings holds each completed stage's output. A stage's entry is
	// written once and never replaced.
	Findings FindingsSet

	// Result is set only when Status is COMPLETED.
	Result *Report

	// ErrorMessage is set only on failure statuses.
	ErrorMessage string

	// ExecutionReference identifies the orchestration run driving the job.
	ExecutionReference string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// NewJob creates a job in CREATED status. A session id is generated when
// none is supplied.
func NewJob(sessionID, instructions string, now time.Time) *Job {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &Job{
		ID:           uuid.New(),
		SessionID:    sessionID,
		Type:         JobTypeMarketResearch,
		Instructions: instructions,
		Status:       JobStatusCreated,
		Findings:     FindingsSet{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsFinal reports whether the job has reached COMPLETED or FAILED.
func (j *Job) IsFinal() bool {
	return j.Status.IsTerminal()
}

// HasFindings reports whether stage s has recorded findings.
func (j *Job) HasFindings(s Stage) bool {
	_, ok := j.Findings[s]
	return ok
}

// RecordedStages returns the set of stages with recorded findings.
func (j *Job) RecordedStages() map[Stage]bool {
	out := make(map[Stage]bool, len(j.Findings))
	for s := range j.Findings {
		out[s] = true
	}
	return out
}

// Report is the final synthesized result of a job.
type Report struct {
	Instructions string      `json:"instructions"`
	Findings     FindingsSet `json:"findings"`
	Synthesis    Synthesis   `json:"synthesis"`
	CompletedAt  time.Time   `json:"completed_at"`
}

// Synthesis is the executive summary plus the consolidated bibliography.
type Synthesis struct {
	ExecutiveSummary     string                `json:"executive_summary"`
	Citations            []Citation            `json:"citations"`
	CitationCount        int                   `json:"citation_count"`
	DroppedCitations     int                   `json:"dropped_citations"`
	UnresolvedReferences []UnresolvedReference `json:"unresolved_references,omitempty"`
	ResearchDate         string                `json:"research_date"`
}

// UnresolvedReference is a citation reference that matched no bibliography
// entry. It is kept in place in the text and reported here.
type UnresolvedReference struct {
	Stage   Stage  `json:"stage"`
	LocalID string `json:"local_id"`
}

// JobUpdate is a partial update applied atomically to one job. Nil fields are
// left unchanged.
type JobUpdate struct {
	// ExpectedStatus, when set, makes the update conditional on the stored
	// status (compare-and-swap).
	ExpectedStatus *JobStatus

	Status             *JobStatus
	StageFindings      Findings
	Result             *Report
	ErrorMessage       *string
	ExecutionReference *string
	StartedAt          *time.Time
	CompletedAt        *time.Time
}

// Transition returns an update that moves a job from -> to.
func Transition(from, to JobStatus) JobUpdate {
	return JobUpdate{ExpectedStatus: &from, Status: &to}
}
