package domain

import (
	"fmt"
	"strings"
)

// JobStatus represents the lifecycle state of a research job.
// These values must match the CHECK constraint on jobs.status.
type JobStatus string

const (
	JobStatusCreated      JobStatus = "CREATED"
	JobStatusInProgress   JobStatus = "IN_PROGRESS"
	JobStatusSynthesizing JobStatus = "synthesizing"
	JobStatusCompleted    JobStatus = "COMPLETED"
	JobStatusFailed       JobStatus = "FAILED"

	processingPrefix = "processing_"
	failedPrefix     = "failed_"
)

// ProcessingStatus returns the status a job holds while stage s runs.
func ProcessingStatus(s Stage) JobStatus {
	if s == StageSynthesis {
		return JobStatusSynthesizing
	}
	return JobStatus(processingPrefix + string(s))
}

// FailedStatus returns the status recording that stage s failed.
func FailedStatus(s Stage) JobStatus {
	return JobStatus(failedPrefix + string(s))
}

// IsTerminal returns true if no further transition is legal from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsFailure returns true for FAILED and every failed_<stage> status.
func (s JobStatus) IsFailure() bool {
	return s == JobStatusFailed || strings.HasPrefix(string(s), failedPrefix)
}

// StageOf returns the stage a processing_<stage>, synthesizing or
// failed_<stage> status refers to.
func StageOf(s JobStatus) (Stage, bool) {
	if s == JobStatusSynthesizing {
		return StageSynthesis, true
	}
	for _, prefix := range []string{processingPrefix, failedPrefix} {
		if rest, ok := strings.CutPrefix(string(s), prefix); ok {
			st := Stage(rest)
			if !st.Valid() {
				return "", false
			}
			if prefix == processingPrefix && st == StageSynthesis {
				return "", false
			}
			return st, true
		}
	}
	return "", false
}

// Valid reports whether s belongs to the closed set of statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusCreated, JobStatusInProgress, JobStatusSynthesizing,
		JobStatusCompleted, JobStatusFailed:
		return true
	}
	_, ok := StageOf(s)
	return ok
}

// ParseJobStatus converts a stored string to a JobStatus.
func ParseJobStatus(v string) (JobStatus, error) {
	s := JobStatus(v)
	if !s.Valid() {
		return "", NewValidationError("status", fmt.Sprintf("unknown status %q", v))
	}
	return s, nil
}

// TransitionTable is the set of legal status transitions for one stage
// ordering. It never contains a backward edge.
type TransitionTable struct {
	order []Stage
	next  map[JobStatus]map[JobStatus]struct{}
}

// DefaultTransitions is the table for the declared pipeline order.
var DefaultTransitions = MustTransitionTable(AnalysisStages)

// NewTransitionTable builds the table for a linear execution order of the
// analysis stages. order must list every analysis stage exactly once.
func NewTransitionTable(order []Stage) (*TransitionTable, error) {
	seen := make(map[Stage]bool, len(order))
	for _, s := range order {
		if !s.IsAnalysis() {
			return nil, NewValidationError("order", fmt.Sprintf("%q is not an analysis stage", s))
		}
		if seen[s] {
			return nil, NewValidationError("order", fmt.Sprintf("stage %q listed twice", s))
		}
		seen[s] = true
	}
	if len(order) != len(AnalysisStages) {
		return nil, NewValidationError("order", fmt.Sprintf("expected %d analysis stages, got %d", len(AnalysisStages), len(order)))
	}

	t := &TransitionTable{
		order: append([]Stage(nil), order...),
		next:  make(map[JobStatus]map[JobStatus]struct{}),
	}
	add := func(from JobStatus, to ...JobStatus) {
		if t.next[from] == nil {
			t.next[from] = make(map[JobStatus]struct{})
		}
		for _, s := range to {
			t.next[from][s] = struct{}{}
		}
	}

	add(JobStatusCreated, JobStatusInProgress, JobStatusFailed)
	prev := JobStatusInProgress
	for _, s := range append(append([]Stage(nil), order...), StageSynthesis) {
		cur := ProcessingStatus(s)
		add(prev, cur)
		add(cur, FailedStatus(s), JobStatusFailed)
		add(FailedStatus(s), JobStatusFailed)
		prev = cur
	}
	add(JobStatusInProgress, JobStatusFailed)
	add(JobStatusSynthesizing, JobStatusCompleted)

	return t, nil
}

// MustTransitionTable is NewTransitionTable that panics on error.
func MustTransitionTable(order []Stage) *TransitionTable {
	t, err := NewTransitionTable(order)
	if err != nil {
		panic(err)
	}
	return t
}

// Order returns the analysis stage order the table was built from.
func (t *TransitionTable) Order() []Stage {
	return append([]Stage(nil), t.order...)
}

// CanTransition reports whether from -> to is in the table.
func (t *TransitionTable) CanTransition(from, to JobStatus) bool {
	_, ok := t.next[from][to]
	return ok
}

// Validate returns nil for a legal transition, a JobAlreadyTerminalError when
// from is terminal, and ErrInvalidTransition otherwise.
func (t *TransitionTable) Validate(from, to JobStatus) error {
	if from.IsTerminal() {
		return NewJobAlreadyTerminalError(from)
	}
	if !t.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ExpectedPredecessor returns the status a job must hold immediately before
// stage s starts.
func (t *TransitionTable) ExpectedPredecessor(s Stage) (JobStatus, error) {
	if s == StageSynthesis {
		return ProcessingStatus(t.order[len(t.order)-1]), nil
	}
	for i, st := range t.order {
		if st != s {
			continue
		}
		if i == 0 {
			return JobStatusInProgress, nil
		}
		return ProcessingStatus(t.order[i-1]), nil
	}
	return "", NewValidationError("stage", fmt.Sprintf("unknown stage %q", s))
}
