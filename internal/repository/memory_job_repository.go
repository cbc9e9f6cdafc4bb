package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/research-pipeline-service/internal/domain"
)

// Compile-time interface verification.
var _ JobRepository = (*MemoryJobRepository)(nil)

// MemoryJobRepository is an in-process JobRepository. Jobs are copied on the
// way in and out so callers never share state with the store.
type MemoryJobRepository struct {
	mu          sync.Mutex
	jobs        map[uuid.UUID]*domain.Job
	transitions *domain.TransitionTable
	now         func() time.Time
}

// NewMemoryJobRepository creates an empty store. A nil transition table
// selects domain.DefaultTransitions.
func NewMemoryJobRepository(transitions *domain.TransitionTable) *MemoryJobRepository {
	if transitions == nil {
		transitions = domain.DefaultTransitions
	}
	return &MemoryJobRepository{
		jobs:        make(map[uuid.UUID]*domain.Job),
		transitions: transitions,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a new job.
func (r *MemoryJobRepository) Create(ctx context.Context, job *domain.Job) error {
	if err := validateNewJob(job); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return domain.NewStoreError("create job", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; ok {
		return domain.NewAlreadyExistsError("job", job.ID.String())
	}
	stored := copyJob(job)
	stored.Findings = domain.FindingsSet{}
	r.jobs[job.ID] = stored
	return nil
}

// Get retrieves a job.
func (r *MemoryJobRepository) Get(ctx context.Context, sessionID string, id uuid.UUID) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewStoreError("get job", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok || job.SessionID != sessionID {
		return nil, domain.NewNotFoundError("job", id.String())
	}
	return copyJob(job), nil
}

// Update applies upd atomically. The stored job is replaced only when every
// rule passes.
func (r *MemoryJobRepository) Update(ctx context.Context, sessionID string, id uuid.UUID, upd domain.JobUpdate) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewStoreError("update job", err)
	}
	if upd.StageFindings != nil {
		clone, err := domain.CloneFindings(upd.StageFindings)
		if err != nil {
			return nil, err
		}
		upd.StageFindings = clone
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.jobs[id]
	if !ok || stored.SessionID != sessionID {
		return nil, domain.NewNotFoundError("job", id.String())
	}

	next := copyJob(stored)
	if err := applyUpdate(next, upd, r.transitions, r.now()); err != nil {
		return nil, err
	}
	r.jobs[id] = next
	return copyJob(next), nil
}

// ListBySession returns one page of a session's jobs, newest first.
func (r *MemoryJobRepository) ListBySession(ctx context.Context, filter JobFilter) ([]*domain.Job, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, domain.NewStoreError("list jobs", err)
	}

	want := make(map[domain.JobStatus]bool, len(filter.Status))
	for _, s := range filter.Status {
		want[s] = true
	}

	r.mu.Lock()
	var matched []*domain.Job
	for _, job := range r.jobs {
		if job.SessionID != filter.SessionID {
			continue
		}
		if len(want) > 0 && !want[job.Status] {
			continue
		}
		matched = append(matched, copyJob(job))
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if filter.Offset >= len(matched) {
		return []*domain.Job{}, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[filter.Offset:end], total, nil
}

// copyJob copies the job record. Findings values are shared: once recorded
// they are never modified.
func copyJob(j *domain.Job) *domain.Job {
	c := *j
	c.Findings = make(domain.FindingsSet, len(j.Findings))
	for s, f := range j.Findings {
		c.Findings[s] = f
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
