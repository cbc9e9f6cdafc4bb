package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/research-pipeline-service/internal/domain"
)

// txBeginner is implemented by pools (and *database.DB). Update uses it to
// wrap SELECT FOR UPDATE + UPDATE in a transaction when not already in one.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgreSQL error codes used for constraint violation detection.
const (
	pgUniqueViolation = "23505" // unique_violation
)

const jobColumns = `id, session_id, job_type, instructions, status,
			result, error_message, execution_reference,
			created_at, updated_at, started_at, completed_at`

// Compile-time interface verification.
var _ JobRepository = (*PgJobRepository)(nil)

// PgJobRepository is a PostgreSQL implementation of JobRepository.
type PgJobRepository struct {
	db          DBTX
	transitions *domain.TransitionTable
	now         func() time.Time
}

// NewPgJobRepository creates a new PostgreSQL job repository. A nil
// transition table selects domain.DefaultTransitions.
func NewPgJobRepository(db DBTX, transitions *domain.TransitionTable) *PgJobRepository {
	if transitions == nil {
		transitions = domain.DefaultTransitions
	}
	return &PgJobRepository{
		db:          db,
		transitions: transitions,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a new job.
func (r *PgJobRepository) Create(ctx context.Context, job *domain.Job) error {
	if err := validateNewJob(job); err != nil {
		return err
	}

	query := `
		INSERT INTO research_jobs (
			id, session_id, job_type, instructions, status,
			execution_reference, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		job.ID, job.SessionID, string(job.Type), job.Instructions, string(job.Status),
		nullString(job.ExecutionReference), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("job", job.ID.String())
		}
		return domain.NewStoreError("create job", err)
	}

	return nil
}

// Get retrieves a job and its recorded findings.
func (r *PgJobRepository) Get(ctx context.Context, sessionID string, id uuid.UUID) (*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM research_jobs
		WHERE id = $1 AND session_id = $2`

	job, err := scanJob(r.db.QueryRow(ctx, query, id, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("job", id.String())
		}
		return nil, domain.NewStoreError("get job", err)
	}

	findings, err := r.loadFindings(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Findings = findings

	return job, nil
}

// Update applies upd under a row lock.
func (r *PgJobRepository) Update(ctx context.Context, sessionID string, id uuid.UUID, upd domain.JobUpdate) (*domain.Job, error) {
	if beginner, ok := r.db.(txBeginner); ok {
		tx, err := beginner.Begin(ctx)
		if err != nil {
			return nil, domain.NewStoreError("begin update", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		txRepo := &PgJobRepository{db: tx, transitions: r.transitions, now: r.now}
		job, err := txRepo.updateInTx(ctx, sessionID, id, upd)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, domain.NewStoreError("commit update", err)
		}
		return job, nil
	}

	return r.updateInTx(ctx, sessionID, id, upd)
}

func (r *PgJobRepository) updateInTx(ctx context.Context, sessionID string, id uuid.UUID, upd domain.JobUpdate) (*domain.Job, error) {
	selectQuery := `
		SELECT ` + jobColumns + `
		FROM research_jobs
		WHERE id = $1 AND session_id = $2
		FOR UPDATE`

	rows, err := r.db.Query(ctx, selectQuery, id, sessionID)
	if err != nil {
		return nil, domain.NewStoreError("lock job", err)
	}
	job, err := scanJobRows(rows)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("job", id.String())
		}
		return nil, domain.NewStoreError("scan job", err)
	}

	findings, err := r.loadFindings(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Findings = findings

	if err := applyUpdate(job, upd, r.transitions, r.now()); err != nil {
		return nil, err
	}

	if f := upd.StageFindings; f != nil {
		raw, err := domain.EncodeFindings(f)
		if err != nil {
			return nil, fmt.Errorf("encode %s findings: %w", f.Stage(), err)
		}
		_, err = r.db.Exec(ctx, `
			INSERT INTO job_findings (job_id, stage, findings, parse_error, recorded_at)
			VALUES ($1, $2, $3, $4, $5)`,
			id, string(f.Stage()), raw, f.ParseFailed(), job.UpdatedAt,
		)
		if err != nil {
			if isPgUniqueViolation(err) {
				return nil, domain.NewAlreadyExistsError("findings", string(f.Stage()))
			}
			return nil, domain.NewStoreError("insert findings", err)
		}
	}

	var resultJSON []byte
	if job.Result != nil {
		resultJSON, err = json.Marshal(job.Result)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
	}

	updateQuery := `
		UPDATE research_jobs SET
			status = $1,
			result = $2,
			error_message = $3,
			execution_reference = $4,
			updated_at = $5,
			started_at = $6,
			completed_at = $7
		WHERE id = $8 AND session_id = $9`

	_, err = r.db.Exec(ctx, updateQuery,
		string(job.Status),
		resultJSON,
		nullString(job.ErrorMessage),
		nullString(job.ExecutionReference),
		job.UpdatedAt,
		job.StartedAt,
		job.CompletedAt,
		id, sessionID,
	)
	if err != nil {
		return nil, domain.NewStoreError("update job", err)
	}

	return job, nil
}

// ListBySession returns one page of a session's jobs. Findings are not
// loaded; use Get for the full record.
func (r *PgJobRepository) ListBySession(ctx context.Context, filter JobFilter) ([]*domain.Job, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	conditions := []string{"session_id = $1"}
	args := []interface{}{filter.SessionID}
	argIndex := 2

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			placeholders[i] = fmt.Sprintf("$%d", argIndex)
			args = append(args, string(s))
			argIndex++
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}

	whereClause := strings.Join(conditions, " AND ")

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM research_jobs WHERE %s", whereClause)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, domain.NewStoreError("count jobs", err)
	}

	selectQuery := fmt.Sprintf(`
		SELECT %s
		FROM research_jobs
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		jobColumns, whereClause, argIndex, argIndex+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, domain.NewStoreError("list jobs", err)
	}
	defer rows.Close()

	jobs := make([]*domain.Job, 0, filter.Limit)
	for rows.Next() {
		job, err := scanJobFromRows(rows)
		if err != nil {
			return nil, 0, domain.NewStoreError("scan job", err)
		}
		job.Findings = domain.FindingsSet{}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, domain.NewStoreError("iterate jobs", err)
	}

	return jobs, total, nil
}

func (r *PgJobRepository) loadFindings(ctx context.Context, id uuid.UUID) (domain.FindingsSet, error) {
	rows, err := r.db.Query(ctx, `
		SELECT stage, findings
		FROM job_findings
		WHERE job_id = $1
		ORDER BY recorded_at`, id)
	if err != nil {
		return nil, domain.NewStoreError("load findings", err)
	}
	defer rows.Close()

	out := domain.FindingsSet{}
	for rows.Next() {
		var (
			stage string
			raw   []byte
		)
		if err := rows.Scan(&stage, &raw); err != nil {
			return nil, domain.NewStoreError("scan findings", err)
		}
		s, err := domain.ParseStage(stage)
		if err != nil {
			return nil, err
		}
		f, err := domain.DecodeFindings(s, raw)
		if err != nil {
			return nil, err
		}
		out[s] = f
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStoreError("iterate findings", err)
	}
	return out, nil
}

// isPgUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

// jobScanDest holds the destination pointers for scanning a research_jobs row.
type jobScanDest struct {
	job                domain.Job
	jobType            string
	status             string
	resultJSON         []byte
	errorMessage       *string
	executionReference *string
}

func (d *jobScanDest) destinations() []interface{} {
	return []interface{}{
		&d.job.ID, &d.job.SessionID, &d.jobType, &d.job.Instructions, &d.status,
		&d.resultJSON, &d.errorMessage, &d.executionReference,
		&d.job.CreatedAt, &d.job.UpdatedAt, &d.job.StartedAt, &d.job.CompletedAt,
	}
}

func (d *jobScanDest) finalize() (*domain.Job, error) {
	status, err := domain.ParseJobStatus(d.status)
	if err != nil {
		return nil, err
	}
	d.job.Status = status
	d.job.Type = domain.JobType(d.jobType)
	if d.errorMessage != nil {
		d.job.ErrorMessage = *d.errorMessage
	}
	if d.executionReference != nil {
		d.job.ExecutionReference = *d.executionReference
	}
	if len(d.resultJSON) > 0 {
		var report domain.Report
		if err := json.Unmarshal(d.resultJSON, &report); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
		d.job.Result = &report
	}
	return &d.job, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var dest jobScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

// scanJobRows scans the single row of a SELECT FOR UPDATE result.
func scanJobRows(rows pgx.Rows) (*domain.Job, error) {
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}
	return scanJobFromRows(rows)
}

func scanJobFromRows(rows pgx.Rows) (*domain.Job, error) {
	var dest jobScanDest
	if err := rows.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

// nullString returns a pointer to the string if non-empty, otherwise nil.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
