package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// BaseSchemaVersion is the migration that creates the job store tables.
// Rolling back past it drops every stored job.
const BaseSchemaVersion = 1

// SchemaTables are the tables owned by the service.
var SchemaTables = []string{"research_jobs", "job_findings", "chat_messages"}

// ErrBaseSchemaRollback is returned when a rollback would drop the job store
// tables without explicit confirmation.
var ErrBaseSchemaRollback = errors.New("rollback would drop the research_jobs and job_findings tables")

// TableStatus describes one service table.
type TableStatus struct {
	Name   string
	Exists bool
	Rows   int64
}

// InspectSchema reports whether each service table exists and how many rows
// it holds.
func InspectSchema(ctx context.Context, q DBTX) ([]TableStatus, error) {
	out := make([]TableStatus, 0, len(SchemaTables))
	for _, name := range SchemaTables {
		st := TableStatus{Name: name}
		if err := q.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, name).Scan(&st.Exists); err != nil {
			return nil, fmt.Errorf("inspect %s: %w", name, err)
		}
		if st.Exists {
			query := "SELECT count(*) FROM " + pgx.Identifier{name}.Sanitize()
			if err := q.QueryRow(ctx, query).Scan(&st.Rows); err != nil {
				return nil, fmt.Errorf("count %s: %w", name, err)
			}
		}
		out = append(out, st)
	}
	return out, nil
}

// CheckRollback guards rollbacks from the current version. steps is the
// number of versions to roll back; zero or less rolls back everything.
// Reaching below BaseSchemaVersion requires dropSchema.
func CheckRollback(current uint, steps int, dropSchema bool) error {
	if current < BaseSchemaVersion || dropSchema {
		return nil
	}
	target := 0
	if steps > 0 {
		target = int(current) - steps
	}
	if target < BaseSchemaVersion {
		return fmt.Errorf("%w (version %d to %d)", ErrBaseSchemaRollback, current, max(target, 0))
	}
	return nil
}
