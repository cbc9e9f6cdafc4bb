// Package repository provides the job store for the research pipeline service.
//
// # Overview
//
// JobRepository is the only shared mutable resource of the pipeline. All
// coordination between workers is expressed as compare-and-swap status
// transitions on individual job records: there is no global lock and no
// cross-job transaction.
//
// Two implementations are provided:
//
//   - PgJobRepository: PostgreSQL, row-locked with SELECT ... FOR UPDATE.
//   - MemoryJobRepository: in-process, guarded by a mutex. Used by tests and
//     by single-process development setups.
//
// Both apply updates through the same rules (see applyUpdate), so they agree
// on every error a caller can observe.
//
// ChatRepository keeps the conversation history of chat sessions, with the
// same pair of implementations (PgChatRepository, MemoryChatRepository).
//
// # Error Handling
//
//   - domain.ErrNotFound: the (session_id, job_id) pair does not exist
//   - domain.ErrStaleState: the stored status is not the expected one
//   - domain.ErrJobAlreadyTerminal: the job is COMPLETED or FAILED
//   - domain.ErrAlreadyExists: the stage already has recorded findings
//   - domain.ErrInvalidTransition: the requested status change is not legal
//   - domain.ErrStore: the backing store failed; callers may retry
package repository

import (
	"github.com/helixir/research-pipeline-service/internal/database"
)

// DBTX is the database interface supporting both pool and transaction contexts.
//
//	err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
//	    return repository.NewPgJobRepository(tx, nil).Create(ctx, job)
//	})
type DBTX = database.DBTX

// Filter pagination defaults and limits.
const (
	defaultFilterLimit = 50
	maxFilterLimit     = 500
)

// applyPaginationDefaults clamps limit to [1, maxFilterLimit] and offset to >= 0.
func applyPaginationDefaults(limit, offset *int) {
	if *limit <= 0 {
		*limit = defaultFilterLimit
	}
	if *limit > maxFilterLimit {
		*limit = maxFilterLimit
	}
	if *offset < 0 {
		*offset = 0
	}
}
