package jobs

import (
	"context"
	"time"
)

// Repo defines persistence operations for jobs.
type Repo interface {
	Create(ctx context.Context, job Job) error
	GetByID(ctx context.Context, id string) (Job, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Job, error)
	// Transition applies u only if the job's current status is one of from.
	// It returns ErrInvalidTransition with the current job otherwise.
	Transition(ctx context.Context, id string, from []Status, u Update) (Job, error)
	// MarkRolledBack sets the rolled-back flag and reports whether this call set it.
	MarkRolledBack(ctx context.Context, id string) (bool, error)
	// ClearRolledBack releases a claim whose ledger rollback did not go through.
	ClearRolledBack(ctx context.Context, id string) error
	// CountActiveSince counts the user's jobs submitted at or after since that still hold quota.
	CountActiveSince(ctx context.Context, userID string, since time.Time) (int, error)
	// ListStale returns jobs that need recovery: PROCESSING jobs dispatched
	// before olderThan, PENDING jobs submitted before olderThan, and FAILED jobs
	// resolved before olderThan whose quota was never returned.
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]Job, error)
}
