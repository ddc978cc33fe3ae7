package quota

import (
	"context"
	"time"
)

// DefaultDailyLimit is the per-user daily admission limit when none is configured.
const DefaultDailyLimit = 20

const dateLayout = "2006-01-02"

// Record is the persisted counter state for one user.
type Record struct {
	UserID         string
	DailyCount     int
	ResetDate      string // YYYY-MM-DD in the ledger's timezone
	TotalProcessed int
}

// Decision is the outcome of an admission attempt.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetsAt  time.Time
	Message   string
}

// Usage is a read-only snapshot of a user's quota.
type Usage struct {
	DailyCount     int       `json:"dailyCount"`
	DailyLimit     int       `json:"dailyLimit"`
	DailyRemaining int       `json:"dailyRemaining"`
	TotalProcessed int       `json:"totalProcessed"`
	ResetsAt       time.Time `json:"resetsAt"`
}

// Store persists quota records. Admit and Rollback must each be atomic per user.
type Store interface {
	// Admit resets the record when its reset date is before today, then
	// increments both counters unless the daily count already reached limit.
	Admit(ctx context.Context, userID, today string, limit int) (Record, bool, error)
	// Rollback decrements both counters, flooring each at zero. floored reports
	// whether either counter was already zero or the record did not exist.
	Rollback(ctx context.Context, userID string) (rec Record, floored bool, err error)
	// Get returns the stored record without mutating it.
	Get(ctx context.Context, userID string) (Record, bool, error)
}

// SubmissionCounter counts submissions that still hold quota.
type SubmissionCounter interface {
	CountActiveSince(ctx context.Context, userID string, since time.Time) (int, error)
}
