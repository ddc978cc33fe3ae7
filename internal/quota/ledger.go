package quota

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cv-processing-backend/internal/shared/metrics"
	"cv-processing-backend/internal/shared/telemetry"
)

// Ledger enforces the per-user daily processing limit.
type Ledger struct {
	store   Store
	limit   int
	loc     *time.Location
	now     func() time.Time
	counter SubmissionCounter
	metrics *metrics.Registry
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLimit sets the daily limit. Non-positive values keep the default.
func WithLimit(limit int) Option {
	return func(l *Ledger) {
		if limit > 0 {
			l.limit = limit
		}
	}
}

// WithLocation sets the timezone that defines "today" and midnight.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSubmissionCounter makes Usage report the live count of today's submissions.
func WithSubmissionCounter(c SubmissionCounter) Option {
	return func(l *Ledger) {
		l.counter = c
	}
}

// WithMetrics records admission and rollback counters.
func WithMetrics(m *metrics.Registry) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// NewLedger constructs a Ledger over store.
func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		limit: DefaultDailyLimit,
		loc:   time.UTC,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limit returns the configured daily limit.
func (l *Ledger) Limit() int {
	return l.limit
}

// Admit atomically consumes one unit of the user's daily quota.
func (l *Ledger) Admit(ctx context.Context, userID string) (Decision, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Decision{}, ErrUserRequired
	}
	now := l.now().In(l.loc)
	resetsAt := nextMidnight(now)

	rec, ok, err := l.store.Admit(ctx, userID, now.Format(dateLayout), l.limit)
	if err != nil {
		return Decision{}, fmt.Errorf("quota admit: %w", err)
	}
	l.metrics.ObserveQuotaDecision(ok)
	if !ok {
		telemetry.Info("quota.exceeded", map[string]any{
			"user_id":     userID,
			"daily_count": rec.DailyCount,
			"daily_limit": l.limit,
		})
		return Decision{
			Allowed:   false,
			Remaining: 0,
			ResetsAt:  resetsAt,
			Message:   ExceededMessage(l.limit),
		}, nil
	}
	return Decision{
		Allowed:   true,
		Remaining: max(l.limit-rec.DailyCount, 0),
		ResetsAt:  resetsAt,
	}, nil
}

// Rollback returns one unit of quota. It is safe to call without a matching Admit.
func (l *Ledger) Rollback(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrUserRequired
	}
	rec, floored, err := l.store.Rollback(ctx, userID)
	if err != nil {
		return fmt.Errorf("quota rollback: %w", err)
	}
	l.metrics.IncQuotaRollback()
	if floored {
		telemetry.Warn("quota.rollback_floor", map[string]any{
			"user_id":         userID,
			"daily_count":     rec.DailyCount,
			"total_processed": rec.TotalProcessed,
		})
	}
	return nil
}

// Usage reports the user's quota without mutating it. Unknown users get zero usage.
func (l *Ledger) Usage(ctx context.Context, userID string) (Usage, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Usage{}, ErrUserRequired
	}
	now := l.now().In(l.loc)
	today := now.Format(dateLayout)

	rec, found, err := l.store.Get(ctx, userID)
	if err != nil {
		return Usage{}, fmt.Errorf("quota usage: %w", err)
	}

	daily := 0
	if l.counter != nil {
		daily, err = l.counter.CountActiveSince(ctx, userID, startOfDay(now))
		if err != nil {
			return Usage{}, fmt.Errorf("quota usage count: %w", err)
		}
	} else if found && rec.ResetDate == today {
		daily = rec.DailyCount
	}

	return Usage{
		DailyCount:     daily,
		DailyLimit:     l.limit,
		DailyRemaining: max(l.limit-daily, 0),
		TotalProcessed: rec.TotalProcessed,
		ResetsAt:       nextMidnight(now),
	}, nil
}

// ExceededMessage is the user-facing text for an exhausted quota.
func ExceededMessage(limit int) string {
	return fmt.Sprintf("Daily processing limit of %d reached. Your quota resets at midnight.", limit)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func nextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}
