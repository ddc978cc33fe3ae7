package quota

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cv-processing-backend/internal/shared/telemetry"
)

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type countFunc func(ctx context.Context, userID string, since time.Time) (int, error)

func (f countFunc) CountActiveSince(ctx context.Context, userID string, since time.Time) (int, error) {
	return f(ctx, userID, since)
}

func newTestLedger(t *testing.T, store Store, clock *fixedClock, opts ...Option) *Ledger {
	t.Helper()
	base := []Option{WithClock(clock.Now), WithLimit(20)}
	return NewLedger(store, append(base, opts...)...)
}

func TestAdmitLastUnitThenRejects(t *testing.T) {
	clock := &fixedClock{t: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	store.Put(Record{UserID: "alice", DailyCount: 19, ResetDate: "2026-03-10", TotalProcessed: 57})
	ledger := newTestLedger(t, store, clock)

	d, err := ledger.Admit(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if !d.Allowed || d.Remaining != 0 {
		t.Fatalf("expected allowed with 0 remaining, got %+v", d)
	}
	wantReset := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	if !d.ResetsAt.Equal(wantReset) {
		t.Fatalf("expected resetsAt %s, got %s", wantReset, d.ResetsAt)
	}

	d, err = ledger.Admit(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Admit second: %v", err)
	}
	if d.Allowed || d.Remaining != 0 {
		t.Fatalf("expected rejection, got %+v", d)
	}
	if !strings.Contains(d.Message, "20") || !strings.Contains(d.Message, "midnight") {
		t.Fatalf("unexpected message %q", d.Message)
	}

	rec, _, _ := store.Get(context.Background(), "alice")
	if rec.DailyCount != 20 || rec.TotalProcessed != 58 {
		t.Fatalf("rejection must not mutate, got %+v", rec)
	}
}

func TestAdmitResetsOnNewDay(t *testing.T) {
	clock := &fixedClock{t: time.Date(2026, 3, 11, 0, 0, 1, 0, time.UTC)}
	store := NewMemoryStore()
	store.Put(Record{UserID: "alice", DailyCount: 20, ResetDate: "2026-03-10", TotalProcessed: 20})
	ledger := newTestLedger(t, store, clock)

	d, err := ledger.Admit(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if !d.Allowed || d.Remaining != 19 {
		t.Fatalf("expected fresh day admission, got %+v", d)
	}
	rec, _, _ := store.Get(context.Background(), "alice")
	if rec.ResetDate != "2026-03-11" || rec.DailyCount != 1 || rec.TotalProcessed != 21 {
		t.Fatalf("unexpected record after reset: %+v", rec)
	}
}

func TestAdmitUsesConfiguredTimezone(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)
	// 20:30 UTC on the 10th is already the 11th at UTC+5.
	clock := &fixedClock{t: time.Date(2026, 3, 10, 20, 30, 0, 0, time.UTC)}
	store := NewMemoryStore()
	store.Put(Record{UserID: "alice", DailyCount: 20, ResetDate: "2026-03-10", TotalProcessed: 20})
	ledger := newTestLedger(t, store, clock, WithLocation(loc))

	d, err := ledger.Admit(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("expected admission after local midnight")
	}
	if want := time.Date(2026, 3, 12, 0, 0, 0, 0, loc); !d.ResetsAt.Equal(want) {
		t.Fatalf("expected resetsAt %s, got %s", want, d.ResetsAt)
	}
}

func TestRollbackRestoresQuota(t *testing.T) {
	clock := &fixedClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	ledger := newTestLedger(t, store, clock)
	ctx := context.Background()

	if _, err := ledger.Admit(ctx, "bob"); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if err := ledger.Rollback(ctx, "bob"); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	rec, _, _ := store.Get(ctx, "bob")
	if rec.DailyCount != 0 || rec.TotalProcessed != 0 {
		t.Fatalf("expected counters back to zero, got %+v", rec)
	}
}

func TestRollbackFloorsAtZeroAndWarns(t *testing.T) {
	var buf bytes.Buffer
	telemetry.SetOutput(&buf)
	t.Cleanup(func() { telemetry.SetOutput(nil) })

	clock := &fixedClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	store.Put(Record{UserID: "dave", DailyCount: 0, ResetDate: "2026-03-10", TotalProcessed: 0})
	ledger := newTestLedger(t, store, clock)

	if err := ledger.Rollback(context.Background(), "dave"); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if err := ledger.Rollback(context.Background(), "nobody"); err != nil {
		t.Fatalf("Rollback unknown user: %v", err)
	}
	rec, _, _ := store.Get(context.Background(), "dave")
	if rec.DailyCount != 0 || rec.TotalProcessed != 0 {
		t.Fatalf("counters must not go negative, got %+v", rec)
	}
	if got := strings.Count(buf.String(), "quota.rollback_floor"); got != 2 {
		t.Fatalf("expected 2 floor warnings, got %d: %s", got, buf.String())
	}
}

func TestUsageUnknownUserHasFullQuota(t *testing.T) {
	clock := &fixedClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	ledger := newTestLedger(t, store, clock)

	u, err := ledger.Usage(context.Background(), "carol")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if u.DailyCount != 0 || u.DailyLimit != 20 || u.DailyRemaining != 20 || u.TotalProcessed != 0 {
		t.Fatalf("unexpected usage %+v", u)
	}
	if _, found, _ := store.Get(context.Background(), "carol"); found {
		t.Fatalf("Usage must not create a record")
	}
}

func TestUsageIgnoresStaleStoredCount(t *testing.T) {
	clock := &fixedClock{t: time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	store.Put(Record{UserID: "erin", DailyCount: 12, ResetDate: "2026-03-10", TotalProcessed: 40})
	ledger := newTestLedger(t, store, clock)

	u, err := ledger.Usage(context.Background(), "erin")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if u.DailyCount != 0 || u.DailyRemaining != 20 || u.TotalProcessed != 40 {
		t.Fatalf("unexpected usage %+v", u)
	}
}

func TestUsagePrefersLiveSubmissionCount(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*60*60)
	clock := &fixedClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, loc)}
	store := NewMemoryStore()
	store.Put(Record{UserID: "frank", DailyCount: 3, ResetDate: "2026-03-10", TotalProcessed: 9})

	var gotSince time.Time
	counter := countFunc(func(_ context.Context, userID string, since time.Time) (int, error) {
		gotSince = since
		return 25, nil
	})
	ledger := newTestLedger(t, store, clock, WithLocation(loc), WithSubmissionCounter(counter))

	u, err := ledger.Usage(context.Background(), "frank")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if u.DailyCount != 25 || u.DailyRemaining != 0 {
		t.Fatalf("expected live count with clamped remaining, got %+v", u)
	}
	if want := time.Date(2026, 3, 10, 0, 0, 0, 0, loc); !gotSince.Equal(want) {
		t.Fatalf("expected since local midnight %s, got %s", want, gotSince)
	}
}

func TestAdmitConcurrentNeverExceedsLimit(t *testing.T) {
	clock := &fixedClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	ledger := newTestLedger(t, store, clock)

	var allowed int32
	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := ledger.Admit(context.Background(), "grace")
			if err != nil {
				t.Errorf("Admit: %v", err)
				return
			}
			if d.Allowed {
				atomic.AddInt32(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	if allowed != 20 {
		t.Fatalf("expected exactly 20 admissions, got %d", allowed)
	}
	rec, _, _ := store.Get(context.Background(), "grace")
	if rec.DailyCount != 20 {
		t.Fatalf("expected stored count 20, got %d", rec.DailyCount)
	}
}

func TestEmptyUserIsRejected(t *testing.T) {
	ledger := NewLedger(NewMemoryStore())
	if _, err := ledger.Admit(context.Background(), " "); err != ErrUserRequired {
		t.Fatalf("expected ErrUserRequired, got %v", err)
	}
	if err := ledger.Rollback(context.Background(), ""); err != ErrUserRequired {
		t.Fatalf("expected ErrUserRequired, got %v", err)
	}
}
