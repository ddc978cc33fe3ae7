package quota

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for dev and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Admit(_ context.Context, userID, today string, limit int) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		rec = Record{UserID: userID, ResetDate: today}
	}
	if rec.ResetDate < today {
		rec.DailyCount = 0
		rec.ResetDate = today
	}
	if rec.DailyCount >= limit {
		return rec, false, nil
	}
	rec.DailyCount++
	rec.TotalProcessed++
	s.records[userID] = rec
	return rec, true, nil
}

func (s *MemoryStore) Rollback(_ context.Context, userID string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return Record{UserID: userID}, true, nil
	}
	floored := false
	if rec.DailyCount > 0 {
		rec.DailyCount--
	} else {
		floored = true
	}
	if rec.TotalProcessed > 0 {
		rec.TotalProcessed--
	} else {
		floored = true
	}
	s.records[userID] = rec
	return rec, floored, nil
}

func (s *MemoryStore) Get(_ context.Context, userID string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	return rec, ok, nil
}

// Put seeds a record.
func (s *MemoryStore) Put(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.UserID] = rec
}
