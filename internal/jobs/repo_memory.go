package jobs

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores jobs in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]Job
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Job)}
}

func (r *MemoryRepo) Create(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[job.ID] = cloneJob(job)
	return nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.byID[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return cloneJob(job), nil
}

func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]Job, 0)
	for _, job := range r.byID {
		if job.UserID == userID {
			out = append(out, cloneJob(job))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	if offset >= len(out) {
		return []Job{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) Transition(ctx context.Context, id string, from []Status, u Update) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byID[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	if !slices.Contains(from, job.Status) {
		return cloneJob(job), ErrInvalidTransition
	}
	applyUpdate(&job, u)
	r.byID[id] = job
	return cloneJob(job), nil
}

func (r *MemoryRepo) MarkRolledBack(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byID[id]
	if !ok {
		return false, ErrNotFound
	}
	if job.RolledBack {
		return false, nil
	}
	job.RolledBack = true
	r.byID[id] = job
	return true, nil
}

func (r *MemoryRepo) ClearRolledBack(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status == StatusFailed {
		job.RolledBack = false
		r.byID[id] = job
	}
	return nil
}

func (r *MemoryRepo) CountActiveSince(ctx context.Context, userID string, since time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, job := range r.byID {
		if job.UserID == userID && !job.RolledBack && !job.SubmittedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]Job, 0)
	for _, job := range r.byID {
		if isStale(job, olderThan) {
			out = append(out, cloneJob(job))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func isStale(job Job, olderThan time.Time) bool {
	switch job.Status {
	case StatusPending:
		return job.SubmittedAt.Before(olderThan)
	case StatusProcessing:
		return job.DispatchedAt != nil && job.DispatchedAt.Before(olderThan)
	case StatusFailed:
		return !job.RolledBack && job.ResolvedAt != nil && job.ResolvedAt.Before(olderThan)
	default:
		return false
	}
}

func applyUpdate(job *Job, u Update) {
	job.Status = u.Status
	at := u.At
	switch u.Status {
	case StatusProcessing:
		job.DispatchedAt = &at
	case StatusCompleted:
		if u.Result != nil {
			res := *u.Result
			job.Result = &res
		}
		job.ResolvedAt = &at
	case StatusFailed:
		job.FailureReason = u.FailureReason
		job.ResolvedAt = &at
	}
}

func cloneJob(job Job) Job {
	if job.Result != nil {
		res := *job.Result
		job.Result = &res
	}
	if job.DispatchedAt != nil {
		t := *job.DispatchedAt
		job.DispatchedAt = &t
	}
	if job.ResolvedAt != nil {
		t := *job.ResolvedAt
		job.ResolvedAt = &t
	}
	return job
}
