package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cv-processing-backend/internal/shared/metrics"
	"cv-processing-backend/internal/shared/telemetry"
)

// Rollbacker returns one unit of quota to a user.
type Rollbacker interface {
	Rollback(ctx context.Context, userID string) error
}

// Machine owns every job status change. Fail returns the job's quota exactly once;
// a rollback that failed stays pending until Fail is called again.
type Machine struct {
	repo    Repo
	ledger  Rollbacker
	metrics *metrics.Registry
	now     func() time.Time
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithMachineMetrics records transition counters.
func WithMachineMetrics(m *metrics.Registry) MachineOption {
	return func(mc *Machine) {
		mc.metrics = m
	}
}

// WithMachineClock overrides the transition timestamp source.
func WithMachineClock(now func() time.Time) MachineOption {
	return func(mc *Machine) {
		if now != nil {
			mc.now = now
		}
	}
}

// NewMachine constructs a Machine.
func NewMachine(repo Repo, ledger Rollbacker, opts ...MachineOption) *Machine {
	m := &Machine{
		repo:   repo,
		ledger: ledger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Repo exposes the underlying job repo for read paths.
func (m *Machine) Repo() Repo {
	return m.repo
}

// Submit records a new job in PENDING.
func (m *Machine) Submit(ctx context.Context, job Job) (Job, error) {
	if strings.TrimSpace(job.ID) == "" || strings.TrimSpace(job.UserID) == "" {
		return Job{}, fmt.Errorf("job id and user id are required")
	}
	if _, ok := ParseMode(string(job.Mode)); !ok {
		return Job{}, fmt.Errorf("unknown job mode %q", job.Mode)
	}
	job.Status = StatusPending
	job.Result = nil
	job.FailureReason = ""
	job.RolledBack = false
	job.DispatchedAt = nil
	job.ResolvedAt = nil
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = m.now()
	}
	if err := m.repo.Create(ctx, job); err != nil {
		return Job{}, fmt.Errorf("create job: %w", err)
	}
	m.metrics.IncJobSubmitted(string(job.Mode))
	m.logTransition(ctx, job, "", StatusPending)
	return job, nil
}

// Dispatch hands a PENDING job to the deferred processor.
func (m *Machine) Dispatch(ctx context.Context, id string) (Job, error) {
	job, err := m.repo.Transition(ctx, id, []Status{StatusPending}, Update{
		Status: StatusProcessing,
		At:     m.now(),
	})
	if err != nil {
		return m.rejected(ctx, id, job, StatusProcessing, err, false)
	}
	m.logTransition(ctx, job, StatusPending, StatusProcessing)
	return job, nil
}

// Resolve completes a job with the processor result.
func (m *Machine) Resolve(ctx context.Context, id string, result Result) (Job, error) {
	res := result
	job, err := m.repo.Transition(ctx, id, []Status{StatusPending, StatusProcessing}, Update{
		Status: StatusCompleted,
		Result: &res,
		At:     m.now(),
	})
	if err != nil {
		return m.rejected(ctx, id, job, StatusCompleted, err, true)
	}
	m.logTransition(ctx, job, previousStatus(job), StatusCompleted)
	return job, nil
}

// Fail moves a job to FAILED and returns its quota. A job that is already
// FAILED but whose rollback never ran gets its rollback now. When the rollback
// cannot be applied the job stays FAILED and ErrRollbackFailed is returned.
func (m *Machine) Fail(ctx context.Context, id, reason string) (Job, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "processing failed"
	}
	job, err := m.repo.Transition(ctx, id, []Status{StatusPending, StatusProcessing}, Update{
		Status:        StatusFailed,
		FailureReason: reason,
		At:            m.now(),
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) && job.Status == StatusFailed && !job.RolledBack {
			if rbErr := m.returnQuota(ctx, job); rbErr != nil {
				return job, rbErr
			}
			job.RolledBack = true
		}
		return m.rejected(ctx, id, job, StatusFailed, err, true)
	}
	m.logTransition(ctx, job, previousStatus(job), StatusFailed)
	if err := m.returnQuota(ctx, job); err != nil {
		return job, err
	}
	job.RolledBack = true
	return job, nil
}

func (m *Machine) rejected(ctx context.Context, id string, current Job, to Status, err error, terminalIsDuplicate bool) (Job, error) {
	if !errors.Is(err, ErrInvalidTransition) {
		return Job{}, err
	}
	telemetry.Info("job.invalid_transition", map[string]any{
		"job_id":            id,
		"status_transition": string(current.Status) + "->" + string(to),
		"request_id":        telemetry.RequestIDFromContext(ctx),
	})
	if terminalIsDuplicate && current.Status.Terminal() {
		return current, ErrAlreadyTerminal
	}
	return current, ErrInvalidTransition
}

// returnQuota claims the job's rollback flag and gives the unit back to the
// ledger. A ledger failure releases the claim so a later Fail can retry.
func (m *Machine) returnQuota(ctx context.Context, job Job) error {
	claimed, err := m.repo.MarkRolledBack(ctx, job.ID)
	if err != nil {
		telemetry.Error("job.rollback_claim_failed", map[string]any{
			"job_id":  job.ID,
			"user_id": job.UserID,
			"error":   err,
		})
		return fmt.Errorf("%w: claim: %w", ErrRollbackFailed, err)
	}
	if !claimed || m.ledger == nil {
		return nil
	}
	if err := m.ledger.Rollback(ctx, job.UserID); err != nil {
		fields := map[string]any{
			"job_id":  job.ID,
			"user_id": job.UserID,
			"error":   err,
		}
		if clearErr := m.repo.ClearRolledBack(ctx, job.ID); clearErr != nil {
			fields["clear_error"] = clearErr
		}
		telemetry.Error("quota.rollback_failed", fields)
		return fmt.Errorf("%w: %w", ErrRollbackFailed, err)
	}
	return nil
}

func (m *Machine) logTransition(ctx context.Context, job Job, from, to Status) {
	m.metrics.ObserveTransition(string(from), string(to))
	fields := map[string]any{
		"job_id":            job.ID,
		"user_id":           job.UserID,
		"mode":              string(job.Mode),
		"status_transition": string(from) + "->" + string(to),
		"request_id":        telemetry.RequestIDFromContext(ctx),
	}
	if job.FailureReason != "" {
		fields["failure_reason"] = job.FailureReason
	}
	telemetry.Info("job.status", fields)
}

// previousStatus infers where a just-resolved job came from.
func previousStatus(job Job) Status {
	if job.DispatchedAt != nil {
		return StatusProcessing
	}
	return StatusPending
}
