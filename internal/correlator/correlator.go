package correlator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cv-processing-backend/internal/jobs"
	"cv-processing-backend/internal/shared/metrics"
	"cv-processing-backend/internal/shared/telemetry"
)

// Outcome reports what Apply did with a delivery.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeNotFound  Outcome = "not_found"
)

// ErrInvalidStatus is returned for a delivery whose status is not terminal.
var ErrInvalidStatus = errors.New("delivery status must be COMPLETED or FAILED")

// Delivery is a result reported by the processor for a deferred job.
type Delivery struct {
	JobID         string
	Status        jobs.Status
	Result        jobs.Result
	FailureReason string
}

// Correlator matches deferred results to their jobs.
type Correlator struct {
	machine *jobs.Machine
	repo    jobs.Repo
	locks   *keyedMutex
	metrics *metrics.Registry
}

// New constructs a Correlator.
func New(machine *jobs.Machine, m *metrics.Registry) *Correlator {
	return &Correlator{
		machine: machine,
		repo:    machine.Repo(),
		locks:   newKeyedMutex(),
		metrics: m,
	}
}

// Apply resolves or fails the job named by d. Unknown jobs are reported as
// OutcomeNotFound and terminal jobs as OutcomeDuplicate. A redelivery for a
// FAILED job whose quota was never returned retries that rollback. An error
// wrapping jobs.ErrRollbackFailed means the sender should deliver again.
func (c *Correlator) Apply(ctx context.Context, d Delivery) (Outcome, jobs.Job, error) {
	id := strings.TrimSpace(d.JobID)
	if d.Status != jobs.StatusCompleted && d.Status != jobs.StatusFailed {
		return "", jobs.Job{}, fmt.Errorf("%w: got %q", ErrInvalidStatus, d.Status)
	}

	unlock := c.locks.Lock(id)
	defer unlock()

	current, err := c.repo.GetByID(ctx, id)
	if errors.Is(err, jobs.ErrNotFound) {
		c.observe(ctx, id, d.Status, OutcomeNotFound)
		return OutcomeNotFound, jobs.Job{}, nil
	}
	if err != nil {
		return "", jobs.Job{}, fmt.Errorf("load job: %w", err)
	}

	// The status change and the rollback must not be cut short by the sender
	// hanging up.
	work := context.WithoutCancel(ctx)
	if current.Status.Terminal() {
		if current.Status == jobs.StatusFailed && !current.RolledBack {
			job, err := c.machine.Fail(work, id, current.FailureReason)
			if err != nil && !errors.Is(err, jobs.ErrAlreadyTerminal) {
				return "", job, err
			}
			current = job
		}
		c.observe(ctx, id, d.Status, OutcomeDuplicate)
		return OutcomeDuplicate, current, nil
	}

	var job jobs.Job
	if d.Status == jobs.StatusCompleted {
		job, err = c.machine.Resolve(work, id, d.Result)
	} else {
		job, err = c.machine.Fail(work, id, d.FailureReason)
	}
	switch {
	case err == nil:
		c.observe(ctx, id, d.Status, OutcomeApplied)
		return OutcomeApplied, job, nil
	case errors.Is(err, jobs.ErrAlreadyTerminal):
		// Another process won the compare-and-set.
		c.observe(ctx, id, d.Status, OutcomeDuplicate)
		return OutcomeDuplicate, job, nil
	case errors.Is(err, jobs.ErrNotFound):
		c.observe(ctx, id, d.Status, OutcomeNotFound)
		return OutcomeNotFound, jobs.Job{}, nil
	default:
		return "", job, err
	}
}

func (c *Correlator) observe(ctx context.Context, id string, status jobs.Status, outcome Outcome) {
	c.metrics.ObserveWebhook(string(outcome))
	telemetry.Info("webhook.result", map[string]any{
		"job_id":     id,
		"status":     string(status),
		"outcome":    string(outcome),
		"request_id": telemetry.RequestIDFromContext(ctx),
	})
}
