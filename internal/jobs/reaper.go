package jobs

import (
	"context"
	"errors"
	"time"

	"cv-processing-backend/internal/shared/metrics"
	"cv-processing-backend/internal/shared/telemetry"
)

const staleReason = "processing timed out"

// Reaper fails jobs whose result never arrived and retries quota rollbacks
// that did not go through.
type Reaper struct {
	machine   *Machine
	timeout   time.Duration
	interval  time.Duration
	batchSize int
	metrics   *metrics.Registry
	now       func() time.Time
}

// NewReaper constructs a Reaper. A non-positive timeout disables Sweep.
func NewReaper(machine *Machine, timeout, interval time.Duration, m *metrics.Registry) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{
		machine:   machine,
		timeout:   timeout,
		interval:  interval,
		batchSize: 100,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Enabled reports whether the reaper has a timeout configured.
func (r *Reaper) Enabled() bool {
	return r != nil && r.timeout > 0
}

// Sweep fails every job stuck in PENDING or PROCESSING for longer than
// timeout and retries pending rollbacks of FAILED jobs. It returns how many
// jobs it recovered.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	if !r.Enabled() {
		return 0, nil
	}
	cutoff := r.now().Add(-r.timeout)
	stale, err := r.machine.Repo().ListStale(ctx, cutoff, r.batchSize)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, job := range stale {
		_, err := r.machine.Fail(ctx, job.ID, staleReason)
		switch {
		case err == nil:
			recovered++
		case errors.Is(err, ErrAlreadyTerminal) && job.Status == StatusFailed:
			// The pending rollback went through this time.
			recovered++
		case errors.Is(err, ErrInvalidTransition):
		default:
			telemetry.Error("job.reap_failed", map[string]any{
				"job_id": job.ID,
				"status": string(job.Status),
				"error":  err,
			})
		}
	}
	if recovered > 0 {
		r.metrics.IncReaped(recovered)
		telemetry.Warn("job.reaped", map[string]any{
			"count":  recovered,
			"cutoff": cutoff.Format(time.RFC3339),
		})
	}
	return recovered, nil
}

// Run sweeps on every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	if !r.Enabled() {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				telemetry.Error("job.reap_sweep_failed", map[string]any{"error": err})
			}
		}
	}
}
