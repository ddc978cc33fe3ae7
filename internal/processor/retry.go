package processor

import (
	"context"

	"cv-processing-backend/internal/shared/resilience"
)

// Retrying retries transport failures of the wrapped processor and trips a
// circuit breaker when the processor keeps failing.
type Retrying struct {
	next Processor
	exec *resilience.Executor
}

// NewRetrying wraps next with exec.
func NewRetrying(next Processor, exec *resilience.Executor) *Retrying {
	return &Retrying{next: next, exec: exec}
}

func (r *Retrying) Delivery() Delivery {
	return r.next.Delivery()
}

func (r *Retrying) Submit(ctx context.Context, sub Submission) (Result, error) {
	var out Result
	err := r.exec.Execute(ctx, "processor.submit", func(ctx context.Context) error {
		res, err := r.next.Submit(ctx, sub)
		if err != nil {
			return err
		}
		out = res
		return nil
	}, Classify)
	if err != nil {
		if resilience.IsCircuitOpen(err) {
			return Result{}, &TransportError{Err: err}
		}
		return Result{}, err
	}
	return out, nil
}

// Classify retries transport failures only. Rejections and configuration
// problems do not count against the breaker.
func Classify(err error) resilience.Classification {
	switch {
	case IsTransport(err):
		return resilience.Classification{Retryable: true, RecordFailure: true}
	case IsRejection(err), IsConfiguration(err):
		return resilience.Classification{}
	default:
		return resilience.Classification{RecordFailure: true}
	}
}

var _ Processor = (*Retrying)(nil)
