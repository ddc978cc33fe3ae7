package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cv-processing-backend/internal/queue"
	"cv-processing-backend/internal/shared/metrics"
	"cv-processing-backend/internal/shared/telemetry"
)

// QueueDispatcher submits CVs by enqueueing a message for a processor worker.
// Workers read the blob by storage key and report through the webhook.
type QueueDispatcher struct {
	client      queue.Client
	callbackURL string
	metrics     *metrics.Registry
	now         func() time.Time
}

// NewQueueDispatcher constructs a deferred Processor over client.
func NewQueueDispatcher(client queue.Client, callbackURL string, m *metrics.Registry) *QueueDispatcher {
	return &QueueDispatcher{
		client:      client,
		callbackURL: callbackURL,
		metrics:     m,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (d *QueueDispatcher) Delivery() Delivery {
	return DeliveryDeferred
}

func (d *QueueDispatcher) Submit(ctx context.Context, sub Submission) (Result, error) {
	if d.client == nil {
		return Result{}, &ConfigurationError{Msg: "processor queue not configured"}
	}
	start := time.Now()
	callback := sub.CallbackURL
	if callback == "" {
		callback = d.callbackURL
	}
	msg := queue.Message{
		DocumentID:  sub.JobID,
		Mode:        sub.Mode,
		FileName:    sub.FileName,
		ContentType: sub.ContentType,
		StorageKey:  sub.StorageKey,
		CallbackURL: callback,
		RequestID:   telemetry.RequestIDFromContext(ctx),
		EnqueuedAt:  d.now().Format(time.RFC3339),
		Version:     queue.MessageVersion,
	}
	if includesJobDescription(sub.Mode) {
		msg.JobDescription = sub.JobDescription
	}

	err := d.client.Send(ctx, msg)
	switch {
	case err == nil:
	case errors.Is(err, queue.ErrInvalidMessage):
		err = fmt.Errorf("build queue message: %w", err)
	default:
		err = &TransportError{Err: err, timeout: isTimeout(ctx, err)}
	}
	d.metrics.ObserveProcessorCall(string(DeliveryDeferred), outcomeLabel(err), time.Since(start))
	if err != nil {
		telemetry.Error("processor.enqueue_failed", map[string]any{
			"job_id":     sub.JobID,
			"error":      err,
			"request_id": msg.RequestID,
		})
		return Result{}, err
	}
	return Result{}, nil
}

var _ Processor = (*QueueDispatcher)(nil)
