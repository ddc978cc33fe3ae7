package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"cv-processing-backend/internal/queue"
	"cv-processing-backend/internal/shared/resilience"
)

type scriptedProcessor struct {
	errs  []error
	calls int
}

func (p *scriptedProcessor) Delivery() Delivery { return DeliveryInline }

func (p *scriptedProcessor) Submit(context.Context, Submission) (Result, error) {
	p.calls++
	if len(p.errs) >= p.calls {
		if err := p.errs[p.calls-1]; err != nil {
			return Result{}, err
		}
	}
	return Result{Feedback: "ok"}, nil
}

func testPolicy(attempts int, breaker bool) resilience.Policy {
	p := resilience.DefaultPolicy()
	p.MaxAttempts = attempts
	p.InitialBackoff = time.Millisecond
	p.MaxBackoff = time.Millisecond
	p.BreakerEnabled = breaker
	p.BreakerMinRequests = 2
	p.BreakerFailureRatio = 1
	return p
}

func TestRetryingRetriesTransportErrors(t *testing.T) {
	next := &scriptedProcessor{errs: []error{
		&TransportError{StatusCode: 503, Err: errors.New("unavailable")},
		&TransportError{StatusCode: 503, Err: errors.New("unavailable")},
	}}
	r := NewRetrying(next, resilience.NewExecutor(testPolicy(3, false)))

	res, err := r.Submit(context.Background(), sampleSubmission("FEEDBACK"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if next.calls != 3 || res.Feedback != "ok" {
		t.Fatalf("expected success on third call, calls=%d res=%+v", next.calls, res)
	}
}

func TestRetryingDoesNotRetryRejection(t *testing.T) {
	next := &scriptedProcessor{errs: []error{&RemoteRejection{StatusCode: 400, Message: "bad CV"}}}
	r := NewRetrying(next, resilience.NewExecutor(testPolicy(3, false)))

	_, err := r.Submit(context.Background(), sampleSubmission("FEEDBACK"))
	if !IsRejection(err) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if next.calls != 1 {
		t.Fatalf("expected 1 call, got %d", next.calls)
	}
}

func TestRetryingDefaultPolicyMakesOneAttempt(t *testing.T) {
	next := &scriptedProcessor{errs: []error{&TransportError{Err: errors.New("reset")}}}
	r := NewRetrying(next, resilience.NewExecutor(resilience.DefaultPolicy()))

	if _, err := r.Submit(context.Background(), sampleSubmission("FEEDBACK")); !IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if next.calls != 1 {
		t.Fatalf("expected no retries by default, got %d calls", next.calls)
	}
}

func TestRetryingOpenCircuitSurfacesAsTransport(t *testing.T) {
	fail := &TransportError{StatusCode: 502, Err: errors.New("bad gateway")}
	next := &scriptedProcessor{errs: []error{fail, fail, fail, fail}}
	r := NewRetrying(next, resilience.NewExecutor(testPolicy(1, true)))

	for i := 0; i < 2; i++ {
		_, _ = r.Submit(context.Background(), sampleSubmission("FEEDBACK"))
	}
	calls := next.calls
	_, err := r.Submit(context.Background(), sampleSubmission("FEEDBACK"))
	if !IsTransport(err) || !resilience.IsCircuitOpen(err) {
		t.Fatalf("expected circuit-open transport error, got %v", err)
	}
	if next.calls != calls {
		t.Fatalf("open circuit must not call the processor")
	}
}

type recordingQueue struct {
	msgs []queue.Message
}

func (q *recordingQueue) Send(_ context.Context, msg queue.Message) error {
	q.msgs = append(q.msgs, msg)
	return nil
}

func TestQueueDispatcherEnqueuesMessage(t *testing.T) {
	q := &recordingQueue{}
	d := NewQueueDispatcher(q, "https://api.example.com/hook", nil)
	sub := sampleSubmission("FEEDBACK")
	sub.CallbackURL = ""
	sub.StorageKey = "users/u/job/cv.pdf"

	if _, err := d.Submit(context.Background(), sub); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(q.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(q.msgs))
	}
	msg := q.msgs[0]
	if msg.DocumentID != sub.JobID || msg.StorageKey != sub.StorageKey || msg.CallbackURL != "https://api.example.com/hook" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.JobDescription != "" {
		t.Fatalf("feedback mode must not carry jobDescription")
	}
	if d.Delivery() != DeliveryDeferred {
		t.Fatalf("queue dispatch is always deferred")
	}
}

func TestQueueDispatcherSendFailureIsTransport(t *testing.T) {
	refused := queue.SendFunc(func(context.Context, queue.Message) error {
		return errors.New("connection refused")
	})
	d := NewQueueDispatcher(refused, "", nil)
	sub := sampleSubmission("FORMAT")
	sub.StorageKey = "k"
	if _, err := d.Submit(context.Background(), sub); !IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}
