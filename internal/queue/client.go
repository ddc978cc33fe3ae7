package queue

import "context"

// Client hands CV processing requests to the worker queue. Send returns once
// the backend has accepted the message; the worker reports the outcome later
// through the message's callback URL.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// SendFunc adapts a function to Client.
type SendFunc func(ctx context.Context, msg Message) error

// Send calls f(ctx, msg).
func (f SendFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }
