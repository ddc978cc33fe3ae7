package queue

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const defaultNATSSubject = "cv.processing.requests"

type natsConn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// NATSClient publishes CV processing requests on a NATS subject for the
// processing workers subscribed to it.
type NATSClient struct {
	conn    natsConn
	subject string
}

// NewNATSClient connects to url and publishes on subject.
func NewNATSClient(url, subject string) (*NATSClient, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("NATS_URL is required")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = defaultNATSSubject
	}

	conn, err := nats.Connect(
		url,
		nats.Name("cv-processing-backend"),
		nats.Timeout(2*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats reconnected: %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSClient{conn: conn, subject: subject}, nil
}

// Send publishes msg and waits for the server to acknowledge the flush.
func (n *NATSClient) Send(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode nats message: %w", err)
	}
	if err := n.conn.Publish(n.subject, payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", msg.DocumentID, err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	if err := n.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

// Close drains the connection.
func (n *NATSClient) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}

var _ Client = (*NATSClient)(nil)
