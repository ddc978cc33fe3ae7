package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeNATSConn struct {
	subject     string
	data        []byte
	publishErr  error
	flushErr    error
	flushed     bool
	hadDeadline bool
	closed      bool
}

func (f *fakeNATSConn) Publish(subject string, data []byte) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.subject = subject
	f.data = append([]byte(nil), data...)
	return nil
}

func (f *fakeNATSConn) FlushWithContext(ctx context.Context) error {
	_, f.hadDeadline = ctx.Deadline()
	f.flushed = true
	return f.flushErr
}

func (f *fakeNATSConn) Close() { f.closed = true }

func natsTestMessage() Message {
	return Message{
		DocumentID:  "5b7c1a34-91d2-4f0e-8a55-2f3c9d7e6b10",
		Mode:        "FEEDBACK",
		FileName:    "cv.pdf",
		ContentType: "application/pdf",
		StorageKey:  "users/abc/5b7c1a34_cv.pdf",
		CallbackURL: "https://api.example.com/api/v1/webhooks/processing/result",
		EnqueuedAt:  time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC).Format(time.RFC3339),
	}
}

func TestNATSClientPublishesAndFlushes(t *testing.T) {
	conn := &fakeNATSConn{}
	client := &NATSClient{conn: conn, subject: "cv.processing.jobs"}

	if err := client.Send(context.Background(), natsTestMessage()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if conn.subject != "cv.processing.jobs" {
		t.Fatalf("unexpected subject %q", conn.subject)
	}
	if !conn.flushed || !conn.hadDeadline {
		t.Fatalf("expected a bounded flush, flushed=%v deadline=%v", conn.flushed, conn.hadDeadline)
	}
	msg, err := DecodeMessage(conn.data)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if msg.DocumentID != natsTestMessage().DocumentID || msg.Version != MessageVersion {
		t.Fatalf("unexpected payload %+v", msg)
	}

	client.Close()
	if !conn.closed {
		t.Fatalf("expected connection closed")
	}
}

func TestNATSClientErrors(t *testing.T) {
	boom := errors.New("nats: connection closed")

	t.Run("publish", func(t *testing.T) {
		conn := &fakeNATSConn{publishErr: boom}
		err := (&NATSClient{conn: conn, subject: "s"}).Send(context.Background(), natsTestMessage())
		if !errors.Is(err, boom) || conn.flushed {
			t.Fatalf("expected wrapped publish error without flush, got %v flushed=%v", err, conn.flushed)
		}
	})
	t.Run("flush", func(t *testing.T) {
		conn := &fakeNATSConn{flushErr: boom}
		err := (&NATSClient{conn: conn, subject: "s"}).Send(context.Background(), natsTestMessage())
		if !errors.Is(err, boom) {
			t.Fatalf("expected wrapped flush error, got %v", err)
		}
	})
	t.Run("invalid message", func(t *testing.T) {
		conn := &fakeNATSConn{}
		msg := natsTestMessage()
		msg.StorageKey = ""
		err := (&NATSClient{conn: conn, subject: "s"}).Send(context.Background(), msg)
		if !errors.Is(err, ErrInvalidMessage) || conn.data != nil {
			t.Fatalf("expected ErrInvalidMessage before publishing, got %v", err)
		}
	})
}

func TestNewNATSClientRequiresURL(t *testing.T) {
	if _, err := NewNATSClient("  ", ""); err == nil {
		t.Fatalf("expected error for empty NATS_URL")
	}
}
