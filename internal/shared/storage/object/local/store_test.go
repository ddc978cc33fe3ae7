package local

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"cv-processing-backend/internal/shared/storage/object"
)

func TestPutOpenDelete(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir())

	n, err := s.Put(ctx, "user/doc_cv.pdf", "application/pdf", strings.NewReader("%PDF-1.4"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if n != 8 {
		t.Fatalf("expected 8 bytes, got %d", n)
	}

	rc, err := s.Open(ctx, "user/doc_cv.pdf")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "%PDF-1.4" {
		t.Fatalf("unexpected content %q", data)
	}

	if err := s.Delete(ctx, "user/doc_cv.pdf"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "user/doc_cv.pdf"); err != nil {
		t.Fatalf("second Delete should be a no-op, got %v", err)
	}
	if _, err := s.Open(ctx, "user/doc_cv.pdf"); err == nil {
		t.Fatalf("expected error opening deleted object")
	}
}

func TestRejectsEscapingKeys(t *testing.T) {
	s := New(t.TempDir())
	for _, key := range []string{"../outside", "/abs/path", ""} {
		if _, err := s.Put(context.Background(), key, "", strings.NewReader("x")); !errors.Is(err, object.ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
}
