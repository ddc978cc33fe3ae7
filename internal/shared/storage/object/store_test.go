package object

import (
	"errors"
	"strings"
	"testing"

	"cv-processing-backend/internal/shared/util"
)

func TestKey(t *testing.T) {
	key, err := Key("alice", "doc-1", "My CV.pdf")
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	want := util.OwnerKey("alice") + "/doc-1_My CV.pdf"
	if key != want {
		t.Fatalf("Key = %q, want %q", key, want)
	}
	if strings.Contains(key, "alice") {
		t.Fatalf("raw user id leaked into key %q", key)
	}
}

func TestKeyRejectsBadInput(t *testing.T) {
	if _, err := Key("alice", "doc-1", "../etc/passwd"); err == nil {
		t.Fatalf("expected traversal name rejected")
	}
	if _, err := Key("alice", "", "cv.pdf"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
