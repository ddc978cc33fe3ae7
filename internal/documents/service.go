package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cv-processing-backend/internal/shared/storage/object"
	"cv-processing-backend/internal/shared/telemetry"
)

// Service stores CV blobs and their bookkeeping records.
type Service struct {
	objects object.ObjectStore
	repo    Repo
	now     func() time.Time
}

// NewService constructs a Service.
func NewService(objects object.ObjectStore, repo Repo) *Service {
	return &Service{objects: objects, repo: repo, now: time.Now}
}

// Upload is the input to Store.
type Upload struct {
	ID        string
	UserID    string
	FileName  string
	MimeType  string
	PageCount int
	Data      []byte
}

// Store saves the blob and records the document. The blob is removed again if
// the record cannot be written.
func (s *Service) Store(ctx context.Context, in Upload) (Document, error) {
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.FileName) == "" {
		return Document{}, ErrInvalidInput
	}
	key, err := object.Key(in.UserID, in.ID, in.FileName)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	size, err := s.objects.Put(ctx, key, in.MimeType, bytes.NewReader(in.Data))
	if err != nil {
		return Document{}, fmt.Errorf("store object: %w", err)
	}

	doc := Document{
		ID:         in.ID,
		UserID:     in.UserID,
		FileName:   in.FileName,
		MimeType:   in.MimeType,
		SizeBytes:  size,
		PageCount:  in.PageCount,
		StorageKey: key,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.repo.Create(ctx, doc); err != nil {
		if delErr := s.objects.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			telemetry.Warn("documents.orphaned_object", map[string]any{
				"storage_key": key,
				"error":       delErr.Error(),
			})
		}
		return Document{}, fmt.Errorf("record document: %w", err)
	}
	return doc, nil
}

// Get returns a document owned by userID.
func (s *Service) Get(ctx context.Context, userID, id string) (Document, error) {
	if userID == "" || id == "" {
		return Document{}, ErrInvalidInput
	}
	return s.repo.GetByID(ctx, userID, id)
}

// List returns the caller's documents, newest first.
func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]Document, error) {
	if userID == "" {
		return nil, errors.New("user id required")
	}
	return s.repo.ListByUser(ctx, userID, limit, offset)
}
