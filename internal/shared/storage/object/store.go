package object

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"cv-processing-backend/internal/shared/util"
)

// ErrInvalidKey is returned for keys that escape the store root.
var ErrInvalidKey = errors.New("invalid storage key")

// ObjectStore stores uploaded CV blobs by key.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, r io.Reader) (sizeBytes int64, err error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Key builds the storage key for an object owned by userID. The user segment is
// hashed so raw identifiers never appear in paths.
func Key(userID, objectID, fileName string) (string, error) {
	name, err := util.SanitizeFileName(fileName)
	if err != nil {
		return "", fmt.Errorf("sanitize file name: %w", err)
	}
	if objectID == "" {
		return "", ErrInvalidKey
	}
	return path.Join(util.OwnerKey(userID), objectID+"_"+name), nil
}
