package util

import (
	"errors"
	"strings"
	"unicode"
)

// MaxFileNameLength bounds the stored name of an uploaded CV, in bytes.
const MaxFileNameLength = 255

// ErrInvalidFileName is returned for CV file names that cannot be stored.
var ErrInvalidFileName = errors.New("invalid file name")

// SanitizeFileName turns an uploaded CV's file name into one safe to embed in
// an object key. Path separators become underscores; traversal sequences,
// control characters and overlong names are rejected.
func SanitizeFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", ErrInvalidFileName
	}
	s := strings.TrimSpace(name)
	if s == "" || len(s) > MaxFileNameLength {
		return "", ErrInvalidFileName
	}
	if strings.IndexFunc(s, unicode.IsControl) >= 0 {
		return "", ErrInvalidFileName
	}
	s = strings.NewReplacer("/", "_", "\\", "_").Replace(s)
	return s, nil
}
