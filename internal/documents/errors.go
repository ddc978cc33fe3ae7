package documents

import "errors"

var (
	ErrNotFound     = errors.New("document not found")
	ErrInvalidInput = errors.New("invalid document input")
	// ErrUnreadable marks content that claims a supported type but cannot be parsed.
	ErrUnreadable = errors.New("document is unreadable")
)
