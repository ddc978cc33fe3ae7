package documents

import "time"

// Document is the bookkeeping record of an uploaded CV. Its ID equals the job ID.
type Document struct {
	ID         string
	UserID     string
	FileName   string
	MimeType   string
	SizeBytes  int64
	PageCount  int
	StorageKey string
	CreatedAt  time.Time
}

const (
	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)
