package jobs

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a processing job.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Mode selects what the remote processor does with the CV.
type Mode string

const (
	ModeFormat   Mode = "FORMAT"
	ModeFeedback Mode = "FEEDBACK"
	ModeLetter   Mode = "LETTER"
)

// ParseMode normalizes a client-supplied mode.
func ParseMode(raw string) (Mode, bool) {
	switch Mode(strings.ToUpper(strings.TrimSpace(raw))) {
	case ModeFormat:
		return ModeFormat, true
	case ModeFeedback:
		return ModeFeedback, true
	case ModeLetter:
		return ModeLetter, true
	default:
		return "", false
	}
}

// RequiresJobDescription reports whether the mode needs a target job description.
func (m Mode) RequiresJobDescription() bool {
	return m == ModeFormat || m == ModeLetter
}

// Result is the processor output attached to a completed job.
type Result struct {
	FormattedFile string `json:"formattedFile,omitempty"`
	CoverLetter   string `json:"coverLetter,omitempty"`
	Feedback      string `json:"feedback,omitempty"`
}

// Job is one submitted CV processing request.
type Job struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	Mode           Mode       `json:"mode"`
	JobDescription string     `json:"jobDescription,omitempty"`
	Status         Status     `json:"status"`
	Result         *Result    `json:"result,omitempty"`
	FailureReason  string     `json:"failureReason,omitempty"`
	RolledBack     bool       `json:"-"`
	FileName       string     `json:"fileName"`
	ContentType    string     `json:"contentType"`
	StorageKey     string     `json:"-"`
	SubmittedAt    time.Time  `json:"submittedAt"`
	DispatchedAt   *time.Time `json:"dispatchedAt,omitempty"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
}

// Update describes the fields written by a status transition.
type Update struct {
	Status        Status
	Result        *Result
	FailureReason string
	At            time.Time
}
