package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
)

// Delivery selects how results come back from the processor.
type Delivery string

const (
	// DeliveryInline returns the result in the submit response.
	DeliveryInline Delivery = "inline"
	// DeliveryDeferred acknowledges the submit and posts the result to a webhook later.
	DeliveryDeferred Delivery = "deferred"
)

// ParseDelivery maps a config value to a Delivery, defaulting to inline.
func ParseDelivery(raw string) Delivery {
	if strings.EqualFold(strings.TrimSpace(raw), string(DeliveryDeferred)) {
		return DeliveryDeferred
	}
	return DeliveryInline
}

// Submission is one CV to process.
type Submission struct {
	JobID          string
	FileName       string
	ContentType    string
	Content        []byte
	StorageKey     string
	Mode           string
	JobDescription string
	CallbackURL    string
}

// Result is the processor output for inline delivery.
type Result struct {
	FormattedFile string
	CoverLetter   string
	Feedback      string
}

// Processor submits CVs to the remote processing service.
type Processor interface {
	Submit(ctx context.Context, sub Submission) (Result, error)
	Delivery() Delivery
}

// FeedbackText flattens a feedback value that may be a JSON string or any
// other JSON value into text.
func FeedbackText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return string(trimmed)
	}
	return buf.String()
}

func includesJobDescription(mode string) bool {
	switch strings.ToUpper(mode) {
	case "FORMAT", "LETTER":
		return true
	default:
		return false
	}
}
