package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageVersion is the current payload schema version.
const MessageVersion = 1

// ErrInvalidMessage indicates a payload that cannot be processed.
var ErrInvalidMessage = errors.New("invalid queue message")

// Message asks a processor worker to handle one stored CV. The worker reports
// back through CallbackURL using DocumentID.
type Message struct {
	DocumentID     string `json:"documentID"`
	Mode           string `json:"mode"`
	JobDescription string `json:"jobDescription,omitempty"`
	FileName       string `json:"fileName"`
	ContentType    string `json:"contentType"`
	StorageKey     string `json:"storageKey"`
	CallbackURL    string `json:"callbackUrl,omitempty"`
	RequestID      string `json:"requestId,omitempty"`
	EnqueuedAt     string `json:"enqueuedAt"`
	Version        int    `json:"version"`
}

// Validate checks the fields a worker needs.
func (m Message) Validate() error {
	switch {
	case strings.TrimSpace(m.DocumentID) == "":
		return fmt.Errorf("%w: documentID is required", ErrInvalidMessage)
	case strings.TrimSpace(m.Mode) == "":
		return fmt.Errorf("%w: mode is required", ErrInvalidMessage)
	case strings.TrimSpace(m.StorageKey) == "":
		return fmt.Errorf("%w: storageKey is required", ErrInvalidMessage)
	case m.Version <= 0 || m.Version > MessageVersion:
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidMessage, m.Version)
	}
	return nil
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	if msg.Version == 0 {
		msg.Version = MessageVersion
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// DecodeMessage parses and validates a payload the way the processing worker
// consuming SQS or NATS receives it.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}
