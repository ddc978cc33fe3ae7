package processor

import (
	"errors"
	"fmt"
)

// ConfigurationError means the processor cannot be called at all. It is never retried.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return e.Msg
}

// TransportError covers network failures, timeouts, 5xx and throttling
// responses. The job may succeed if sent again.
type TransportError struct {
	StatusCode int
	Err        error
	timeout    bool
}

func (e *TransportError) Error() string {
	switch {
	case e.timeout:
		return fmt.Sprintf("processor timeout: %v", e.Err)
	case e.StatusCode > 0:
		return fmt.Sprintf("processor unavailable: status %d: %v", e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("processor transport: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the call ran out of time.
func (e *TransportError) Timeout() bool {
	return e.timeout
}

// RemoteRejection means the processor looked at the job and declined it.
type RemoteRejection struct {
	StatusCode int
	Message    string
}

func (e *RemoteRejection) Error() string {
	if e.Message == "" {
		return "processor rejected job"
	}
	return "processor rejected job: " + e.Message
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsTimeout reports whether err is a TransportError caused by a timeout.
func IsTimeout(err error) bool {
	var target *TransportError
	return errors.As(err, &target) && target.Timeout()
}

// IsRejection reports whether err is a RemoteRejection.
func IsRejection(err error) bool {
	var target *RemoteRejection
	return errors.As(err, &target)
}

// Reason returns the text stored as a job's failure reason.
func Reason(err error) string {
	var rej *RemoteRejection
	if errors.As(err, &rej) && rej.Message != "" {
		return rej.Message
	}
	if IsTimeout(err) {
		return "processing timed out"
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
