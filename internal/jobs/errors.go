package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the job does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition indicates the requested status change is not allowed from the job's current status.
	ErrInvalidTransition = errors.New("invalid job transition")
	// ErrAlreadyTerminal is returned by Resolve and Fail when the job already reached COMPLETED or FAILED.
	ErrAlreadyTerminal = fmt.Errorf("%w: job already terminal", ErrInvalidTransition)
	// ErrRollbackFailed is returned by Fail when the job is FAILED but its quota
	// unit was not returned. Calling Fail again retries the rollback.
	ErrRollbackFailed = errors.New("job quota rollback failed")
)
