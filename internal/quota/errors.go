package quota

import "errors"

// ErrUserRequired is returned when an operation is called without a user id.
var ErrUserRequired = errors.New("quota: user id is required")
