package usage

import (
	"context"
	"errors"

	"cv-processing-backend/internal/quota"
)

// Reporter is a read-only view of a user's quota.
type Reporter struct {
	ledger *quota.Ledger
}

// NewReporter constructs a Reporter over ledger.
func NewReporter(ledger *quota.Ledger) *Reporter {
	return &Reporter{ledger: ledger}
}

// Get returns the user's usage. Users with no history get zero usage and a full quota.
func (r *Reporter) Get(ctx context.Context, userID string) (quota.Usage, error) {
	if r == nil || r.ledger == nil {
		return quota.Usage{}, errors.New("usage reporter is not configured")
	}
	return r.ledger.Usage(ctx, userID)
}
