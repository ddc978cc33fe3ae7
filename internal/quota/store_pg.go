package quota

import (
	"context"
	"database/sql"
	"errors"

	"cv-processing-backend/internal/shared/storage/db"
)

// PGStore persists quota records in the quota_ledger table. Each mutation
// runs in a transaction holding the user's row lock.
type PGStore struct {
	DB *sql.DB
}

// NewPGStore constructs a Postgres-backed quota store.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{DB: db}
}

func (s *PGStore) Admit(ctx context.Context, userID, today string, limit int) (Record, bool, error) {
	var (
		rec     Record
		allowed bool
	)
	err := db.InTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO quota_ledger (user_id, daily_count, daily_reset_date, total_processed)
VALUES ($1, 0, $2, 0)
ON CONFLICT (user_id) DO NOTHING`, userID, today); err != nil {
			return err
		}

		var err error
		rec, err = lockRecord(ctx, tx, userID)
		if err != nil {
			return err
		}
		if rec.ResetDate < today {
			rec.DailyCount = 0
			rec.ResetDate = today
		}
		if rec.DailyCount >= limit {
			return nil
		}
		rec.DailyCount++
		rec.TotalProcessed++
		allowed = true
		return updateRecord(ctx, tx, rec)
	})
	if err != nil {
		return Record{}, false, err
	}
	return rec, allowed, nil
}

func (s *PGStore) Rollback(ctx context.Context, userID string) (Record, bool, error) {
	var (
		rec     Record
		floored bool
	)
	err := db.InTx(ctx, s.DB, func(tx *sql.Tx) error {
		var err error
		rec, err = lockRecord(ctx, tx, userID)
		if err != nil {
			return err
		}
		if rec.DailyCount > 0 {
			rec.DailyCount--
		} else {
			floored = true
		}
		if rec.TotalProcessed > 0 {
			rec.TotalProcessed--
		} else {
			floored = true
		}
		return updateRecord(ctx, tx, rec)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Record{UserID: userID}, true, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, floored, nil
}

func (s *PGStore) Get(ctx context.Context, userID string) (Record, bool, error) {
	rec := Record{UserID: userID}
	err := s.DB.QueryRowContext(ctx, `
SELECT daily_count, to_char(daily_reset_date, 'YYYY-MM-DD'), total_processed
FROM quota_ledger WHERE user_id = $1`, userID).Scan(&rec.DailyCount, &rec.ResetDate, &rec.TotalProcessed)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{UserID: userID}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func lockRecord(ctx context.Context, tx *sql.Tx, userID string) (Record, error) {
	rec := Record{UserID: userID}
	err := tx.QueryRowContext(ctx, `
SELECT daily_count, to_char(daily_reset_date, 'YYYY-MM-DD'), total_processed
FROM quota_ledger WHERE user_id = $1 FOR UPDATE`, userID).Scan(&rec.DailyCount, &rec.ResetDate, &rec.TotalProcessed)
	return rec, err
}

func updateRecord(ctx context.Context, tx *sql.Tx, rec Record) error {
	_, err := tx.ExecContext(ctx, `
UPDATE quota_ledger
SET daily_count = $2, daily_reset_date = $3, total_processed = $4, updated_at = now()
WHERE user_id = $1`, rec.UserID, rec.DailyCount, rec.ResetDate, rec.TotalProcessed)
	return err
}
