package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const jobColumns = `id, user_id, mode, job_description, status, result, failure_reason, rolled_back,
file_name, content_type, storage_key, submitted_at, dispatched_at, resolved_at`

// PGRepo persists jobs in Postgres.
type PGRepo struct {
	DB *sql.DB
}

// NewPGRepo constructs a Postgres-backed job repo.
func NewPGRepo(db *sql.DB) *PGRepo {
	return &PGRepo{DB: db}
}

func (r *PGRepo) Create(ctx context.Context, job Job) error {
	resultJSON, err := marshalResult(job.Result)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `
INSERT INTO jobs (`+jobColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		job.ID,
		job.UserID,
		string(job.Mode),
		nullString(job.JobDescription),
		string(job.Status),
		resultJSON,
		nullString(job.FailureReason),
		job.RolledBack,
		job.FileName,
		job.ContentType,
		job.StorageKey,
		job.SubmittedAt,
		job.DispatchedAt,
		job.ResolvedAt,
	)
	return err
}

func (r *PGRepo) GetByID(ctx context.Context, id string) (Job, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return job, err
}

func (r *PGRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Job, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.DB.QueryContext(ctx, `
SELECT `+jobColumns+` FROM jobs
WHERE user_id = $1
ORDER BY submitted_at DESC
LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *PGRepo) Transition(ctx context.Context, id string, from []Status, u Update) (Job, error) {
	allowed, err := statusList(from)
	if err != nil {
		return Job{}, err
	}
	resultJSON, err := marshalResult(u.Result)
	if err != nil {
		return Job{}, err
	}
	var dispatchedAt, resolvedAt *time.Time
	var failure any
	at := u.At
	switch u.Status {
	case StatusProcessing:
		dispatchedAt = &at
	case StatusCompleted:
		resolvedAt = &at
	case StatusFailed:
		resolvedAt = &at
		failure = u.FailureReason
	}

	row := r.DB.QueryRowContext(ctx, `
UPDATE jobs SET
	status = $2,
	result = COALESCE($3::jsonb, result),
	failure_reason = COALESCE($4, failure_reason),
	dispatched_at = COALESCE($5, dispatched_at),
	resolved_at = COALESCE($6, resolved_at)
WHERE id = $1 AND status IN (`+allowed+`)
RETURNING `+jobColumns, id, string(u.Status), resultJSON, failure, dispatchedAt, resolvedAt)
	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Job{}, err
	}
	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return Job{}, getErr
	}
	return current, ErrInvalidTransition
}

func (r *PGRepo) MarkRolledBack(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
UPDATE jobs SET rolled_back = TRUE WHERE id = $1 AND rolled_back = FALSE`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *PGRepo) ClearRolledBack(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, `
UPDATE jobs SET rolled_back = FALSE WHERE id = $1 AND status = 'FAILED'`, id)
	return err
}

func (r *PGRepo) CountActiveSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM jobs
WHERE user_id = $1 AND submitted_at >= $2 AND rolled_back = FALSE`, userID, since).Scan(&n)
	return n, err
}

func (r *PGRepo) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `
SELECT `+jobColumns+` FROM jobs
WHERE (status = 'PROCESSING' AND dispatched_at < $1)
   OR (status = 'PENDING' AND submitted_at < $1)
   OR (status = 'FAILED' AND rolled_back = FALSE AND resolved_at < $1)
ORDER BY submitted_at ASC
LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var (
		job          Job
		mode, status string
		jobDesc      sql.NullString
		resultRaw    []byte
		failure      sql.NullString
		dispatchedAt sql.NullTime
		resolvedAt   sql.NullTime
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&mode,
		&jobDesc,
		&status,
		&resultRaw,
		&failure,
		&job.RolledBack,
		&job.FileName,
		&job.ContentType,
		&job.StorageKey,
		&job.SubmittedAt,
		&dispatchedAt,
		&resolvedAt,
	); err != nil {
		return Job{}, err
	}
	job.Mode = Mode(mode)
	job.Status = Status(status)
	job.JobDescription = jobDesc.String
	job.FailureReason = failure.String
	if len(resultRaw) > 0 {
		var res Result
		if err := json.Unmarshal(resultRaw, &res); err != nil {
			return Job{}, fmt.Errorf("decode job result: %w", err)
		}
		job.Result = &res
	}
	if dispatchedAt.Valid {
		t := dispatchedAt.Time
		job.DispatchedAt = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		job.ResolvedAt = &t
	}
	return job, nil
}

func scanJobs(rows *sql.Rows) ([]Job, error) {
	out := make([]Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// statusList renders known statuses as a SQL literal list.
func statusList(from []Status) (string, error) {
	if len(from) == 0 {
		return "", fmt.Errorf("%w: no source status", ErrInvalidTransition)
	}
	parts := make([]string, 0, len(from))
	for _, s := range from {
		switch s {
		case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
			parts = append(parts, "'"+string(s)+"'")
		default:
			return "", fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, s)
		}
	}
	return strings.Join(parts, ", "), nil
}

func marshalResult(res *Result) (any, error) {
	if res == nil {
		return nil, nil
	}
	b, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode job result: %w", err)
	}
	return b, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
