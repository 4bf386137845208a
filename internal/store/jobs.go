package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/normativhq/normativ/internal/model"
)

const jobColumns = `id, queue, idempotency_key, payload, status, attempts, max_attempts,
	run_at, leased_by, leased_until, last_error, created_at, updated_at`

// EnqueueJob inserts a job unless its idempotency key is already present.
// The returned flag reports whether this call actually added work.
func (s *Store) EnqueueJob(ctx context.Context, job model.Job) (model.Job, bool, error) {
	now := time.Now().UTC()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = model.JobPending
	}
	if job.RunAt.IsZero() {
		job.RunAt = now
	}
	job.CreatedAt = now
	job.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		job.ID, job.Queue, job.IdempotencyKey, string(job.Payload), string(job.Status),
		job.Attempts, job.MaxAttempts, job.RunAt, job.LeasedBy,
		nullableTime(job.LeasedUntil), job.LastError, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return model.Job{}, false, fmt.Errorf("enqueuing job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Job{}, false, err
	}
	if n == 0 {
		existing, err := s.JobByKey(ctx, job.IdempotencyKey)
		return existing, false, err
	}
	return job, true, nil
}

// LeaseJob claims the next runnable job on a queue for a worker. Runnable
// means pending and due, or running with an expired lease. The claim is a
// guarded update, so two workers racing for the same job see exactly one
// winner. Jobs that already burned through their attempts are moved to
// dead instead of being handed out again.
func (s *Store) LeaseJob(ctx context.Context, queue, workerID string, leaseFor time.Duration, now time.Time) (model.Job, bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, attempts, max_attempts FROM jobs
		WHERE queue = $1 AND (
			(status = $2 AND run_at <= $3) OR
			(status = $4 AND leased_until IS NOT NULL AND leased_until < $3)
		)
		ORDER BY run_at LIMIT 10`,
		queue, string(model.JobPending), now, string(model.JobRunning))
	if err != nil {
		return model.Job{}, false, err
	}

	type candidate struct {
		id          string
		status      string
		attempts    int
		maxAttempts int
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.status, &c.attempts, &c.maxAttempts); err != nil {
			_ = rows.Close()
			return model.Job{}, false, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return model.Job{}, false, err
	}
	_ = rows.Close()

	leasedUntil := now.Add(leaseFor)
	for _, c := range candidates {
		if c.attempts >= c.maxAttempts {
			// Exhausted before it could run again, usually a crash loop.
			_, err := s.db.ExecContext(ctx, `
				UPDATE jobs SET status = $1, leased_by = '', leased_until = NULL,
					last_error = $2, updated_at = $3
				WHERE id = $4 AND status = $5`,
				string(model.JobDead), "attempts exhausted without completion", now, c.id, c.status)
			if err != nil {
				return model.Job{}, false, err
			}
			continue
		}
		res, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET status = $1, attempts = attempts + 1, leased_by = $2,
				leased_until = $3, updated_at = $4
			WHERE id = $5 AND status = $6`,
			string(model.JobRunning), workerID, leasedUntil, now, c.id, c.status)
		if err != nil {
			return model.Job{}, false, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return model.Job{}, false, err
		}
		if n == 0 {
			continue // another worker got there first
		}
		job, err := s.jobByID(ctx, c.id)
		if err != nil {
			return model.Job{}, false, err
		}
		return job, true, nil
	}
	return model.Job{}, false, nil
}

// CompleteJob marks a leased job as finished
func (s *Store) CompleteJob(ctx context.Context, jobID, workerID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = $1, leased_by = '', leased_until = NULL, last_error = '', updated_at = $2
		WHERE id = $3 AND status = $4 AND leased_by = $5`,
		string(model.JobSucceeded), time.Now().UTC(), jobID, string(model.JobRunning), workerID)
	if err != nil {
		return err
	}
	return oneRow(res, "job "+jobID+" not leased by "+workerID)
}

// FailJob records a failed attempt. Terminal failures go straight to
// failed, exhausted jobs go to dead, everything else returns to pending
// with the retry delay applied.
func (s *Store) FailJob(ctx context.Context, jobID, errMsg string, terminal bool, retryAfter time.Duration) error {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var attempts, maxAttempts int
	err = tx.QueryRowContext(ctx,
		`SELECT attempts, max_attempts FROM jobs WHERE id = $1`, jobID).Scan(&attempts, &maxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("job %s: %w", jobID, model.ErrNotFound)
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	status := model.JobPending
	runAt := now.Add(retryAfter)
	switch {
	case terminal:
		status = model.JobFailed
		runAt = now
	case attempts >= maxAttempts:
		status = model.JobDead
		runAt = now
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET status = $1, run_at = $2, leased_by = '', leased_until = NULL,
			last_error = $3, updated_at = $4
		WHERE id = $5`,
		string(status), runAt, errMsg, now, jobID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// JobByKey looks a job up by its idempotency key
func (s *Store) JobByKey(ctx context.Context, idempotencyKey string) (model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = $1`, idempotencyKey)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Job{}, fmt.Errorf("job key %s: %w", idempotencyKey, model.ErrNotFound)
	}
	return job, err
}

// DeadLetterJobs lists jobs parked on the dead letter queue, oldest first
func (s *Store) DeadLetterJobs(ctx context.Context, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE status = $1
		ORDER BY updated_at LIMIT $2`, string(model.JobDead), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// DeadLetterCount counts jobs on the dead letter queue
func (s *Store) DeadLetterCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = $1`, string(model.JobDead)).Scan(&n)
	return n, err
}

// RequeueDeadJob puts a dead job back on its queue with a fresh attempt budget
func (s *Store) RequeueDeadJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = $1, attempts = 0, run_at = $2, last_error = '', updated_at = $2
		WHERE id = $3 AND status = $4`,
		string(model.JobPending), time.Now().UTC(), jobID, string(model.JobDead))
	if err != nil {
		return err
	}
	return oneRow(res, "job "+jobID+" not dead")
}

// QueueDepths reports per-queue, per-status job counts
func (s *Store) QueueDepths(ctx context.Context) (map[string]map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT queue, status, COUNT(*) FROM jobs GROUP BY queue, status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	depths := make(map[string]map[string]int)
	for rows.Next() {
		var queue, status string
		var n int
		if err := rows.Scan(&queue, &status, &n); err != nil {
			return nil, err
		}
		if depths[queue] == nil {
			depths[queue] = make(map[string]int)
		}
		depths[queue][status] = n
	}
	return depths, rows.Err()
}

func (s *Store) jobByID(ctx context.Context, id string) (model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Job{}, fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}
	return job, err
}

func scanJob(row rowScanner) (model.Job, error) {
	var j model.Job
	var status, payload string
	var leasedUntil sql.NullTime
	err := row.Scan(&j.ID, &j.Queue, &j.IdempotencyKey, &payload, &status,
		&j.Attempts, &j.MaxAttempts, &j.RunAt, &j.LeasedBy, &leasedUntil,
		&j.LastError, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return model.Job{}, err
	}
	j.Payload = []byte(payload)
	j.Status = model.JobStatus(status)
	j.LeasedUntil = scanNullTime(leasedUntil)
	return j, nil
}
