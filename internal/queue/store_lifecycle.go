package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotInProgress is returned when Complete or Fail is called for a job that
// no worker currently holds. This happens when a lease expired and another
// worker already reclaimed the job.
var ErrNotInProgress = errors.New("job is not in progress")

// Dequeue atomically claims the oldest claimable job, transitions it to
// in_progress, and attaches a visibility lease. Returns (nil, nil) when no
// job is claimable.
func (s *Store) Dequeue(ctx context.Context) (*Job, error) {
	now := s.now()
	nowStr := now.Format(time.RFC3339Nano)
	leaseExpiry := now.Add(s.lease).Format(time.RFC3339Nano)

	for {
		var id string
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM jobs
             WHERE status IN (?, ?) AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
             ORDER BY created_at, rowid LIMIT 1`,
			StatusPending, StatusFailed, nowStr,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select claimable job: %w", err)
		}

		// The claim predicate repeats the selection criteria so a job lost to
		// a concurrent worker simply yields zero affected rows.
		res, err := s.execRetryResult(ctx,
			`UPDATE jobs
             SET status = ?, lease_expires_at = ?, next_attempt_at = NULL, updated_at = ?
             WHERE id = ? AND status IN (?, ?) AND (next_attempt_at IS NULL OR next_attempt_at <= ?)`,
			StatusInProgress, leaseExpiry, nowStr,
			id, StatusPending, StatusFailed, nowStr,
		)
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("claim rows affected: %w", err)
		}
		if affected == 1 {
			return s.GetByID(ctx, id)
		}
	}
}

// Complete marks an in-progress job as completed and stores its result.
// Completing an already-completed job is a no-op so that late workers whose
// lease expired after the job was reprocessed do not fail spuriously.
func (s *Store) Complete(ctx context.Context, id string, resultJSON string) error {
	now := s.now().Format(time.RFC3339Nano)
	res, err := s.execRetryResult(ctx,
		`UPDATE jobs
         SET status = ?, result_json = ?, lease_expires_at = NULL, next_attempt_at = NULL,
             last_error = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusCompleted, resultJSON, now, id, StatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	job, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("complete job %s: %w", id, sql.ErrNoRows)
	}
	if job.Status == StatusCompleted {
		return nil
	}
	return fmt.Errorf("complete job %s (status %s): %w", id, job.Status, ErrNotInProgress)
}

// Fail records a failed attempt. While the retry budget lasts the job is
// scheduled for redelivery after an exponential backoff; once attempts reach
// the job's limit it is dead-lettered together with its error trail.
func (s *Store) Fail(ctx context.Context, id string, message string) (*Job, error) {
	return s.failAt(ctx, id, message, s.now())
}

func (s *Store) failAt(ctx context.Context, id string, message string, now time.Time) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin fail tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fail job %s: %w", id, sql.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("fail job: %w", err)
	}
	if job.Status != StatusInProgress {
		return nil, fmt.Errorf("fail job %s (status %s): %w", id, job.Status, ErrNotInProgress)
	}

	job.AttemptCount++
	job.LastError = message
	job.LeaseExpires = nil
	job.UpdatedAt = now
	job.ErrorTrail = append(job.ErrorTrail, ErrorRecord{
		Attempt:    job.AttemptCount,
		Message:    message,
		OccurredAt: now,
	})

	if job.AttemptCount >= job.MaxAttempts {
		job.Status = StatusDeadLettered
		job.NextAttemptAt = nil
	} else {
		job.Status = StatusFailed
		next := now.Add(s.backoffDelay(job.AttemptCount))
		job.NextAttemptAt = &next
	}

	trail, err := job.encodeErrorTrail()
	if err != nil {
		return nil, fmt.Errorf("encode error trail: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE jobs
         SET status = ?, attempt_count = ?, last_error = ?, next_attempt_at = ?,
             lease_expires_at = NULL, error_trail_json = ?, updated_at = ?
         WHERE id = ?`,
		job.Status,
		job.AttemptCount,
		message,
		nullableTime(job.NextAttemptAt),
		nullableString(trail),
		now.Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("persist failure: %w", err)
	}

	if job.Status == StatusDeadLettered {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO dead_letters (job_id, input_ref, error_trail_json, failed_at)
             VALUES (?, ?, ?, ?)`,
			job.ID, job.InputRef, trail, now.Format(time.RFC3339Nano),
		)
		if err != nil {
			return nil, fmt.Errorf("append dead letter: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit failure: %w", err)
	}
	return job, nil
}

// backoffDelay computes base * 2^attempts capped at the configured maximum.
func (s *Store) backoffDelay(attempts int) time.Duration {
	if s.backoffBase <= 0 {
		return 0
	}
	delay := s.backoffBase
	for i := 0; i < attempts; i++ {
		delay *= 2
		if s.backoffCap > 0 && delay >= s.backoffCap {
			return s.backoffCap
		}
	}
	if s.backoffCap > 0 && delay > s.backoffCap {
		return s.backoffCap
	}
	return delay
}

// ReclaimExpiredLeases treats every in-progress job whose lease expired
// before cutoff as an implicit failure, making it reclaimable (or
// dead-lettered when its budget is spent). Returns the reclaimed job count.
func (s *Store) ReclaimExpiredLeases(ctx context.Context, cutoff time.Time) (int, error) {
	cutoffStr := cutoff.UTC().Format(time.RFC3339Nano)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM jobs WHERE status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?`,
		StatusInProgress, cutoffStr,
	)
	if err != nil {
		return 0, fmt.Errorf("select expired leases: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, id := range ids {
		if _, err := s.failAt(ctx, id, LeaseExpiredError, cutoff.UTC()); err != nil {
			// Another worker may have completed or failed it since the scan.
			if errors.Is(err, ErrNotInProgress) {
				continue
			}
			return reclaimed, err
		}
		reclaimed++
	}
	return reclaimed, nil
}
