package queue

import (
	"context"
	"fmt"
	"time"
)

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates queue state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusInProgress:
			health.InProgress += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		case StatusDeadLettered:
			health.DeadLettered += count
		}
	}
	return health, nil
}

// RetryNow clears the backoff delay on failed jobs so they become claimable
// immediately. With no ids every failed job is reset.
func (s *Store) RetryNow(ctx context.Context, ids ...string) (int64, error) {
	now := s.now().Format(time.RFC3339Nano)
	if len(ids) == 0 {
		res, err := s.execRetryResult(ctx,
			`UPDATE jobs SET next_attempt_at = NULL, updated_at = ? WHERE status = ?`,
			now, StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed jobs: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+2)
	args = append(args, now, StatusFailed)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.execRetryResult(ctx,
		`UPDATE jobs SET next_attempt_at = NULL, updated_at = ? WHERE status = ? AND id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("retry selected jobs: %w", err)
	}
	return res.RowsAffected()
}

// DeadLetters returns dead-lettered jobs ordered by failure time.
func (s *Store) DeadLetters(ctx context.Context) ([]*DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, input_ref, error_trail_json, failed_at FROM dead_letters ORDER BY failed_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []*DeadLetter
	for rows.Next() {
		var (
			letter    DeadLetter
			trailRaw  string
			failedRaw string
		)
		if err := rows.Scan(&letter.ID, &letter.JobID, &letter.InputRef, &trailRaw, &failedRaw); err != nil {
			return nil, err
		}
		letter.ErrorTrail = decodeErrorTrail(trailRaw)
		if t, err := parseTimeString(failedRaw); err == nil {
			letter.FailedAt = t
		}
		letters = append(letters, &letter)
	}
	return letters, rows.Err()
}

// ClearCompleted removes only completed jobs from the queue.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.execRetryResult(ctx, `DELETE FROM jobs WHERE status = ?`, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all jobs from the queue. Dead-letter records are kept.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execRetryResult(ctx, `DELETE FROM jobs`)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return res.RowsAffected()
}
