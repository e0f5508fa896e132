package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"clipcheck/internal/config"
)

// Store manages job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string

	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	lease       time.Duration

	now func() time.Time
}

// Open initializes or connects to the queue database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.StateDir, "queue.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{
		db:          db,
		path:        dbPath,
		maxAttempts: cfg.Queue.MaxAttempts,
		backoffBase: time.Duration(cfg.Queue.RetryBackoffSeconds) * time.Second,
		backoffCap:  time.Duration(cfg.Queue.RetryBackoffCapSecs) * time.Second,
		lease:       time.Duration(cfg.Queue.LeaseSeconds) * time.Second,
		now:         func() time.Time { return time.Now().UTC() },
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the queue database location.
func (s *Store) Path() string {
	return s.path
}

// LeaseDuration returns the visibility lease attached to dequeued jobs.
func (s *Store) LeaseDuration() time.Duration {
	return s.lease
}

// Enqueue creates a new pending job for the supplied input reference and
// returns it. Deduplication by input reference is the caller's concern.
func (s *Store) Enqueue(ctx context.Context, inputRef string) (*Job, error) {
	if inputRef == "" {
		return nil, errors.New("input reference is required")
	}
	now := s.now()
	timestamp := now.Format(time.RFC3339Nano)
	id := uuid.NewString()

	err := s.execRetry(ctx,
		`INSERT INTO jobs (id, input_ref, status, attempt_count, max_attempts, created_at, updated_at)
         VALUES (?, ?, ?, 0, ?, ?, ?)`,
		id, inputRef, StatusPending, s.maxAttempts, timestamp, timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier. A missing job yields (nil, nil).
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Update persists changes to an existing job. Lifecycle transitions should go
// through Dequeue/Complete/Fail; Update exists for maintenance paths.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = s.now()
	trail, err := job.encodeErrorTrail()
	if err != nil {
		return fmt.Errorf("encode error trail: %w", err)
	}
	err = s.execRetry(ctx,
		`UPDATE jobs
         SET input_ref = ?, status = ?, attempt_count = ?, max_attempts = ?,
             updated_at = ?, last_error = ?, next_attempt_at = ?, lease_expires_at = ?,
             result_json = ?, error_trail_json = ?
         WHERE id = ?`,
		job.InputRef,
		job.Status,
		job.AttemptCount,
		job.MaxAttempts,
		job.UpdatedAt.Format(time.RFC3339Nano),
		nullableString(job.LastError),
		nullableTime(job.NextAttemptAt),
		nullableTime(job.LeaseExpires),
		nullableString(job.ResultJSON),
		nullableString(trail),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// List returns jobs filtered by status set (or all jobs when none given).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

const jobColumns = "id, input_ref, status, attempt_count, max_attempts, created_at, updated_at, last_error, next_attempt_at, lease_expires_at, result_json, error_trail_json"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id           string
		inputRef     string
		statusStr    string
		attemptCount int
		maxAttempts  int
		createdRaw   string
		updatedRaw   string
		lastError    sql.NullString
		nextAttempt  sql.NullString
		leaseExpires sql.NullString
		resultJSON   sql.NullString
		errorTrail   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&inputRef,
		&statusStr,
		&attemptCount,
		&maxAttempts,
		&createdRaw,
		&updatedRaw,
		&lastError,
		&nextAttempt,
		&leaseExpires,
		&resultJSON,
		&errorTrail,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:           id,
		InputRef:     inputRef,
		Status:       Status(statusStr),
		AttemptCount: attemptCount,
		MaxAttempts:  maxAttempts,
		LastError:    lastError.String,
		ResultJSON:   resultJSON.String,
		ErrorTrail:   decodeErrorTrail(errorTrail.String),
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	if nextAttempt.Valid {
		if t, err := parseTimeString(nextAttempt.String); err == nil {
			job.NextAttemptAt = &t
		}
	}
	if leaseExpires.Valid {
		if t, err := parseTimeString(leaseExpires.String); err == nil {
			job.LeaseExpires = &t
		}
	}
	return job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
