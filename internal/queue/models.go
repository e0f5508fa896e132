package queue

import (
	"encoding/json"
	"strings"
	"time"
)

// Status represents the lifecycle of a queue job.
type Status string

const (
	StatusPending      Status = "pending"
	StatusInProgress   Status = "in_progress"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusDeadLettered Status = "dead_lettered"
)

var allStatuses = []Status{
	StatusPending,
	StatusInProgress,
	StatusCompleted,
	StatusFailed,
	StatusDeadLettered,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status is immutable once reached.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusDeadLettered
}

// LeaseExpiredError is the error message recorded when a job is reclaimed
// because its worker stopped heartbeating before calling Complete or Fail.
const LeaseExpiredError = "visibility lease expired"

// ErrorRecord captures one failed processing attempt.
type ErrorRecord struct {
	Attempt    int       `json:"attempt"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Job represents one video reference moving through the pipeline.
type Job struct {
	ID            string
	InputRef      string
	Status        Status
	AttemptCount  int
	MaxAttempts   int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastError     string
	NextAttemptAt *time.Time
	LeaseExpires  *time.Time
	ResultJSON    string
	ErrorTrail    []ErrorRecord
}

// Claimable reports whether the job is eligible for dequeue at the supplied
// instant. Failed jobs become claimable again once their backoff elapses;
// they re-enter the pending pool without an explicit status flip.
func (j *Job) Claimable(now time.Time) bool {
	switch j.Status {
	case StatusPending, StatusFailed:
	default:
		return false
	}
	if j.NextAttemptAt != nil && now.Before(*j.NextAttemptAt) {
		return false
	}
	return true
}

func (j *Job) encodeErrorTrail() (string, error) {
	if len(j.ErrorTrail) == 0 {
		return "", nil
	}
	data, err := json.Marshal(j.ErrorTrail)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeErrorTrail(raw string) []ErrorRecord {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var trail []ErrorRecord
	if err := json.Unmarshal([]byte(raw), &trail); err != nil {
		return nil
	}
	return trail
}

// DeadLetter is a job that exhausted its retry budget, held for inspection.
type DeadLetter struct {
	ID         int64
	JobID      string
	InputRef   string
	ErrorTrail []ErrorRecord
	FailedAt   time.Time
}

// HealthSummary describes aggregated queue counts per lifecycle state.
type HealthSummary struct {
	Total        int
	Pending      int
	InProgress   int
	Completed    int
	Failed       int
	DeadLettered int
}
