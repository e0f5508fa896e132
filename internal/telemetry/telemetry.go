// Package telemetry defines the event stream the orchestration core exposes
// to the observability and cost-accounting collaborators. Every outbound
// stage attempt and every finished job produces one event, success or not.
package telemetry

import (
	"log/slog"
	"sync"
	"time"

	"clipcheck/internal/logging"
)

// Outcome classifies a stage attempt.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeRetryableError Outcome = "retryable_error"
	OutcomeFatalError     Outcome = "fatal_error"
)

// Usage captures token accounting for one LLM call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Add accumulates another usage sample.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
}

// StageAttempt records a single outbound call made while routing a stage.
type StageAttempt struct {
	JobID   string
	Stage   string
	Target  string
	Outcome Outcome
	Latency time.Duration
	Usage   Usage
	Error   string
}

// JobOutcome records the terminal disposition of one job delivery.
type JobOutcome struct {
	JobID    string
	Status   string
	Attempt  int
	Duration time.Duration
	Error    string
}

// Emitter receives telemetry events. Implementations must be safe for
// concurrent use.
type Emitter interface {
	EmitStageAttempt(StageAttempt)
	EmitJobOutcome(JobOutcome)
}

// NewLogEmitter returns an Emitter that writes events as structured logs.
func NewLogEmitter(logger *slog.Logger) Emitter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &logEmitter{logger: logger}
}

type logEmitter struct {
	logger *slog.Logger
}

func (e *logEmitter) EmitStageAttempt(attempt StageAttempt) {
	e.logger.Info("stage attempt",
		logging.String(logging.FieldEventType, "stage_attempt"),
		logging.String(logging.FieldJobID, attempt.JobID),
		logging.String(logging.FieldStage, attempt.Stage),
		logging.String(logging.FieldTarget, attempt.Target),
		logging.String("outcome", string(attempt.Outcome)),
		logging.Duration("latency", attempt.Latency),
		logging.Int("prompt_tokens", attempt.Usage.PromptTokens),
		logging.Int("completion_tokens", attempt.Usage.CompletionTokens),
		logging.String("error", attempt.Error),
	)
}

func (e *logEmitter) EmitJobOutcome(outcome JobOutcome) {
	e.logger.Info("job outcome",
		logging.String(logging.FieldEventType, "job_outcome"),
		logging.String(logging.FieldJobID, outcome.JobID),
		logging.String("status", outcome.Status),
		logging.Int("attempt", outcome.Attempt),
		logging.Duration("duration", outcome.Duration),
		logging.String("error", outcome.Error),
	)
}

// Capture is an Emitter that records events in memory for tests.
type Capture struct {
	mu       sync.Mutex
	attempts []StageAttempt
	outcomes []JobOutcome
}

// NewCapture returns an empty capturing emitter.
func NewCapture() *Capture {
	return &Capture{}
}

func (c *Capture) EmitStageAttempt(attempt StageAttempt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = append(c.attempts, attempt)
}

func (c *Capture) EmitJobOutcome(outcome JobOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, outcome)
}

// StageAttempts returns a copy of the captured attempts.
func (c *Capture) StageAttempts() []StageAttempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]StageAttempt, len(c.attempts))
	copy(cp, c.attempts)
	return cp
}

// JobOutcomes returns a copy of the captured outcomes.
func (c *Capture) JobOutcomes() []JobOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]JobOutcome, len(c.outcomes))
	copy(cp, c.outcomes)
	return cp
}
