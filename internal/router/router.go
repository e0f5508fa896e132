package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"clipcheck/internal/config"
	"clipcheck/internal/logging"
	"clipcheck/internal/services"
	"clipcheck/internal/telemetry"
)

// Stage names one pipeline step bound to its own fallback chain.
type Stage string

const (
	StageExtraction   Stage = "extraction"
	StageAdjudication Stage = "adjudication"
	StageReport       Stage = "report"
)

// Target is one concrete provider+model endpoint within a stage's chain.
type Target struct {
	Name     string
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

// Chain is the validated, ordered fallback configuration for one stage.
type Chain struct {
	Targets          []Target
	PerTargetRetries int
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	MaxFallbacks     int
	Timeout          time.Duration
}

// ChainFromConfig converts a config section into a runtime chain.
func ChainFromConfig(cfg config.StageChain) Chain {
	targets := make([]Target, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		targets = append(targets, Target{
			Name:     t.Name(),
			Provider: t.Provider,
			Model:    t.Model,
			BaseURL:  t.BaseURL,
			APIKey:   t.APIKey,
		})
	}
	return Chain{
		Targets:          targets,
		PerTargetRetries: cfg.PerTargetRetries,
		BackoffBase:      time.Duration(cfg.RetryBackoffMillis) * time.Millisecond,
		BackoffCap:       time.Duration(cfg.RetryBackoffCapMillis) * time.Millisecond,
		MaxFallbacks:     cfg.MaxFallbacks,
		Timeout:          time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
	}
}

// Payload is the prompt pair submitted to a target.
type Payload struct {
	SystemPrompt string
	UserPrompt   string
}

// Response is a caller's raw answer for one attempt.
type Response struct {
	Content string
	Usage   telemetry.Usage
}

// Caller performs a single outbound call against one target. Retry and
// fallback policy stay in the router; callers report errors classified via
// the error types in this package and never retry internally.
type Caller interface {
	Call(ctx context.Context, target Target, payload Payload) (Response, error)
}

// StageResult is the first successful response produced by a chain.
type StageResult struct {
	Stage    Stage
	Target   Target
	Content  string
	Document json.RawMessage
	Attempts int
	Usage    telemetry.Usage
}

// Router executes stage calls against ordered target chains with per-target
// retry and cross-target fallback.
type Router struct {
	caller  Caller
	chains  map[Stage]Chain
	policy  Policy
	emitter telemetry.Emitter
	logger  *slog.Logger
	sleeper func(time.Duration)
}

// Option customizes the router.
type Option func(*Router)

// WithPolicy overrides the default retry classification policy.
func WithPolicy(policy Policy) Option {
	return func(r *Router) {
		r.policy = policy
	}
}

// WithSleeper overrides how backoff sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(r *Router) {
		r.sleeper = sleeper
	}
}

// New constructs a stage router over the supplied chains.
func New(caller Caller, chains map[Stage]Chain, emitter telemetry.Emitter, logger *slog.Logger, opts ...Option) *Router {
	if emitter == nil {
		emitter = telemetry.NewCapture()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	router := &Router{
		caller:  caller,
		chains:  chains,
		policy:  DefaultPolicy(),
		emitter: emitter,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(router)
	}
	return router
}

// ChainsFromConfig builds the full stage→chain map from configuration.
func ChainsFromConfig(cfg *config.Config) map[Stage]Chain {
	return map[Stage]Chain{
		StageExtraction:   ChainFromConfig(cfg.Stages.Extraction),
		StageAdjudication: ChainFromConfig(cfg.Stages.Adjudication),
		StageReport:       ChainFromConfig(cfg.Stages.Report),
	}
}

// Route executes one logical stage call, trying each target in the stage's
// chain in configured order until one yields a schema-valid response. Target
// order is fixed: every independent call starts from the primary target.
func (r *Router) Route(ctx context.Context, stage Stage, payload Payload) (*StageResult, error) {
	chain, ok := r.chains[stage]
	if !ok || len(chain.Targets) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, string(stage), "route", "no targets configured", nil)
	}

	// Downstream callers and log lines see the stage via context.
	ctx = services.WithStage(ctx, string(stage))
	logger := logging.WithContext(ctx, r.logger)
	jobID, _ := services.JobIDFromContext(ctx)

	maxTargets := len(chain.Targets)
	if chain.MaxFallbacks >= 0 && chain.MaxFallbacks+1 < maxTargets {
		maxTargets = chain.MaxFallbacks + 1
	}

	attempts := 0
	var lastErr error

	for targetIdx := 0; targetIdx < maxTargets; targetIdx++ {
		target := chain.Targets[targetIdx]
		triesOnTarget := 1 + chain.PerTargetRetries

		for try := 0; try < triesOnTarget; try++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			attempts++
			result, latency, err := r.attempt(ctx, stage, chain, target, payload)
			outcome := telemetry.OutcomeSuccess
			var usage telemetry.Usage
			var errText string
			if result != nil {
				usage = result.Usage
			}
			if err != nil {
				errText = err.Error()
				if r.policy.Retryable(err) {
					outcome = telemetry.OutcomeRetryableError
				} else {
					outcome = telemetry.OutcomeFatalError
				}
			}
			r.emitter.EmitStageAttempt(telemetry.StageAttempt{
				JobID:   jobID,
				Stage:   string(stage),
				Target:  target.Name,
				Outcome: outcome,
				Latency: latency,
				Usage:   usage,
				Error:   errText,
			})

			if err == nil {
				result.Stage = stage
				result.Target = target
				result.Attempts = attempts
				if targetIdx > 0 {
					logger.Info("stage served by fallback target",
						logging.Args(
							logging.String(logging.FieldTarget, target.Name),
							logging.Int("fallbacks_used", targetIdx),
							logging.Int("attempts", attempts),
						)...)
				}
				return result, nil
			}

			lastErr = err
			if !r.policy.Retryable(err) {
				// Fatal on this target: skip its remaining retries and
				// advance the chain.
				logger.Warn("stage target failed fatally, advancing chain",
					logging.Args(
						logging.String(logging.FieldTarget, target.Name),
						logging.Error(err),
					)...)
				break
			}

			logger.Warn("stage attempt failed",
				logging.Args(
					logging.String(logging.FieldTarget, target.Name),
					logging.Int("attempt", attempts),
					logging.Error(err),
				)...)

			if try < triesOnTarget-1 {
				if err := r.sleep(ctx, r.backoffDelay(chain, try, lastErr)); err != nil {
					return nil, err
				}
			}
		}
	}

	return nil, &StageError{Stage: stage, Attempts: attempts, LastErr: lastErr}
}

func (r *Router) attempt(ctx context.Context, stage Stage, chain Chain, target Target, payload Payload) (*StageResult, time.Duration, error) {
	attemptCtx := ctx
	var cancel context.CancelFunc
	if chain.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, chain.Timeout)
		defer cancel()
	}

	start := time.Now()
	response, err := r.caller.Call(attemptCtx, target, payload)
	latency := time.Since(start)
	if err != nil {
		return nil, latency, err
	}

	document, err := r.validate(stage, response.Content)
	if err != nil {
		return &StageResult{Content: response.Content, Usage: response.Usage}, latency, err
	}
	return &StageResult{
		Content:  response.Content,
		Document: document,
		Usage:    response.Usage,
	}, latency, nil
}

func (r *Router) backoffDelay(chain Chain, try int, lastErr error) time.Duration {
	if after := retryAfterHint(lastErr); after > 0 {
		return capDelay(after, chain.BackoffCap)
	}
	delay := chain.BackoffBase
	for i := 0; i < try; i++ {
		delay *= 2
	}
	return capDelay(delay, chain.BackoffCap)
}

func retryAfterHint(err error) time.Duration {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.RetryAfter
	}
	return 0
}

func capDelay(delay, cap time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if cap > 0 && delay > cap {
		return cap
	}
	return delay
}

func (r *Router) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if r.sleeper != nil {
		r.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
