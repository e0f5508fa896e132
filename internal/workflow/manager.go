package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"clipcheck/internal/config"
	"clipcheck/internal/logging"
	"clipcheck/internal/pipeline"
	"clipcheck/internal/queue"
	"clipcheck/internal/services"
	"clipcheck/internal/telemetry"
)

// JobRunner executes the pipeline for one input reference.
type JobRunner interface {
	Run(ctx context.Context, inputRef string) (*pipeline.Result, error)
}

// Manager drives the worker pool. Each worker dequeues one job at a time,
// runs the pipeline, and settles the job through Complete or Fail. A
// background ticker reclaims jobs whose visibility lease expired so crashed
// deliveries are redelivered.
type Manager struct {
	cfg     *config.Config
	store   *queue.Store
	runner  JobRunner
	emitter telemetry.Emitter
	logger  *slog.Logger

	pollInterval    time.Duration
	errorInterval   time.Duration
	reclaimInterval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager constructs a worker pool over the store and pipeline runner.
func NewManager(cfg *config.Config, store *queue.Store, runner JobRunner, emitter telemetry.Emitter, logger *slog.Logger) *Manager {
	if emitter == nil {
		emitter = telemetry.NewLogEmitter(logger)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:             cfg,
		store:           store,
		runner:          runner,
		emitter:         emitter,
		logger:          logger.With(logging.String(logging.FieldComponent, "workflow")),
		pollInterval:    time.Duration(cfg.Queue.PollIntervalSeconds) * time.Second,
		errorInterval:   time.Duration(cfg.Queue.ErrorRetryIntervalSec) * time.Second,
		reclaimInterval: time.Duration(cfg.Queue.ReclaimIntervalSecs) * time.Second,
	}
}

// Start launches the workers and the lease reclaimer. It is idempotent.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	workers := m.cfg.Queue.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go func(worker int) {
			defer m.wg.Done()
			m.workerLoop(runCtx, worker)
		}(i)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.reclaimLoop(runCtx)
	}()

	m.logger.Info("workflow started", logging.Int("workers", workers))
	return nil
}

// Stop cancels the run context and waits for in-flight jobs to settle.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("workflow stopped")
}

func (m *Manager) workerLoop(ctx context.Context, worker int) {
	logger := m.logger.With(logging.Int("worker", worker))
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := m.store.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("dequeue failed", logging.Error(err))
			if !sleepCtx(ctx, m.errorInterval) {
				return
			}
			continue
		}
		if job == nil {
			if !sleepCtx(ctx, m.pollInterval) {
				return
			}
			continue
		}

		m.processJob(ctx, job)
	}
}

func (m *Manager) processJob(ctx context.Context, job *queue.Job) {
	// Each delivery gets its own correlation id so log lines from
	// redeliveries of the same job stay distinguishable.
	jobCtx := services.WithRequestID(services.WithJobID(ctx, job.ID), uuid.NewString())
	logger := logging.WithContext(jobCtx, m.logger)
	start := time.Now()

	logger.Info("job started",
		logging.String("input_ref", job.InputRef),
		logging.Int("attempt", job.AttemptCount+1),
		logging.Int("max_attempts", job.MaxAttempts),
	)

	result, err := m.runner.Run(jobCtx, job.InputRef)
	if err != nil {
		m.settleFailure(jobCtx, job, err, time.Since(start))
		return
	}

	resultJSON, err := pipeline.ResultJSON(result)
	if err != nil {
		m.settleFailure(jobCtx, job, err, time.Since(start))
		return
	}
	if err := m.store.Complete(jobCtx, job.ID, resultJSON); err != nil {
		logger.Error("complete failed", logging.Error(err))
		return
	}

	duration := time.Since(start)
	m.emitter.EmitJobOutcome(telemetry.JobOutcome{
		JobID:    job.ID,
		Status:   string(queue.StatusCompleted),
		Attempt:  job.AttemptCount + 1,
		Duration: duration,
	})
	logger.Info("job completed",
		logging.Duration("duration", duration),
		logging.Int("claims", len(result.Claims)),
	)
}

func (m *Manager) settleFailure(ctx context.Context, job *queue.Job, jobErr error, duration time.Duration) {
	logger := logging.WithContext(ctx, m.logger)

	// A canceled run means shutdown, not job failure; the lease reclaimer
	// redelivers it.
	if errors.Is(jobErr, context.Canceled) {
		logger.Info("job interrupted by shutdown")
		return
	}

	failed, err := m.store.Fail(ctx, job.ID, jobErr.Error())
	if err != nil {
		logger.Error("fail transition failed", logging.Error(err))
		return
	}

	m.emitter.EmitJobOutcome(telemetry.JobOutcome{
		JobID:    job.ID,
		Status:   string(failed.Status),
		Attempt:  failed.AttemptCount,
		Duration: duration,
		Error:    jobErr.Error(),
	})
	if failed.Status == queue.StatusDeadLettered {
		logger.Error("job dead lettered",
			logging.Int("attempts", failed.AttemptCount),
			logging.Error(jobErr),
		)
		return
	}
	logger.Warn("job failed, will retry",
		logging.Int("attempt", failed.AttemptCount),
		logging.Any("next_attempt_at", failed.NextAttemptAt),
		logging.Error(jobErr),
	)
}

func (m *Manager) reclaimLoop(ctx context.Context) {
	interval := m.reclaimInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := m.store.ReclaimExpiredLeases(ctx, time.Now())
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					m.logger.Error("lease reclaim failed", logging.Error(err))
				}
				continue
			}
			if reclaimed > 0 {
				m.logger.Warn("reclaimed expired leases", logging.Int("count", reclaimed))
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
