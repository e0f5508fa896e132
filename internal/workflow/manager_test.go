package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"clipcheck/internal/pipeline"
	"clipcheck/internal/queue"
	"clipcheck/internal/services"
	"clipcheck/internal/telemetry"
	"clipcheck/internal/testsupport"
)

type stubRunner struct {
	calls int32
	run   func(ctx context.Context, inputRef string) (*pipeline.Result, error)
}

func (r *stubRunner) Run(ctx context.Context, inputRef string) (*pipeline.Result, error) {
	atomic.AddInt32(&r.calls, 1)
	return r.run(ctx, inputRef)
}

func waitForStatus(t *testing.T, store *queue.Store, id string, want queue.Status) *queue.Job {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case <-deadline:
			job, _ := store.GetByID(context.Background(), id)
			t.Fatalf("timed out waiting for %s; job = %+v", want, job)
		case <-time.After(20 * time.Millisecond):
		}
		job, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job != nil && job.Status == want {
			return job
		}
	}
}

func TestManagerCompletesJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	var sawJobID, sawRequestID atomic.Bool
	runner := &stubRunner{run: func(ctx context.Context, inputRef string) (*pipeline.Result, error) {
		if _, ok := services.JobIDFromContext(ctx); ok {
			sawJobID.Store(true)
		}
		if _, ok := services.RequestIDFromContext(ctx); ok {
			sawRequestID.Store(true)
		}
		return &pipeline.Result{
			InputRef: inputRef,
			Claims:   []pipeline.ClaimResult{{Claim: pipeline.Claim{Text: "c"}, Verdict: pipeline.VerdictSupported}},
			Summary:  "ok",
		}, nil
	}}
	capture := telemetry.NewCapture()
	manager := NewManager(cfg, store, runner, capture, nil)

	job, err := store.Enqueue(context.Background(), "https://youtube.com/watch?v=xyz")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer manager.Stop()

	completed := waitForStatus(t, store, job.ID, queue.StatusCompleted)
	var result pipeline.Result
	if err := json.Unmarshal([]byte(completed.ResultJSON), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Summary != "ok" || len(result.Claims) != 1 {
		t.Errorf("persisted result = %+v", result)
	}

	outcomes := capture.JobOutcomes()
	if len(outcomes) != 1 || outcomes[0].Status != string(queue.StatusCompleted) {
		t.Errorf("outcomes = %+v, want one completed", outcomes)
	}
	if !sawJobID.Load() || !sawRequestID.Load() {
		t.Error("runner context should carry job and correlation identifiers")
	}
}

func TestManagerRetriesThenDeadLetters(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxAttempts(3))
	store := testsupport.MustOpenStore(t, cfg)

	runner := &stubRunner{run: func(context.Context, string) (*pipeline.Result, error) {
		return nil, errors.New("transcript service down")
	}}
	capture := telemetry.NewCapture()
	manager := NewManager(cfg, store, runner, capture, nil)

	job, err := store.Enqueue(context.Background(), "ref")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer manager.Stop()

	dead := waitForStatus(t, store, job.ID, queue.StatusDeadLettered)
	if dead.AttemptCount != 3 {
		t.Errorf("attempt count = %d, want 3", dead.AttemptCount)
	}
	if len(dead.ErrorTrail) != 3 {
		t.Errorf("error trail = %d records, want 3", len(dead.ErrorTrail))
	}
	for i, record := range dead.ErrorTrail {
		if record.Attempt != i+1 {
			t.Errorf("trail[%d].Attempt = %d", i, record.Attempt)
		}
		if record.Message == "" {
			t.Errorf("trail[%d] missing message", i)
		}
	}

	letters, err := store.DeadLetters(context.Background())
	if err != nil {
		t.Fatalf("dead letters: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(letters))
	}

	if calls := atomic.LoadInt32(&runner.calls); calls != 3 {
		t.Errorf("runner invoked %d times, want 3", calls)
	}

	outcomes := capture.JobOutcomes()
	if len(outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(outcomes))
	}
	if outcomes[2].Status != string(queue.StatusDeadLettered) {
		t.Errorf("final outcome = %s, want dead_lettered", outcomes[2].Status)
	}
}

func TestManagerShutdownLeavesJobForRedelivery(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	started := make(chan struct{})
	runner := &stubRunner{run: func(ctx context.Context, _ string) (*pipeline.Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	manager := NewManager(cfg, store, runner, telemetry.NewCapture(), nil)

	job, err := store.Enqueue(context.Background(), "ref")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started
	manager.Stop()

	// The job stays leased in progress; the next reclaim pass redelivers it
	// without consuming an attempt on the canceled run.
	after, err := store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if after.Status != queue.StatusInProgress {
		t.Fatalf("status after shutdown = %s, want in_progress", after.Status)
	}
	if after.AttemptCount != 0 {
		t.Errorf("attempt count = %d, want 0 after interrupted run", after.AttemptCount)
	}

	reclaimed, err := store.ReclaimExpiredLeases(context.Background(), time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if reclaimed != 1 {
		t.Errorf("reclaimed = %d, want 1", reclaimed)
	}
}

func TestLeaseExpiryRedeliveryPersistsIdenticalResult(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	// A deterministic pipeline stand-in: the same input always renders the
	// same result, so repeated deliveries must persist identical payloads.
	render := func(inputRef string) *pipeline.Result {
		return &pipeline.Result{
			InputRef:      inputRef,
			Claims:        []pipeline.ClaimResult{{Claim: pipeline.Claim{Text: "claim"}, Verdict: pipeline.VerdictSupported, Confidence: 0.9}},
			Summary:       "stable summary",
			OverallRating: "accurate",
		}
	}
	runner := &stubRunner{run: func(_ context.Context, inputRef string) (*pipeline.Result, error) {
		return render(inputRef), nil
	}}

	job, err := store.Enqueue(ctx, "https://youtube.com/watch?v=stable")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Delivery one claims the job, then its worker stalls past the lease.
	stalled, err := store.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if stalled == nil || stalled.ID != job.ID {
		t.Fatalf("dequeued = %+v, want job %s", stalled, job.ID)
	}
	reclaimed, err := store.ReclaimExpiredLeases(ctx, time.Now().Add(store.LeaseDuration()+time.Minute))
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("reclaimed = %d, want 1", reclaimed)
	}

	// Delivery two reprocesses the job to completion.
	manager := NewManager(cfg, store, runner, telemetry.NewCapture(), nil)
	if err := manager.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	completed := waitForStatus(t, store, job.ID, queue.StatusCompleted)
	manager.Stop()

	want, err := pipeline.ResultJSON(render(job.InputRef))
	if err != nil {
		t.Fatalf("encode result: %v", err)
	}
	if completed.ResultJSON != want {
		t.Fatalf("persisted result = %s, want %s", completed.ResultJSON, want)
	}

	// The stalled first delivery finishes late and repeats its write; the
	// stored payload must stay byte-identical.
	late, err := pipeline.ResultJSON(render(stalled.InputRef))
	if err != nil {
		t.Fatalf("encode late result: %v", err)
	}
	if err := store.Complete(ctx, stalled.ID, late); err != nil {
		t.Fatalf("late complete: %v", err)
	}
	after, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if after.ResultJSON != want {
		t.Errorf("result changed after redelivered write:\n got %s\nwant %s", after.ResultJSON, want)
	}
	if calls := atomic.LoadInt32(&runner.calls); calls != 1 {
		t.Errorf("runner invoked %d times, want 1 for the redelivered run", calls)
	}
}
