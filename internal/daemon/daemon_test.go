package daemon

import (
	"context"
	"testing"

	"clipcheck/internal/pipeline"
	"clipcheck/internal/telemetry"
	"clipcheck/internal/testsupport"
	"clipcheck/internal/workflow"
)

type idleRunner struct{}

func (idleRunner) Run(ctx context.Context, _ string) (*pipeline.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	manager := workflow.NewManager(cfg, store, idleRunner{}, telemetry.NewCapture(), nil)

	d, err := New(cfg, store, nil, manager)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	status, err := d.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Running {
		t.Error("status should report running")
	}
	d.Stop()

	status, err = d.Status(context.Background())
	if err != nil {
		t.Fatalf("status after stop: %v", err)
	}
	if status.Running {
		t.Error("status should report stopped")
	}
}

func TestDaemonSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	first, err := New(cfg, store, nil, workflow.NewManager(cfg, store, idleRunner{}, telemetry.NewCapture(), nil))
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("start first: %v", err)
	}
	defer first.Stop()

	second, err := New(cfg, store, nil, workflow.NewManager(cfg, store, idleRunner{}, telemetry.NewCapture(), nil))
	if err != nil {
		t.Fatalf("new second daemon: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("second instance acquired the lock")
	}
}
