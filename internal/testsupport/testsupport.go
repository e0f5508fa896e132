// Package testsupport provides shared helpers for package tests: temp-backed
// configurations with fast queue timings and an opened queue store wired to
// them.
package testsupport

import (
	"path/filepath"
	"testing"

	"clipcheck/internal/config"
	"clipcheck/internal/queue"
)

// ConfigOption customizes the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test
// and timings short enough for tests to exercise retry paths directly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Queue.Workers = 1
	cfg.Queue.PollIntervalSeconds = 1
	cfg.Queue.RetryBackoffSeconds = 0
	cfg.Queue.RetryBackoffCapSecs = 1
	cfg.Queue.ReclaimIntervalSecs = 1
	cfg.LLM.APIKey = "test-key"

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithMaxAttempts overrides the job attempt budget on the test config.
func WithMaxAttempts(attempts int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Queue.MaxAttempts = attempts
	}
}

// WithWorkers overrides the worker count on the test config.
func WithWorkers(workers int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Queue.Workers = workers
	}
}

// MustOpenStore opens the queue store for the config and closes it when the
// test finishes.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}
