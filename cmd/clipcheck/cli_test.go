package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"clipcheck/internal/services"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	path := filepath.Join(base, "config.toml")
	content := `
[paths]
state_dir = "` + base + `/state"
log_dir = "` + base + `/logs"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, configPath string, args ...string) string {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	if err := cmd.Execute(); err != nil {
		t.Fatalf("clipcheck %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func TestEnqueueStatusList(t *testing.T) {
	configPath := writeTestConfig(t)

	out := runCLI(t, configPath, "enqueue", "https://youtube.com/watch?v=abc")
	if !strings.HasPrefix(out, "enqueued ") {
		t.Fatalf("enqueue output = %q", out)
	}
	id := strings.TrimSpace(strings.TrimPrefix(out, "enqueued "))

	out = runCLI(t, configPath, "status")
	if !strings.Contains(out, "pending") || !strings.Contains(out, "queue db:") {
		t.Errorf("status output = %q", out)
	}

	out = runCLI(t, configPath, "list")
	if !strings.Contains(out, "youtube.com") || !strings.Contains(out, "pending") {
		t.Errorf("list output = %q", out)
	}

	out = runCLI(t, configPath, "show", id)
	if !strings.Contains(out, "status:    pending") {
		t.Errorf("show output = %q", out)
	}

	out = runCLI(t, configPath, "list", "--status", "completed")
	if !strings.Contains(out, "queue is empty") {
		t.Errorf("filtered list output = %q", out)
	}
}

func TestDeadLettersEmpty(t *testing.T) {
	configPath := writeTestConfig(t)
	out := runCLI(t, configPath, "dlq")
	if !strings.Contains(out, "dead-letter queue is empty") {
		t.Errorf("dlq output = %q", out)
	}
}

func TestListRejectsUnknownStatus(t *testing.T) {
	configPath := writeTestConfig(t)
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--config", configPath, "list", "--status", "bogus"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestShowUnknownJobIsNotFound(t *testing.T) {
	configPath := writeTestConfig(t)
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--config", configPath, "show", "no-such-job"})
	err := cmd.Execute()
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("show error = %v, want not-found classification", err)
	}
}

func TestRenderTableAlignsCountColumns(t *testing.T) {
	out := renderTable(
		[]string{"State", "Jobs"},
		[][]string{
			{"pending", "1"},
			{"total", "10"},
		},
	)
	if !strings.Contains(out, "│ pending │    1 │") {
		t.Errorf("count cell not right-aligned:\n%s", out)
	}
	if !strings.Contains(out, "│ total   │   10 │") {
		t.Errorf("count cell not right-aligned:\n%s", out)
	}

	out = renderTable(
		[]string{"ID", "Attempts"},
		[][]string{{"abc", "2/3"}},
	)
	if !strings.Contains(out, "│      2/3 │") {
		t.Errorf("attempt ratio not right-aligned:\n%s", out)
	}
}
