package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, path, found, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if found {
		t.Error("found = true for missing file")
	}
	if path == "" {
		t.Error("path empty")
	}
	if cfg.Queue.Workers != Default().Queue.Workers {
		t.Errorf("workers = %d, want default", cfg.Queue.Workers)
	}
}

func TestLoadAppliesOverridesAndInheritsCredentials(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
state_dir = "` + dir + `/state"
log_dir = "` + dir + `/logs"

[queue]
workers = 4
max_attempts = 5

[llm]
api_key = "shared-key"
base_url = "https://example.test/v1/chat/completions"

[evidence]
sources = ["OpenAlex", " pubmed "]

[stages.extraction]
max_fallbacks = 1

[[stages.extraction.targets]]
provider = "openai"
model = "gpt-4o-mini"

[[stages.extraction.targets]]
provider = "anthropic"
model = "claude-3-5-haiku"
api_key = "override-key"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, found, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !found {
		t.Fatal("found = false")
	}
	if cfg.Queue.Workers != 4 || cfg.Queue.MaxAttempts != 5 {
		t.Errorf("queue = %+v", cfg.Queue)
	}

	targets := cfg.Stages.Extraction.Targets
	if len(targets) != 2 {
		t.Fatalf("targets = %d, want 2", len(targets))
	}
	if targets[0].APIKey != "shared-key" {
		t.Errorf("target[0] api key = %q, want inherited", targets[0].APIKey)
	}
	if targets[0].BaseURL != "https://example.test/v1/chat/completions" {
		t.Errorf("target[0] base url = %q, want inherited", targets[0].BaseURL)
	}
	if targets[1].APIKey != "override-key" {
		t.Errorf("target[1] api key = %q, want explicit override kept", targets[1].APIKey)
	}
	if got := targets[0].Name(); got != "openai/gpt-4o-mini" {
		t.Errorf("target name = %q", got)
	}

	sources := cfg.Evidence.Sources
	if len(sources) != 2 || sources[0] != "openalex" || sources[1] != "pubmed" {
		t.Errorf("evidence sources = %v, want lowercased trimmed override", sources)
	}
	if cfg.Evidence.PubMed.BaseURL == "" || cfg.Evidence.OpenAlex.BaseURL == "" {
		t.Error("per-source endpoints should keep defaults when not overridden")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Queue.Workers = 0
	cfg.Queue.MaxAttempts = -1
	cfg.Evidence.WindowSeconds = 0
	cfg.Evidence.Sources = []string{"pubmed", "scholar"}
	cfg.Stages.Extraction.Targets = []Target{{Provider: "openai"}}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	for _, want := range []string{"queue.workers", "queue.max_attempts", "evidence.window_seconds", "evidence.sources", "stages.extraction.targets[0]"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestChainFor(t *testing.T) {
	cfg := Default()
	cfg.Stages.Adjudication.Targets = []Target{{Provider: "openai", Model: "gpt-4o"}}

	chain, ok := cfg.ChainFor("adjudication")
	if !ok || len(chain.Targets) != 1 {
		t.Errorf("chain = %+v, ok = %v", chain, ok)
	}
	if _, ok := cfg.ChainFor("nonsense"); ok {
		t.Error("unknown stage resolved")
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := CreateSample(path); err != nil {
		t.Fatalf("create sample: %v", err)
	}
	if _, _, found, err := Load(path); err != nil || !found {
		t.Fatalf("load sample: found=%v err=%v", found, err)
	}
}
