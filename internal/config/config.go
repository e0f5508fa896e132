package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Queue contains job queue and worker configuration.
type Queue struct {
	Workers               int `toml:"workers"`
	MaxAttempts           int `toml:"max_attempts"`
	RetryBackoffSeconds   int `toml:"retry_backoff_seconds"`
	RetryBackoffCapSecs   int `toml:"retry_backoff_cap_seconds"`
	LeaseSeconds          int `toml:"lease_seconds"`
	PollIntervalSeconds   int `toml:"poll_interval_seconds"`
	ErrorRetryIntervalSec int `toml:"error_retry_interval_seconds"`
	ReclaimIntervalSecs   int `toml:"reclaim_interval_seconds"`
}

// LLM contains shared LLM connection settings applied to targets that do not
// override them.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Target identifies one provider+model endpoint within a stage chain.
type Target struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	BaseURL  string `toml:"base_url"`
	APIKey   string `toml:"api_key"`
}

// Name returns the provider/model identifier used in telemetry and logs.
func (t Target) Name() string {
	return strings.TrimSpace(t.Provider) + "/" + strings.TrimSpace(t.Model)
}

// StageChain configures the ordered fallback chain for one pipeline stage.
type StageChain struct {
	Targets               []Target `toml:"targets"`
	MaxFallbacks          int      `toml:"max_fallbacks"`
	PerTargetRetries      int      `toml:"per_target_retries"`
	RetryBackoffMillis    int      `toml:"retry_backoff_ms"`
	RetryBackoffCapMillis int      `toml:"retry_backoff_cap_ms"`
	RequestTimeoutSeconds int      `toml:"request_timeout_seconds"`
}

// Stages maps each pipeline stage to its chain configuration.
type Stages struct {
	Extraction   StageChain `toml:"extraction"`
	Adjudication StageChain `toml:"adjudication"`
	Report       StageChain `toml:"report"`
}

// EvidenceEndpoint configures one upstream evidence source.
type EvidenceEndpoint struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// Evidence configures the evidence search clients, cache, and rate limiter.
type Evidence struct {
	Sources           []string         `toml:"sources"`
	MaxResults        int              `toml:"max_results"`
	CacheTTLSeconds   int              `toml:"cache_ttl_seconds"`
	RequestsPerWindow int              `toml:"requests_per_window"`
	WindowSeconds     int              `toml:"window_seconds"`
	TimeoutSeconds    int              `toml:"timeout_seconds"`
	PubMed            EvidenceEndpoint `toml:"pubmed"`
	OpenAlex          EvidenceEndpoint `toml:"openalex"`
}

// Pipeline configures per-job execution limits.
type Pipeline struct {
	ClaimConcurrency int `toml:"claim_concurrency"`
	MaxClaims        int `toml:"max_claims"`
}

// Transcript configures the transcript acquisition collaborator.
type Transcript struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config is the root configuration document.
type Config struct {
	Paths      Paths      `toml:"paths"`
	Queue      Queue      `toml:"queue"`
	LLM        LLM        `toml:"llm"`
	Stages     Stages     `toml:"stages"`
	Evidence   Evidence   `toml:"evidence"`
	Pipeline   Pipeline   `toml:"pipeline"`
	Transcript Transcript `toml:"transcript"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the conventional config file location.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "clipcheck", "config.toml"), nil
}

// Load reads configuration from path, falling back to the default location
// when path is empty. A missing file yields defaults. The returned string is
// the path that was consulted and the bool reports whether a file was found.
func Load(path string) (*Config, string, bool, error) {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return nil, "", false, err
		}
		resolved = defaultPath
	}

	cfg := Default()
	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if err := cfg.normalize(); err != nil {
				return nil, resolved, false, err
			}
			return &cfg, resolved, false, nil
		}
		return nil, resolved, false, fmt.Errorf("read config %q: %w", resolved, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, resolved, true, fmt.Errorf("parse config %q: %w", resolved, err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, resolved, true, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, resolved, true, err
	}
	return &cfg, resolved, true, nil
}

func (c *Config) normalize() error {
	for _, p := range []*string{&c.Paths.StateDir, &c.Paths.LogDir} {
		expanded, err := expandPath(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}

	// Targets inherit shared LLM connection settings when unset.
	for _, chain := range []*StageChain{&c.Stages.Extraction, &c.Stages.Adjudication, &c.Stages.Report} {
		for i := range chain.Targets {
			target := &chain.Targets[i]
			target.Provider = strings.ToLower(strings.TrimSpace(target.Provider))
			target.Model = strings.TrimSpace(target.Model)
			if strings.TrimSpace(target.BaseURL) == "" {
				target.BaseURL = c.LLM.BaseURL
			}
			if strings.TrimSpace(target.APIKey) == "" {
				target.APIKey = c.LLM.APIKey
			}
		}
	}

	for i := range c.Evidence.Sources {
		c.Evidence.Sources[i] = strings.ToLower(strings.TrimSpace(c.Evidence.Sources[i]))
	}
	return nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ChainFor returns the chain configuration for the named stage.
func (c *Config) ChainFor(stage string) (StageChain, bool) {
	switch stage {
	case "extraction":
		return c.Stages.Extraction, true
	case "adjudication":
		return c.Stages.Adjudication, true
	case "report":
		return c.Stages.Report, true
	default:
		return StageChain{}, false
	}
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
