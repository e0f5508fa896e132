package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for values the daemon cannot run with.
// Chains may be empty at load time; the workflow refuses to start without
// targets, so validation here only rejects malformed entries.
func (c *Config) Validate() error {
	var problems []string

	if c.Queue.Workers <= 0 {
		problems = append(problems, "queue.workers must be positive")
	}
	if c.Queue.MaxAttempts <= 0 {
		problems = append(problems, "queue.max_attempts must be positive")
	}
	if c.Queue.LeaseSeconds <= 0 {
		problems = append(problems, "queue.lease_seconds must be positive")
	}
	if c.Queue.RetryBackoffSeconds < 0 {
		problems = append(problems, "queue.retry_backoff_seconds must not be negative")
	}
	if c.Queue.RetryBackoffCapSecs > 0 && c.Queue.RetryBackoffCapSecs < c.Queue.RetryBackoffSeconds {
		problems = append(problems, "queue.retry_backoff_cap_seconds must not be below the base backoff")
	}

	for _, stage := range []struct {
		name  string
		chain StageChain
	}{
		{"extraction", c.Stages.Extraction},
		{"adjudication", c.Stages.Adjudication},
		{"report", c.Stages.Report},
	} {
		if stage.chain.PerTargetRetries < 0 {
			problems = append(problems, fmt.Sprintf("stages.%s.per_target_retries must not be negative", stage.name))
		}
		if stage.chain.MaxFallbacks < 0 {
			problems = append(problems, fmt.Sprintf("stages.%s.max_fallbacks must not be negative", stage.name))
		}
		if stage.chain.RequestTimeoutSeconds <= 0 {
			problems = append(problems, fmt.Sprintf("stages.%s.request_timeout_seconds must be positive", stage.name))
		}
		for i, target := range stage.chain.Targets {
			if strings.TrimSpace(target.Provider) == "" || strings.TrimSpace(target.Model) == "" {
				problems = append(problems, fmt.Sprintf("stages.%s.targets[%d] requires provider and model", stage.name, i))
			}
		}
	}

	if len(c.Evidence.Sources) == 0 {
		problems = append(problems, "evidence.sources must list at least one source")
	}
	for _, source := range c.Evidence.Sources {
		switch source {
		case "pubmed", "openalex":
		default:
			problems = append(problems, fmt.Sprintf("evidence.sources contains unknown source %q", source))
		}
	}
	if c.Evidence.RequestsPerWindow <= 0 {
		problems = append(problems, "evidence.requests_per_window must be positive")
	}
	if c.Evidence.WindowSeconds <= 0 {
		problems = append(problems, "evidence.window_seconds must be positive")
	}
	if c.Evidence.CacheTTLSeconds <= 0 {
		problems = append(problems, "evidence.cache_ttl_seconds must be positive")
	}
	if c.Pipeline.ClaimConcurrency <= 0 {
		problems = append(problems, "pipeline.claim_concurrency must be positive")
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
