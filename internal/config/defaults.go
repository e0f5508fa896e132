package config

const (
	defaultStateDir = "~/.local/share/clipcheck"
	defaultLogDir   = "~/.local/share/clipcheck/logs"

	defaultWorkers             = 2
	defaultMaxAttempts         = 3
	defaultRetryBackoffSeconds = 5
	defaultRetryBackoffCapSecs = 300
	defaultLeaseSeconds        = 600
	defaultPollInterval        = 2
	defaultErrorRetryInterval  = 5
	defaultReclaimInterval     = 30

	defaultLLMBaseURL        = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMTimeoutSeconds = 60

	defaultPerTargetRetries   = 1
	defaultMaxFallbacks       = 2
	defaultRetryBackoffMillis = 300
	defaultRetryBackoffCapMS  = 5000
	defaultStageTimeoutSecs   = 60

	defaultPubMedBaseURL      = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	defaultOpenAlexBaseURL    = "https://api.openalex.org"
	defaultEvidenceMaxResults = 5
	defaultCacheTTLSeconds    = 3600
	defaultRequestsPerWindow  = 10
	defaultWindowSeconds      = 1
	defaultEvidenceTimeout    = 15

	defaultClaimConcurrency = 5
	defaultMaxClaims        = 30

	defaultTranscriptTimeout = 120

	defaultLogFormat = "auto"
	defaultLogLevel  = "info"
)

func defaultChain() StageChain {
	return StageChain{
		MaxFallbacks:          defaultMaxFallbacks,
		PerTargetRetries:      defaultPerTargetRetries,
		RetryBackoffMillis:    defaultRetryBackoffMillis,
		RetryBackoffCapMillis: defaultRetryBackoffCapMS,
		RequestTimeoutSeconds: defaultStageTimeoutSecs,
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Queue: Queue{
			Workers:               defaultWorkers,
			MaxAttempts:           defaultMaxAttempts,
			RetryBackoffSeconds:   defaultRetryBackoffSeconds,
			RetryBackoffCapSecs:   defaultRetryBackoffCapSecs,
			LeaseSeconds:          defaultLeaseSeconds,
			PollIntervalSeconds:   defaultPollInterval,
			ErrorRetryIntervalSec: defaultErrorRetryInterval,
			ReclaimIntervalSecs:   defaultReclaimInterval,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Stages: Stages{
			Extraction:   defaultChain(),
			Adjudication: defaultChain(),
			Report:       defaultChain(),
		},
		Evidence: Evidence{
			Sources:           []string{"pubmed", "openalex"},
			PubMed:            EvidenceEndpoint{BaseURL: defaultPubMedBaseURL},
			OpenAlex:          EvidenceEndpoint{BaseURL: defaultOpenAlexBaseURL},
			MaxResults:        defaultEvidenceMaxResults,
			CacheTTLSeconds:   defaultCacheTTLSeconds,
			RequestsPerWindow: defaultRequestsPerWindow,
			WindowSeconds:     defaultWindowSeconds,
			TimeoutSeconds:    defaultEvidenceTimeout,
		},
		Pipeline: Pipeline{
			ClaimConcurrency: defaultClaimConcurrency,
			MaxClaims:        defaultMaxClaims,
		},
		Transcript: Transcript{
			TimeoutSeconds: defaultTranscriptTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
