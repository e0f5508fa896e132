package pipeline

import (
	"clipcheck/internal/evidence"
)

// Verdict values an adjudicated claim can carry. NotAssessable is assigned
// by the executor when a claim's adjudication chain is exhausted, never by
// the model itself.
const (
	VerdictSupported          = "supported"
	VerdictPartiallySupported = "partially_supported"
	VerdictUnsupported        = "unsupported"
	VerdictNotAssessable      = "not_assessable"
)

// Claim is one verifiable statement extracted from a transcript.
type Claim struct {
	Text        string `json:"claim"`
	Category    string `json:"category,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	Specificity string `json:"specificity,omitempty"`
}

// ClaimCosts accounts for the external resources one claim consumed.
type ClaimCosts struct {
	PubMedRequests      int `json:"pubmed_requests"`
	OpenAlexRequests    int `json:"openalex_requests"`
	LLMPromptTokens     int `json:"llm_prompt_tokens"`
	LLMCompletionTokens int `json:"llm_completion_tokens"`
}

// Add accumulates another cost sample.
func (c *ClaimCosts) Add(other ClaimCosts) {
	c.PubMedRequests += other.PubMedRequests
	c.OpenAlexRequests += other.OpenAlexRequests
	c.LLMPromptTokens += other.LLMPromptTokens
	c.LLMCompletionTokens += other.LLMCompletionTokens
}

// ClaimResult is one claim with its verdict and supporting evidence.
type ClaimResult struct {
	Claim
	Verdict     string            `json:"verdict"`
	Confidence  float64           `json:"confidence"`
	Explanation string            `json:"explanation"`
	Nuance      string            `json:"nuance,omitempty"`
	Sources     []evidence.Source `json:"sources,omitempty"`
	Costs       ClaimCosts        `json:"costs"`
}

// Result is the persisted output of one completed job.
type Result struct {
	InputRef      string        `json:"input_ref"`
	Language      string        `json:"language,omitempty"`
	Claims        []ClaimResult `json:"claims"`
	Summary       string        `json:"summary,omitempty"`
	OverallRating string        `json:"overall_rating,omitempty"`
	Warnings      []string      `json:"warnings,omitempty"`
	TookMS        int64         `json:"took_ms"`
	Costs         ClaimCosts    `json:"costs"`
}

// Transcript is the raw material the extraction stage works from.
type Transcript struct {
	Text     string
	Language string
}
