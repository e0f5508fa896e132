package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"clipcheck/internal/config"
	"clipcheck/internal/evidence"
	"clipcheck/internal/logging"
	"clipcheck/internal/router"
	"clipcheck/internal/services"
)

const evidenceLineLimit = 8

// StageRouter dispatches one stage call through its fallback chain.
type StageRouter interface {
	Route(ctx context.Context, stage router.Stage, payload router.Payload) (*router.StageResult, error)
}

// EvidenceFinder serves literature evidence for a claim query.
type EvidenceFinder interface {
	Lookup(ctx context.Context, query string) (evidence.Result, error)
}

// Executor sequences the stages of one job: transcript, claim extraction,
// per-claim evidence and adjudication, then report synthesis. Claims are
// adjudicated concurrently up to the configured cap; a claim whose chain is
// exhausted degrades to not_assessable instead of failing the job.
type Executor struct {
	router      StageRouter
	evidence    EvidenceFinder
	transcripts TranscriptProvider
	concurrency int
	maxClaims   int
	logger      *slog.Logger
}

// NewExecutor wires the pipeline against its collaborators.
func NewExecutor(stageRouter StageRouter, finder EvidenceFinder, transcripts TranscriptProvider, cfg config.Pipeline, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	concurrency := cfg.ClaimConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	maxClaims := cfg.MaxClaims
	if maxClaims < 1 {
		maxClaims = 1
	}
	return &Executor{
		router:      stageRouter,
		evidence:    finder,
		transcripts: transcripts,
		concurrency: concurrency,
		maxClaims:   maxClaims,
		logger:      logger,
	}
}

// Run executes the full pipeline for one input reference. An error return
// means the whole job failed and should be retried or dead-lettered by the
// worker; per-claim degradation never surfaces as an error.
func (e *Executor) Run(ctx context.Context, inputRef string) (*Result, error) {
	start := time.Now()
	logger := logging.WithContext(ctx, e.logger)

	transcript, err := e.transcripts.Fetch(ctx, inputRef)
	if err != nil {
		return nil, fmt.Errorf("acquire transcript: %w", err)
	}

	claims, extractionCosts, err := e.extractClaims(ctx, transcript)
	if err != nil {
		return nil, fmt.Errorf("extract claims: %w", err)
	}

	result := &Result{
		InputRef: inputRef,
		Language: transcript.Language,
		Claims:   []ClaimResult{},
	}
	result.Costs.Add(extractionCosts)

	if len(claims) == 0 {
		result.Warnings = append(result.Warnings, "no verifiable claims extracted")
		result.Summary = "No verifiable health claims were found in the transcript."
		result.OverallRating = "accurate"
		result.TookMS = time.Since(start).Milliseconds()
		return result, nil
	}

	claimResults, err := e.adjudicateClaims(ctx, claims)
	if err != nil {
		return nil, err
	}
	result.Claims = claimResults
	for _, claim := range claimResults {
		result.Costs.Add(claim.Costs)
		if claim.Verdict == VerdictNotAssessable {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("claim %q could not be assessed: %s", truncateClaim(claim.Text), claim.Explanation))
		}
	}

	// Report synthesis begins only after every claim has settled.
	summary, rating, reportCosts, reportErr := e.synthesizeReport(ctx, claimResults)
	result.Costs.Add(reportCosts)
	if reportErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("report synthesis exhausted, using verdict tally",
			logging.Error(reportErr),
		)
		summary, rating = fallbackReport(claimResults)
		result.Warnings = append(result.Warnings, "report synthesis failed; summary derived from verdict tally")
	}
	result.Summary = summary
	result.OverallRating = rating
	result.TookMS = time.Since(start).Milliseconds()
	return result, nil
}

func (e *Executor) extractClaims(ctx context.Context, transcript Transcript) ([]Claim, ClaimCosts, error) {
	stageResult, err := e.router.Route(ctx, router.StageExtraction, router.Payload{
		SystemPrompt: extractionSystemPrompt,
		UserPrompt:   extractionUserPrompt(transcript.Text, e.maxClaims),
	})
	if err != nil {
		return nil, ClaimCosts{}, err
	}
	costs := ClaimCosts{
		LLMPromptTokens:     stageResult.Usage.PromptTokens,
		LLMCompletionTokens: stageResult.Usage.CompletionTokens,
	}

	var raw []Claim
	if err := json.Unmarshal(stageResult.Document, &raw); err != nil {
		return nil, costs, fmt.Errorf("decode extracted claims: %w", err)
	}
	claims := make([]Claim, 0, len(raw))
	for _, claim := range raw {
		claim.Text = strings.TrimSpace(claim.Text)
		if claim.Text == "" {
			continue
		}
		claims = append(claims, claim)
		if len(claims) == e.maxClaims {
			break
		}
	}
	return claims, costs, nil
}

func (e *Executor) adjudicateClaims(ctx context.Context, claims []Claim) ([]ClaimResult, error) {
	results := make([]ClaimResult, len(claims))
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.concurrency)
	for i, claim := range claims {
		i, claim := i, claim
		group.Go(func() error {
			claimResult := e.adjudicateClaim(groupCtx, claim)
			mu.Lock()
			results[i] = claimResult
			mu.Unlock()
			return groupCtx.Err()
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Executor) adjudicateClaim(ctx context.Context, claim Claim) ClaimResult {
	result := ClaimResult{Claim: claim}
	logger := logging.WithContext(ctx, e.logger)

	evidenceResult, err := e.evidence.Lookup(ctx, claim.Text)
	result.Costs.PubMedRequests = evidenceResult.Requests["pubmed"]
	result.Costs.OpenAlexRequests = evidenceResult.Requests["openalex"]
	if err != nil {
		// Evidence failure is not fatal for the claim; adjudication sees
		// an empty evidence set.
		logger.Warn("evidence lookup failed",
			logging.String("claim", truncateClaim(claim.Text)),
			logging.Error(err),
		)
	} else {
		result.Sources = evidenceResult.Sources
	}

	lines := make([]string, 0, len(result.Sources))
	for _, source := range result.Sources {
		line := source.Title
		if source.Snippet != "" {
			line += ": " + source.Snippet
		}
		lines = append(lines, line)
	}

	stageResult, err := e.router.Route(ctx, router.StageAdjudication, router.Payload{
		SystemPrompt: adjudicationSystemPrompt,
		UserPrompt:   adjudicationUserPrompt(claim, evidenceLines(lines, evidenceLineLimit)),
	})
	if err != nil {
		result.Verdict = VerdictNotAssessable
		result.Explanation = "adjudication unavailable: " + err.Error()
		return result
	}
	result.Costs.LLMPromptTokens += stageResult.Usage.PromptTokens
	result.Costs.LLMCompletionTokens += stageResult.Usage.CompletionTokens

	var verdict struct {
		Verdict     string  `json:"verdict"`
		Confidence  float64 `json:"confidence"`
		Explanation string  `json:"explanation"`
		Nuance      string  `json:"nuance"`
	}
	if err := json.Unmarshal(stageResult.Document, &verdict); err != nil {
		result.Verdict = VerdictNotAssessable
		result.Explanation = "adjudication returned an undecodable verdict"
		return result
	}
	result.Verdict = verdict.Verdict
	result.Confidence = verdict.Confidence
	result.Explanation = verdict.Explanation
	result.Nuance = verdict.Nuance
	return result
}

func (e *Executor) synthesizeReport(ctx context.Context, claims []ClaimResult) (string, string, ClaimCosts, error) {
	stageResult, err := e.router.Route(ctx, router.StageReport, router.Payload{
		SystemPrompt: reportSystemPrompt,
		UserPrompt:   reportUserPrompt(claims),
	})
	if err != nil {
		return "", "", ClaimCosts{}, err
	}
	costs := ClaimCosts{
		LLMPromptTokens:     stageResult.Usage.PromptTokens,
		LLMCompletionTokens: stageResult.Usage.CompletionTokens,
	}

	var report struct {
		Summary       string `json:"summary"`
		OverallRating string `json:"overall_rating"`
	}
	if err := json.Unmarshal(stageResult.Document, &report); err != nil {
		return "", "", costs, fmt.Errorf("decode report: %w", err)
	}
	return report.Summary, report.OverallRating, costs, nil
}

// fallbackReport derives a summary from verdict tallies when the report
// chain is exhausted.
func fallbackReport(claims []ClaimResult) (string, string) {
	var supported, partial, unsupported, notAssessable int
	for _, claim := range claims {
		switch claim.Verdict {
		case VerdictSupported:
			supported++
		case VerdictPartiallySupported:
			partial++
		case VerdictUnsupported:
			unsupported++
		default:
			notAssessable++
		}
	}
	assessed := supported + partial + unsupported

	summary := fmt.Sprintf(
		"Of %d claims, %d were supported, %d partially supported, %d unsupported, and %d could not be assessed.",
		len(claims), supported, partial, unsupported, notAssessable,
	)

	rating := "mixed"
	switch {
	case assessed == 0:
		rating = "mixed"
	case unsupported == 0 && partial == 0:
		rating = "accurate"
	case supported*2 >= assessed && unsupported == 0:
		rating = "mostly_accurate"
	case unsupported*2 > assessed:
		rating = "misleading"
	}
	return summary, rating
}

func truncateClaim(text string) string {
	const limit = 80
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}

// ResultJSON encodes the result for persistence on the job record.
func ResultJSON(result *Result) (string, error) {
	encoded, err := json.Marshal(result)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "pipeline", "encode result", "marshal result", err)
	}
	return string(encoded), nil
}
