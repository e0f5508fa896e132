package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

const extractionSystemPrompt = `You are a medical claim extraction specialist. Analyze the transcript and
extract all health-related claims suitable for verification.

Claims must be in English so they are easy to search in medical literature.

Return ONLY valid JSON. Do not include markdown, code fences, or extra text.

Return a JSON array of objects with fields:
- claim (string)
- category (string)
- timestamp (string or null)
- specificity (vague | specific | quantified)`

const adjudicationSystemPrompt = `You are a medical research analyst. Evaluate the claim using the evidence.

Return ONLY valid JSON. Do not include markdown, code fences, or extra text.

Return a JSON object with fields:
- verdict (supported | partially_supported | unsupported)
- confidence (0.0-1.0)
- explanation (2-3 sentences)
- nuance (string or null)`

const reportSystemPrompt = `You are summarizing a set of analyzed health claims for a report.

Return ONLY valid JSON with keys "summary" and "overall_rating". Do not
include markdown, code fences, or extra text.

- summary: 2-3 sentences overview
- overall_rating: accurate | mostly_accurate | mixed | misleading`

func extractionUserPrompt(transcript string, maxClaims int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Return at most %d claims. Do not exceed this limit.\n\n", maxClaims)
	b.WriteString("Transcript:\n")
	b.WriteString(transcript)
	return b.String()
}

func adjudicationUserPrompt(claim Claim, sources []string) string {
	var b strings.Builder
	b.WriteString("Claim:\n")
	b.WriteString(claim.Text)
	b.WriteString("\n\nEvidence:\n")
	if len(sources) == 0 {
		b.WriteString("No evidence found.")
	} else {
		for _, source := range sources {
			b.WriteString("- ")
			b.WriteString(source)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func reportUserPrompt(claims []ClaimResult) string {
	type reportClaim struct {
		Claim       string `json:"claim"`
		Verdict     string `json:"verdict"`
		Explanation string `json:"explanation,omitempty"`
	}
	compact := make([]reportClaim, 0, len(claims))
	for _, claim := range claims {
		compact = append(compact, reportClaim{
			Claim:       claim.Text,
			Verdict:     claim.Verdict,
			Explanation: claim.Explanation,
		})
	}
	encoded, err := json.MarshalIndent(compact, "", "  ")
	if err != nil {
		encoded = []byte("[]")
	}
	return "Claims:\n" + string(encoded)
}

func evidenceLines(sources []string, limit int) []string {
	if len(sources) <= limit {
		return sources
	}
	return sources[:limit]
}
