package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"clipcheck/internal/config"
	"clipcheck/internal/services"
)

// TranscriptProvider acquires the transcript for an input reference. The
// provider owns its own retry contract; the executor treats any error as a
// whole-job failure.
type TranscriptProvider interface {
	Fetch(ctx context.Context, inputRef string) (Transcript, error)
}

// HTTPTranscriptProvider fetches transcripts from the transcription
// collaborator service.
type HTTPTranscriptProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPTranscriptProvider builds a provider over the configured endpoint.
func NewHTTPTranscriptProvider(cfg config.Transcript) *HTTPTranscriptProvider {
	timeout := 120 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &HTTPTranscriptProvider{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type transcriptionRequest struct {
	YouTubeURL string `json:"youtube_url"`
}

type transcriptionResponse struct {
	Transcript string `json:"transcript"`
	Language   string `json:"language"`
}

// Fetch posts the input reference to the transcription service.
func (p *HTTPTranscriptProvider) Fetch(ctx context.Context, inputRef string) (Transcript, error) {
	if p.baseURL == "" {
		return Transcript{}, services.Wrap(services.ErrConfiguration, "transcript", "fetch", "transcript base url not configured", nil)
	}

	body, err := json.Marshal(transcriptionRequest{YouTubeURL: inputRef})
	if err != nil {
		return Transcript{}, fmt.Errorf("transcript request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/transcription", bytes.NewReader(body))
	if err != nil {
		return Transcript{}, fmt.Errorf("transcript request: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Transcript{}, services.Wrap(services.ErrTransient, "transcript", "fetch", "transcription service unreachable", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Transcript{}, services.Wrap(services.ErrTransient, "transcript", "fetch", "read transcription response", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return Transcript{}, services.Wrap(services.ErrTransient, "transcript", "fetch",
			fmt.Sprintf("transcription service http %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return Transcript{}, fmt.Errorf("transcript request: http %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var parsed transcriptionResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return Transcript{}, fmt.Errorf("transcript request: decode response: %w", err)
	}
	if strings.TrimSpace(parsed.Transcript) == "" {
		return Transcript{}, services.Wrap(services.ErrInvalidResponse, "transcript", "fetch", "empty transcript", nil)
	}
	return Transcript{Text: parsed.Transcript, Language: parsed.Language}, nil
}
