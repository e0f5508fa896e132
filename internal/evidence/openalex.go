package evidence

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"clipcheck/internal/config"
)

const defaultOpenAlexBaseURL = "https://api.openalex.org"

// openAlexSelect trims work records to the fields the source model needs.
const openAlexSelect = "id,title,doi,publication_date,type,relevance_score,primary_location"

// OpenAlexClient searches the OpenAlex works API. Like the PubMed client it
// draws permits from the shared limiter before every request.
type OpenAlexClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    Limiter
}

// NewOpenAlexClient builds a searcher over the configured OpenAlex endpoint.
// The API key is optional; OpenAlex accepts anonymous requests.
func NewOpenAlexClient(cfg config.Evidence, limiter Limiter) *OpenAlexClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.OpenAlex.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAlexBaseURL
	}
	timeout := 20 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &OpenAlexClient{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.OpenAlex.APIKey),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

// Name implements Searcher.
func (c *OpenAlexClient) Name() string { return "openalex" }

type openAlexWork struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	DOI             string  `json:"doi"`
	PublicationDate string  `json:"publication_date"`
	Type            string  `json:"type"`
	RelevanceScore  float64 `json:"relevance_score"`
	PrimaryLocation struct {
		LandingPageURL string `json:"landing_page_url"`
	} `json:"primary_location"`
}

// Search runs one relevance-ranked works query.
func (c *OpenAlexClient) Search(ctx context.Context, query string, maxResults int) ([]Source, int, error) {
	params := url.Values{}
	params.Set("search", query)
	params.Set("per-page", strconv.Itoa(maxResults))
	params.Set("select", openAlexSelect)
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	var parsed struct {
		Results []openAlexWork `json:"results"`
	}
	endpoint := c.baseURL + "/works?" + params.Encode()
	if err := fetchJSON(ctx, c.httpClient, c.limiter, "openalex", "works", endpoint, &parsed); err != nil {
		return nil, 1, err
	}

	sources := make([]Source, 0, len(parsed.Results))
	for _, work := range parsed.Results {
		title := strings.TrimSpace(work.Title)
		if title == "" {
			title = "Untitled result"
		}
		var types []string
		if workType := strings.TrimSpace(work.Type); workType != "" {
			types = []string{workType}
		}
		sources = append(sources, Source{
			Title:            title,
			URL:              workURL(work),
			SourceType:       "openalex",
			PublicationDate:  strings.TrimSpace(work.PublicationDate),
			PublicationTypes: types,
			RelevanceScore:   work.RelevanceScore,
		})
	}
	return sources, 1, nil
}

// workURL prefers the landing page, then the DOI, then the OpenAlex id,
// which is itself a resolvable URL.
func workURL(work openAlexWork) string {
	if u := strings.TrimSpace(work.PrimaryLocation.LandingPageURL); u != "" {
		return u
	}
	if u := strings.TrimSpace(work.DOI); u != "" {
		return u
	}
	return strings.TrimSpace(work.ID)
}
