package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"clipcheck/internal/config"
)

const defaultPubMedBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// PubMedClient searches the NCBI eutils API. Every request passes through
// the shared limiter, so concurrent jobs cannot overwhelm the upstream.
type PubMedClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    Limiter
}

// NewPubMedClient builds a searcher over the configured eutils endpoint.
func NewPubMedClient(cfg config.Evidence, limiter Limiter) *PubMedClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.PubMed.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultPubMedBaseURL
	}
	timeout := 20 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &PubMedClient{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.PubMed.APIKey),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

// Name implements Searcher.
func (c *PubMedClient) Name() string { return "pubmed" }

// BuildQuery restricts a claim query to human studies in English.
func BuildQuery(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return query
	}
	return fmt.Sprintf("(%s) AND Humans[Mesh] AND english[lang]", query)
}

type esearchResponse struct {
	ESearchResult struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type esummaryResponse struct {
	Result map[string]json.RawMessage `json:"result"`
}

type esummaryItem struct {
	Title       string `json:"title"`
	PubDate     string `json:"pubdate"`
	ELocationID string `json:"elocationid"`
	PubType     any    `json:"pubtype"`
}

// Search runs esearch then esummary and returns the matched sources along
// with the number of upstream requests issued.
func (c *PubMedClient) Search(ctx context.Context, query string, maxResults int) ([]Source, int, error) {
	requests := 0

	ids, err := c.esearch(ctx, BuildQuery(query), maxResults)
	requests++
	if err != nil {
		return nil, requests, err
	}
	if len(ids) == 0 {
		return nil, requests, nil
	}

	sources, err := c.esummary(ctx, ids)
	requests++
	if err != nil {
		return nil, requests, err
	}
	return sources, requests, nil
}

func (c *PubMedClient) esearch(ctx context.Context, term string, maxResults int) ([]string, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("retmode", "json")
	params.Set("retmax", fmt.Sprintf("%d", maxResults))
	params.Set("term", term)

	var parsed esearchResponse
	if err := c.getJSON(ctx, "esearch.fcgi", params, &parsed); err != nil {
		return nil, err
	}
	return parsed.ESearchResult.IDList, nil
}

func (c *PubMedClient) esummary(ctx context.Context, ids []string) ([]Source, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("retmode", "json")
	params.Set("id", strings.Join(ids, ","))

	var parsed esummaryResponse
	if err := c.getJSON(ctx, "esummary.fcgi", params, &parsed); err != nil {
		return nil, err
	}

	sources := make([]Source, 0, len(ids))
	for _, id := range ids {
		raw, ok := parsed.Result[id]
		if !ok {
			continue
		}
		var item esummaryItem
		if err := json.Unmarshal(raw, &item); err != nil {
			continue
		}
		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = "Untitled result"
		}
		sources = append(sources, Source{
			Title:            title,
			URL:              fmt.Sprintf("https://pubmed.ncbi.nlm.nih.gov/%s/", id),
			SourceType:       "pubmed",
			PublicationDate:  strings.TrimSpace(item.PubDate),
			PublicationTypes: coercePubTypes(item.PubType),
			RelevanceScore:   1.0,
			Snippet:          strings.TrimSpace(item.ELocationID),
		})
	}
	return sources, nil
}

func (c *PubMedClient) getJSON(ctx context.Context, path string, params url.Values, target any) error {
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}
	endpoint := fmt.Sprintf("%s/%s?%s", c.baseURL, path, params.Encode())
	return fetchJSON(ctx, c.httpClient, c.limiter, "pubmed", path, endpoint, target)
}

func coercePubTypes(value any) []string {
	switch v := value.(type) {
	case []any:
		types := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok && s != "" {
				types = append(types, s)
			}
		}
		return types
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}
