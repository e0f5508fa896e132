package evidence

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"clipcheck/internal/config"
	"clipcheck/internal/logging"
	"clipcheck/internal/services"
)

// Source is one document returned by an upstream evidence search.
type Source struct {
	Title            string   `json:"title"`
	URL              string   `json:"url"`
	SourceType       string   `json:"source_type"`
	PublicationDate  string   `json:"publication_date,omitempty"`
	PublicationTypes []string `json:"publication_type,omitempty"`
	RelevanceScore   float64  `json:"relevance_score"`
	Snippet          string   `json:"snippet,omitempty"`
}

// Result is the outcome of one evidence lookup.
type Result struct {
	Sources []Source
	// Cached reports whether the result was served from an unexpired entry
	// without any upstream traffic.
	Cached bool
	// Requests counts the upstream HTTP requests this lookup caused, keyed
	// by source name. Empty for cache hits and for callers that joined an
	// in-flight fetch, so summing across callers counts each request once.
	Requests map[string]int
}

// Searcher performs the upstream evidence query for one source.
type Searcher interface {
	// Name identifies the source in fingerprints and request accounting.
	Name() string
	// Search returns matching sources and the number of upstream requests
	// the call issued.
	Search(ctx context.Context, query string, maxResults int) ([]Source, int, error)
}

// SearchersFromConfig builds the configured source clients in order. All
// clients share the limiter, so the rate window covers combined traffic.
func SearchersFromConfig(cfg config.Evidence, limiter Limiter) ([]Searcher, error) {
	searchers := make([]Searcher, 0, len(cfg.Sources))
	for _, name := range cfg.Sources {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "pubmed":
			searchers = append(searchers, NewPubMedClient(cfg, limiter))
		case "openalex":
			searchers = append(searchers, NewOpenAlexClient(cfg, limiter))
		default:
			return nil, services.Wrap(services.ErrConfiguration, "evidence", "sources",
				fmt.Sprintf("unknown evidence source %q", name), nil)
		}
	}
	if len(searchers) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "evidence", "sources",
			"no evidence sources configured", nil)
	}
	return searchers, nil
}

type cacheEntry struct {
	sources   []Source
	expiresAt time.Time
}

// Cache memoizes upstream evidence queries across the configured sources.
// Concurrent lookups for the same fingerprint collapse into a single fetch;
// unexpired entries are served without consuming rate budget. Failed fetches
// are never cached.
type Cache struct {
	searchers  []Searcher
	names      []string
	ttl        time.Duration
	maxResults int
	logger     *slog.Logger

	mu      sync.Mutex
	entries map[string]cacheEntry
	group   singleflight.Group

	now func() time.Time
}

// NewCache builds an evidence cache over the given searchers. Results from
// every searcher are merged, ordered by relevance, and truncated to
// maxResults before caching.
func NewCache(searchers []Searcher, ttl time.Duration, maxResults int, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = logging.NewNop()
	}
	names := make([]string, 0, len(searchers))
	for _, searcher := range searchers {
		names = append(names, searcher.Name())
	}
	return &Cache{
		searchers:  searchers,
		names:      names,
		ttl:        ttl,
		maxResults: maxResults,
		logger:     logger,
		entries:    make(map[string]cacheEntry),
		now:        time.Now,
	}
}

// Lookup returns evidence for the query, serving from cache when possible.
func (c *Cache) Lookup(ctx context.Context, query string) (Result, error) {
	fingerprint := Fingerprint(query, c.names, c.maxResults)

	if sources, ok := c.get(fingerprint); ok {
		return Result{Sources: sources, Cached: true}, nil
	}

	type fetchOutcome struct {
		sources  []Source
		requests map[string]int
	}
	// singleflight reports shared=true to the executing caller as well, so
	// a separate flag marks the one call that actually went upstream.
	leader := false
	value, err, _ := c.group.Do(fingerprint, func() (any, error) {
		leader = true
		// A waiter that lost the race to an earlier fetcher may land here
		// after the entry was written, so re-check before going upstream.
		if sources, ok := c.get(fingerprint); ok {
			return fetchOutcome{sources: sources}, nil
		}
		merged, requests, err := c.fetch(ctx, query)
		if err != nil {
			return fetchOutcome{requests: requests}, err
		}
		c.put(fingerprint, merged)
		return fetchOutcome{sources: merged, requests: requests}, nil
	})
	result := Result{}
	if outcome, ok := value.(fetchOutcome); ok {
		result.Sources = outcome.sources
		if leader {
			result.Requests = outcome.requests
		}
	}
	if err != nil {
		c.logger.Warn("evidence fetch failed",
			logging.String("fingerprint", fingerprint),
			logging.Error(err),
		)
		return result, err
	}
	return result, nil
}

// fetch queries every configured source in order. Any source failure fails
// the whole fetch; requests already issued are still reported for cost
// accounting by the caller that pays for them.
func (c *Cache) fetch(ctx context.Context, query string) ([]Source, map[string]int, error) {
	requests := make(map[string]int, len(c.searchers))
	var merged []Source
	for _, searcher := range c.searchers {
		sources, issued, err := searcher.Search(ctx, query, c.maxResults)
		requests[searcher.Name()] += issued
		if err != nil {
			return nil, requests, fmt.Errorf("%s search: %w", searcher.Name(), err)
		}
		merged = append(merged, sources...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].RelevanceScore > merged[j].RelevanceScore
	})
	if len(merged) > c.maxResults {
		merged = merged[:c.maxResults]
	}
	return merged, requests, nil
}

// Size reports the number of live entries, expired ones excluded.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	count := 0
	for _, entry := range c.entries {
		if now.Before(entry.expiresAt) {
			count++
		}
	}
	return count
}

func (c *Cache) get(fingerprint string) ([]Source, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[fingerprint]
	if !ok {
		return nil, false
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, fingerprint)
		return nil, false
	}
	return entry.sources, true
}

func (c *Cache) put(fingerprint string, sources []Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fingerprint] = cacheEntry{
		sources:   sources,
		expiresAt: c.now().Add(c.ttl),
	}
}
