package evidence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clipcheck/internal/config"
)

type fakeSearcher struct {
	name     string
	calls    int32
	block    chan struct{}
	sources  []Source
	requests int
	err      error
}

func (s *fakeSearcher) Name() string {
	if s.name == "" {
		return "pubmed"
	}
	return s.name
}

func (s *fakeSearcher) Search(_ context.Context, query string, _ int) ([]Source, int, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.block != nil {
		<-s.block
	}
	requests := s.requests
	if requests == 0 {
		requests = 2
	}
	if s.err != nil {
		return nil, 1, s.err
	}
	return s.sources, requests, nil
}

func (s *fakeSearcher) callCount() int {
	return int(atomic.LoadInt32(&s.calls))
}

func totalRequests(result Result) int {
	total := 0
	for _, n := range result.Requests {
		total += n
	}
	return total
}

func configWithSources(names ...string) config.Evidence {
	cfg := config.Default().Evidence
	cfg.Sources = names
	return cfg
}

func searcherNames(searchers []Searcher) []string {
	names := make([]string, 0, len(searchers))
	for _, s := range searchers {
		names = append(names, s.Name())
	}
	return names
}

func TestLookupSingleFlight(t *testing.T) {
	searcher := &fakeSearcher{
		block:   make(chan struct{}),
		sources: []Source{{Title: "Trial", URL: "https://pubmed.ncbi.nlm.nih.gov/1/"}},
	}
	cache := NewCache([]Searcher{searcher}, time.Minute, 5, nil)

	const callers = 4
	var wg sync.WaitGroup
	results := make([]Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.Lookup(context.Background(), "creatine muscle mass")
		}(i)
	}

	// Give every caller time to join the flight before releasing the fetch.
	time.Sleep(50 * time.Millisecond)
	close(searcher.block)
	wg.Wait()

	if got := searcher.callCount(); got != 1 {
		t.Errorf("upstream calls = %d, want 1 for concurrent identical queries", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if len(results[i].Sources) != 1 || results[i].Sources[0].Title != "Trial" {
			t.Errorf("caller %d got %+v, want shared fetch result", i, results[i].Sources)
		}
	}

	// Exactly one caller pays for the fetch. The searcher issued two
	// upstream requests, so summing the reported counts across all callers
	// must account for both, however the flight was shared.
	total := 0
	reporters := 0
	for i := 0; i < callers; i++ {
		if n := totalRequests(results[i]); n > 0 {
			reporters++
			total += n
		}
	}
	if reporters != 1 {
		t.Errorf("%d callers reported upstream requests, want exactly 1", reporters)
	}
	if total != 2 {
		t.Errorf("summed upstream requests = %d, want 2", total)
	}
}

func TestLookupMergesSourcesByRelevance(t *testing.T) {
	pubmed := &fakeSearcher{
		name:     "pubmed",
		requests: 2,
		sources: []Source{
			{Title: "Trial", SourceType: "pubmed", RelevanceScore: 1.0},
		},
	}
	openalex := &fakeSearcher{
		name:     "openalex",
		requests: 1,
		sources: []Source{
			{Title: "Meta-analysis", SourceType: "openalex", RelevanceScore: 4.2},
			{Title: "Preprint", SourceType: "openalex", RelevanceScore: 0.3},
		},
	}
	cache := NewCache([]Searcher{pubmed, openalex}, time.Minute, 2, nil)

	result, err := cache.Lookup(context.Background(), "creatine")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(result.Sources) != 2 {
		t.Fatalf("sources = %d, want merged list truncated to 2", len(result.Sources))
	}
	if result.Sources[0].Title != "Meta-analysis" || result.Sources[1].Title != "Trial" {
		t.Errorf("merged order = %q, %q; want relevance-descending",
			result.Sources[0].Title, result.Sources[1].Title)
	}
	if result.Requests["pubmed"] != 2 || result.Requests["openalex"] != 1 {
		t.Errorf("requests = %v, want per-source counts", result.Requests)
	}
}

func TestLookupCacheHitAndExpiry(t *testing.T) {
	searcher := &fakeSearcher{sources: []Source{{Title: "A"}}}
	cache := NewCache([]Searcher{searcher}, time.Minute, 5, nil)

	current := time.Now()
	cache.now = func() time.Time { return current }

	first, err := cache.Lookup(context.Background(), "Vitamin D deficiency")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if first.Cached {
		t.Error("first lookup should miss")
	}
	if got := totalRequests(first); got != 2 {
		t.Errorf("first lookup upstream requests = %d, want 2", got)
	}

	// Same query with different casing and spacing hits the same entry.
	second, err := cache.Lookup(context.Background(), "  vitamin d   DEFICIENCY ")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !second.Cached {
		t.Error("second lookup should hit cache")
	}
	if got := totalRequests(second); got != 0 {
		t.Errorf("cache hit consumed %d upstream requests", got)
	}
	if searcher.callCount() != 1 {
		t.Errorf("upstream calls = %d, want 1", searcher.callCount())
	}

	current = current.Add(2 * time.Minute)
	third, err := cache.Lookup(context.Background(), "vitamin d deficiency")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if third.Cached {
		t.Error("expired entry should not serve")
	}
	if searcher.callCount() != 2 {
		t.Errorf("upstream calls = %d, want 2 after expiry", searcher.callCount())
	}
}

func TestLookupFailureNotCached(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("upstream down")}
	cache := NewCache([]Searcher{searcher}, time.Minute, 5, nil)

	if _, err := cache.Lookup(context.Background(), "q"); err == nil {
		t.Fatal("expected fetch error")
	}
	if cache.Size() != 0 {
		t.Error("failed fetch must not write a cache entry")
	}

	searcher.err = nil
	searcher.sources = []Source{{Title: "B"}}
	result, err := cache.Lookup(context.Background(), "q")
	if err != nil {
		t.Fatalf("Lookup after recovery: %v", err)
	}
	if result.Cached {
		t.Error("recovered lookup should have fetched fresh")
	}
	if searcher.callCount() != 2 {
		t.Errorf("upstream calls = %d, want 2", searcher.callCount())
	}
}

func TestSearchersFromConfig(t *testing.T) {
	searchers, err := SearchersFromConfig(configWithSources("openalex", "pubmed"), nil)
	if err != nil {
		t.Fatalf("SearchersFromConfig: %v", err)
	}
	if len(searchers) != 2 || searchers[0].Name() != "openalex" || searchers[1].Name() != "pubmed" {
		t.Errorf("searchers = %v, want configured order preserved", searcherNames(searchers))
	}

	if _, err := SearchersFromConfig(configWithSources("pubmed", "scholar"), nil); err == nil {
		t.Fatal("expected error for unknown source")
	}
	if _, err := SearchersFromConfig(configWithSources(), nil); err == nil {
		t.Fatal("expected error for empty source list")
	}
}

func TestFingerprintNormalization(t *testing.T) {
	a := Fingerprint("Créatine  Supplémentation", []string{"pubmed"}, 5)
	b := Fingerprint("creatine supplementation", []string{"pubmed"}, 5)
	if a != b {
		t.Errorf("fingerprints differ: %q vs %q", a, b)
	}
	if a == Fingerprint("creatine supplementation", []string{"pubmed"}, 10) {
		t.Error("max results must be part of the key")
	}
	if Fingerprint("q", []string{"b", "a"}, 5) != Fingerprint("q", []string{"a", "b"}, 5) {
		t.Error("source order must not affect the key")
	}
}
