package evidence

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"clipcheck/internal/config"
	"clipcheck/internal/services"
)

func TestPubMedSearch(t *testing.T) {
	var esearchTerm string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "esearch"):
			esearchTerm = r.URL.Query().Get("term")
			w.Write([]byte(`{"esearchresult": {"idlist": ["11111", "22222"]}}`))
		case strings.Contains(r.URL.Path, "esummary"):
			if got := r.URL.Query().Get("id"); got != "11111,22222" {
				t.Errorf("esummary ids = %q", got)
			}
			w.Write([]byte(`{"result": {
				"11111": {"title": "Creatine and lean mass", "pubdate": "2021 Mar", "pubtype": ["Review"]},
				"22222": {"title": "", "pubdate": "2019", "elocationid": "doi: 10.1000/x"}
			}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewPubMedClient(config.Evidence{PubMed: config.EvidenceEndpoint{BaseURL: server.URL}, TimeoutSeconds: 5}, nil)
	sources, requests, err := client.Search(context.Background(), "creatine lean mass", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if requests != 2 {
		t.Errorf("requests = %d, want 2 (esearch + esummary)", requests)
	}
	if !strings.Contains(esearchTerm, "Humans[Mesh]") || !strings.Contains(esearchTerm, "english[lang]") {
		t.Errorf("term = %q, want human/english filters", esearchTerm)
	}
	if len(sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(sources))
	}
	if sources[0].Title != "Creatine and lean mass" || sources[0].URL != "https://pubmed.ncbi.nlm.nih.gov/11111/" {
		t.Errorf("first source = %+v", sources[0])
	}
	if sources[1].Title != "Untitled result" || sources[1].Snippet != "doi: 10.1000/x" {
		t.Errorf("second source = %+v", sources[1])
	}
}

func TestPubMedSearchNoMatches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "esearch") {
			t.Errorf("unexpected second request to %s", r.URL.Path)
		}
		w.Write([]byte(`{"esearchresult": {"idlist": []}}`))
	}))
	defer server.Close()

	client := NewPubMedClient(config.Evidence{PubMed: config.EvidenceEndpoint{BaseURL: server.URL}, TimeoutSeconds: 5}, nil)
	sources, requests, err := client.Search(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(sources) != 0 || requests != 1 {
		t.Errorf("sources = %d, requests = %d; want empty result from a single request", len(sources), requests)
	}
}

func TestPubMedServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewPubMedClient(config.Evidence{PubMed: config.EvidenceEndpoint{BaseURL: server.URL}, TimeoutSeconds: 5}, nil)
	_, _, err := client.Search(context.Background(), "q", 5)
	if err == nil {
		t.Fatal("expected error")
	}
	if !services.Retryable(err) {
		t.Errorf("503 should classify as retryable, got %v", err)
	}
}

func TestPubMedTooManyRequestsIsRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewPubMedClient(config.Evidence{PubMed: config.EvidenceEndpoint{BaseURL: server.URL}, TimeoutSeconds: 5}, nil)
	_, _, err := client.Search(context.Background(), "q", 5)
	if !errors.Is(err, services.ErrRateLimited) {
		t.Errorf("429 should tag ErrRateLimited, got %v", err)
	}
	if !services.Retryable(err) {
		t.Errorf("rate-limited error should stay retryable, got %v", err)
	}
}

func TestBuildQuery(t *testing.T) {
	if got := BuildQuery("  creatine  "); got != "(creatine) AND Humans[Mesh] AND english[lang]" {
		t.Errorf("BuildQuery = %q", got)
	}
	if got := BuildQuery("   "); got != "" {
		t.Errorf("BuildQuery empty = %q", got)
	}
}
