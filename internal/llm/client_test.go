package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clipcheck/internal/config"
	"clipcheck/internal/router"
)

func TestCallReturnsContentAndUsage(t *testing.T) {
	var gotAuth, gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotModel, _ = req["model"].(string)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{"message": {"content": "{\"verdict\": \"supported\"}"}}],
			"usage": {"prompt_tokens": 42, "completion_tokens": 17}
		}`))
	}))
	defer server.Close()

	client := NewClient(config.LLM{TimeoutSeconds: 5})
	resp, err := client.Call(context.Background(), router.Target{
		Name:    "openai/gpt-4o-mini",
		Model:   "openai/gpt-4o-mini",
		BaseURL: server.URL,
		APIKey:  "test-key",
	}, router.Payload{SystemPrompt: "sys", UserPrompt: "user"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotModel != "openai/gpt-4o-mini" {
		t.Errorf("model = %q", gotModel)
	}
	if resp.Content != `{"verdict": "supported"}` {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage.PromptTokens != 42 || resp.Usage.CompletionTokens != 17 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestCallStatusErrorCarriesRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": "slow down"}`))
	}))
	defer server.Close()

	client := NewClient(config.LLM{TimeoutSeconds: 5})
	_, err := client.Call(context.Background(), router.Target{BaseURL: server.URL}, router.Payload{UserPrompt: "x"})
	var statusErr *router.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if statusErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d", statusErr.StatusCode)
	}
	if statusErr.RetryAfter != 7*time.Second {
		t.Errorf("retry after = %s, want 7s", statusErr.RetryAfter)
	}
}

func TestCallEmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": [{"message": {"content": ""}}]}`))
	}))
	defer server.Close()

	client := NewClient(config.LLM{TimeoutSeconds: 5})
	_, err := client.Call(context.Background(), router.Target{Name: "t", BaseURL: server.URL}, router.Payload{UserPrompt: "x"})
	var emptyErr *router.EmptyResponseError
	if !errors.As(err, &emptyErr) {
		t.Fatalf("err = %v, want EmptyResponseError", err)
	}
}

func TestCallToleratesDeltaAndTextVariants(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"delta", `{"choices": [{"delta": {"content": "[]"}}]}`},
		{"text", `{"choices": [{"text": "[]"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client := NewClient(config.LLM{TimeoutSeconds: 5})
			resp, err := client.Call(context.Background(), router.Target{BaseURL: server.URL}, router.Payload{UserPrompt: "x"})
			if err != nil {
				t.Fatalf("Call: %v", err)
			}
			if resp.Content != "[]" {
				t.Errorf("content = %q", resp.Content)
			}
		})
	}
}
