package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"clipcheck/internal/services"
)

// fetchJSON issues one rate-limited GET against an evidence source and
// decodes the JSON body. Rate-limit responses and server errors are tagged
// for retry classification by the caller's policy.
func fetchJSON(ctx context.Context, httpClient *http.Client, limiter Limiter, source, op, endpoint string, target any) error {
	if limiter != nil {
		if err := limiter.Acquire(ctx); err != nil {
			return services.Wrap(services.ErrTimeout, "evidence", op, "rate limit wait canceled", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%s %s: new request: %w", source, op, err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "evidence", op, source+" request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return services.Wrap(services.ErrTransient, "evidence", op, "read "+source+" response", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return services.Wrap(services.ErrRateLimited, "evidence", op,
			fmt.Sprintf("%s http %d", source, resp.StatusCode), nil)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return services.Wrap(services.ErrTransient, "evidence", op,
			fmt.Sprintf("%s http %d", source, resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: http %d: %s", source, op, resp.StatusCode, snippetOf(string(body)))
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", source, op, err)
	}
	return nil
}

func snippetOf(body string) string {
	body = strings.Join(strings.Fields(body), " ")
	if len(body) > 200 {
		return body[:200] + "..."
	}
	return body
}
