package router

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"clipcheck/internal/services"
)

// StatusError is returned by callers when the provider responds with a
// non-success HTTP status.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// EmptyResponseError is returned when the provider answers successfully but
// the response carries no usable content.
type EmptyResponseError struct {
	Target  string
	Snippet string
}

func (e *EmptyResponseError) Error() string {
	return fmt.Sprintf("%s: empty response content (snippet: %s)", e.Target, e.Snippet)
}

// SchemaError marks a response that parsed but failed validation against the
// stage's response schema.
type SchemaError struct {
	Stage Stage
	Err   error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s response failed schema validation: %v", e.Stage, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// StageError is the terminal result of a chain that produced no success.
type StageError struct {
	Stage    Stage
	Attempts int
	LastErr  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s exhausted after %d attempts: %v", e.Stage, e.Attempts, e.LastErr)
}

func (e *StageError) Unwrap() error { return e.LastErr }

// Policy decides which outcomes count as retryable. It is explicit,
// constructed configuration rather than branches scattered through the retry
// loop, so deployments can widen or narrow the transient class.
type Policy struct {
	RetryableStatuses map[int]struct{}
	// RetrySchemaFailures controls whether a response failing schema
	// validation retries the target before the chain advances.
	RetrySchemaFailures bool
}

// DefaultPolicy treats rate limiting, server errors, timeouts, empty bodies,
// and schema-invalid responses as retryable.
func DefaultPolicy() Policy {
	return Policy{
		RetryableStatuses: map[int]struct{}{
			http.StatusRequestTimeout:      {},
			http.StatusTooManyRequests:     {},
			http.StatusInternalServerError: {},
			http.StatusBadGateway:          {},
			http.StatusServiceUnavailable:  {},
			http.StatusGatewayTimeout:      {},
		},
		RetrySchemaFailures: true,
	}
}

// Retryable classifies an attempt error. Context cancellation from the
// caller's own deadline is not retryable; a per-attempt timeout surfaces as a
// net.Error or StatusError instead.
func (p Policy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		_, ok := p.RetryableStatuses[statusErr.StatusCode]
		return ok
	}

	var emptyErr *EmptyResponseError
	if errors.As(err, &emptyErr) {
		return true
	}

	var schemaErr *SchemaError
	if errors.As(err, &schemaErr) {
		return p.RetrySchemaFailures
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return services.Retryable(err)
}
