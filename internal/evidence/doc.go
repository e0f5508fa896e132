// Package evidence fetches literature evidence for extracted claims. The
// cache deduplicates identical queries (single-flight, TTL-bounded) and the
// fixed-window limiter bounds total upstream request rate, so many concurrent
// jobs share one budget across the configured search services.
package evidence
