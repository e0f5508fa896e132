// Package router dispatches pipeline stage calls across ordered target
// chains. Each stage owns a chain of provider/model targets; a call retries
// the current target with exponential backoff for transient failures, then
// falls back to the next target, bounded by the configured fallback budget.
// Responses must pass the stage's JSON schema before a target counts as
// successful, and every attempt is reported through the telemetry emitter.
package router
