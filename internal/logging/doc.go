// Package logging wraps log/slog with the conventions the daemon relies on:
// typed attribute helpers, standardized field names, and context-derived
// job/stage/correlation fields so every record emitted while processing a job
// can be traced back to it.
package logging
