// Package services holds the cross-cutting helpers the orchestration
// components share: the sentinel error taxonomy used to classify failures as
// retryable or terminal, and context annotation helpers that thread job,
// stage, and correlation identifiers through the call tree for logging.
package services
