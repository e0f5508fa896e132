// Package queue persists jobs in SQLite and exposes the lifecycle operations
// the worker relies on: atomic dequeue with a visibility lease, completion,
// failure with exponential-backoff redelivery, and dead-lettering once a
// job's retry budget is spent.
//
// Delivery is at-least-once: a worker that stops heartbeating loses its lease
// and the job becomes claimable again, so pipeline side effects must be safe
// to repeat for the same job id. Status transitions and attempt accounting
// are performed inside the claim predicate or a transaction so two workers
// can never both believe they hold the same job.
//
// The database is transient storage for in-flight jobs, not an archive.
// Schema changes bump the version in schema.go; users clear the database to
// adopt the new schema.
package queue
