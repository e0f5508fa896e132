// Package workflow runs the worker pool that drains the job queue. Delivery
// semantics are at-least-once: a worker claims a job under a visibility
// lease, runs the pipeline, and either completes the job with its result or
// fails it into the retry/dead-letter path.
package workflow
