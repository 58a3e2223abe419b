// Package api holds the producer and query services shared by the daemon's
// HTTP handlers and the CLI, plus the wire-format types they return.
//
// # Producer
//
// Submit upserts the media item by external reference, creates a queued job
// and enqueues the pipeline message. Retry never touches the failed job; it
// submits a fresh job with reprocess set for the same media item. Cancel sets
// the cooperative cancellation flag the orchestrator checks between stages.
//
// # Queries
//
// Jobs, media items, hybrid search and assistant answers are exposed through
// Service. Internal store models are converted to DTOs (Job, Media) so the
// HTTP layer does not leak persistence details.
//
// # Design Notes
//
// DTOs use snake_case JSON tags, matching search results and progress events.
// Timestamps use RFC3339 with milliseconds in UTC. Transcript text is only
// included when explicitly requested because it can be very large.
package api
