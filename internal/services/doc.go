// Package services defines shared utilities consumed by the pipeline stage
// handlers and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, media IDs, stage names, worker names
//     and correlation identifiers for logging.
//   - Structured error markers plus the Wrap and Details helpers that let the
//     orchestrator record a consistent failure reason on the job.
//
// Components return errors wrapped with one of the markers; only the workflow
// orchestrator turns them into a failed job. Policy violations (ErrPolicy) are
// never retried, transient markers are retried inside the component that owns
// the call.
package services
