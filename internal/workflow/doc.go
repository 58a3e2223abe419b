// Package workflow drives jobs through the six-stage transcription pipeline.
//
// The Manager runs a configurable number of workers. Each worker blocks on
// the durable queue, loads (or creates) the Job and Media Item named by the
// message, and advances the job stage by stage: metadata, validation,
// transcription, content-start detection, analysis and indexing. After every
// stage the job and media rows are persisted in one transaction and a
// progress event is published; only then does the next stage start.
//
// Jobs resume from the stage after their persisted current_stage, so a
// redelivered message never repeats completed work and a job never moves
// backwards. Operator cancellation is a flag checked between stages. A
// heartbeat is refreshed while a stage runs, and the Reclaimer fails running
// jobs whose heartbeat has expired because their worker died. Only the
// process holding the reclaimer file lock sweeps.
//
// The orchestrator is the only place that marks a job failed. Failed jobs
// are never retried automatically; the producer must submit a new job.
package workflow
