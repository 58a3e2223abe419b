// Package gateway meters every outbound call to rate-limited services
// (embedding providers, the LLM, the transcript API) against a shared
// calls-per-minute and tokens-per-minute budget.
//
// A Window holds the ledger of admitted calls over the trailing minute.
// MemoryWindow serves a single process; SharedWindow keeps the ledger in the
// pipeline database so several worker processes draw from one budget. When a
// call does not fit, the gateway sleeps until the oldest blocking ledger
// entries age out and then admits it; calls are delayed, never dropped.
//
// Upstream throttling is signalled by errors implementing Throttled() bool,
// and repeatable failures (5xx, timeouts) by Transient() bool. Both are retried
// with capped exponential backoff, honouring RetryAfter() when present, and
// each retry reserves budget again. Clients wrapped by the gateway make one
// request per call and never retry on their own.
package gateway
