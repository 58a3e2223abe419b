// Package llm provides a chat-completion client for OpenAI-compatible
// endpoints (OpenRouter by default), built on openai-go.
//
// It is used by the content-start detection and analysis stages, which ask
// for JSON replies, and by the assistant, which asks for free text.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.Complete: free-text reply.
// Client.CompleteJSON / CompleteJSONInto: JSON-only replies, tolerant of code
// fences and surrounding prose.
// Client.HealthCheck: verify the API key and that the model is listed.
//
// # Retry Behaviour
//
// The client never retries and the SDK's own retries are disabled. Each call
// is one provider request, so the rate-limited gateway wrapping it can charge
// every attempt against the budget. Errors report Throttled (429) or
// Transient (408, 5xx, timeouts, empty completions) for the gateway to act on.
package llm
