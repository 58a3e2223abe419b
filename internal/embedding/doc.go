// Package embedding turns transcript text into fixed-width vectors.
//
// Providers wrap a concrete API: OpenAI through openai-go, and Ollama or any
// OpenAI-compatible server through langchaingo. Metered sits in front of a
// provider, routes every call through the rate-limited gateway and checks
// that each returned vector has the configured dimensionality.
package embedding
