// Package transcript resolves a media reference into transcript text.
//
// Resolution walks three tiers in fixed order: platform captions fetched with
// yt-dlp, the official transcript API, and local speech-to-text through
// WhisperX. Each tier returns a tagged Outcome (success, miss, transient or
// fatal) and the Resolver drives fallthrough from those tags alone. Transient
// outcomes are retried inside the tier with exponential backoff before the
// resolver moves on. A fatal outcome that marks the source itself unusable
// stops resolution immediately; other fatal outcomes at the first two tiers
// fall through like a miss. The last tier's failure is terminal.
//
// The package also provides the WebVTT cue parser used by the caption tier
// and the transcription stage handler used by the orchestrator.
package transcript
