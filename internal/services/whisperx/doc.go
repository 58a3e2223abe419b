// Package whisperx runs local speech-to-text for the last transcription tier.
//
// The flow is: extract a mono 16 kHz WAV from the media with ffmpeg, run
// WhisperX through uvx, then read its JSON output into timed segments. The
// package does not decide what a failure means for the pipeline; callers map
// extraction and transcription errors onto resolver outcomes.
package whisperx
