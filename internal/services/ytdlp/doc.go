// Package ytdlp wraps the yt-dlp command line tool.
//
// It covers the three things the pipeline needs from a remote media URL:
// a metadata probe (title, duration, available caption languages), a caption
// download in WebVTT form, and a best-audio download for local speech-to-text.
// Failures are returned as *CommandError with a FailureKind derived from
// yt-dlp's stderr, so callers can tell unavailable media from transient
// network trouble without parsing text themselves.
package ytdlp
