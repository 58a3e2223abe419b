// Package metadata implements the first two pipeline stages.
//
// The metadata stage probes the media reference for duration, title and
// language: remote references through yt-dlp, local files through ffprobe.
// The validation stage enforces the configured duration window. A media item
// outside the window fails with services.ErrPolicy and is never retried
// automatically.
package metadata
