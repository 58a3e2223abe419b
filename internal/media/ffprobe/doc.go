// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// The metadata stage uses it to learn the duration, title and audio language
// of local media files. Inspect runs the binary; Parse decodes captured
// output.
package ffprobe
