package ytdlp

import (
	"fmt"
	"strings"
)

// FailureKind classifies a failed yt-dlp invocation.
type FailureKind string

const (
	// FailureUnavailable means the media cannot be fetched at all (removed,
	// private, geo-blocked, not a supported URL).
	FailureUnavailable FailureKind = "unavailable"
	// FailureTransient means retrying later may succeed (throttling, timeouts,
	// dropped connections).
	FailureTransient FailureKind = "transient"
	// FailureOther covers everything else.
	FailureOther FailureKind = "other"
)

var unavailableMarkers = []string{
	"video unavailable",
	"private video",
	"has been removed",
	"account associated with this video has been terminated",
	"members-only",
	"sign in to confirm your age",
	"not available in your country",
	"unsupported url",
	"is not a valid url",
	"http error 404",
	"http error 410",
}

var transientMarkers = []string{
	"http error 429",
	"too many requests",
	"timed out",
	"timeout",
	"connection reset",
	"temporary failure in name resolution",
	"http error 500",
	"http error 502",
	"http error 503",
	"http error 504",
	"unable to download webpage",
	"remote end closed connection",
}

// ClassifyStderr maps yt-dlp diagnostics to a FailureKind.
func ClassifyStderr(stderr string) FailureKind {
	lower := strings.ToLower(stderr)
	for _, marker := range unavailableMarkers {
		if strings.Contains(lower, marker) {
			return FailureUnavailable
		}
	}
	for _, marker := range transientMarkers {
		if strings.Contains(lower, marker) {
			return FailureTransient
		}
	}
	return FailureOther
}

// CommandError describes a failed yt-dlp run.
type CommandError struct {
	Op       string
	Kind     FailureKind
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	detail := lastLine(e.Stderr)
	if detail == "" && e.Err != nil {
		detail = e.Err.Error()
	}
	return fmt.Sprintf("yt-dlp %s (%s, exit %d): %s", e.Op, e.Kind, e.ExitCode, detail)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Throttled reports upstream rate limiting.
func (e *CommandError) Throttled() bool {
	lower := strings.ToLower(e.Stderr)
	return strings.Contains(lower, "http error 429") || strings.Contains(lower, "too many requests")
}

func lastLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
