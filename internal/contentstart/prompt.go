package contentstart

import (
	"fmt"
	"strings"

	"scribe/internal/transcript"
)

// DetectionPrompt is the system prompt for content-start detection.
const DetectionPrompt = `You locate where the main content of a recorded talk, lecture or video begins.

You receive the opening lines of its transcript, one per line, each prefixed with its start time in seconds.
Intros, channel promotion, sponsor messages, music and housekeeping are NOT main content.
If the main content starts immediately, answer 0.

Respond ONLY with JSON: {"content_start_seconds": number, "confidence": 0.0-1.0, "reason": "brief reason"}`

// Decision is the parsed LLM response.
type Decision struct {
	StartSeconds float64 `json:"content_start_seconds"`
	Confidence   float64 `json:"confidence"`
	Reason       string  `json:"reason"`
}

// buildPrompt lists cues that start within the first horizon seconds, up to
// maxCues lines.
func buildPrompt(title string, cues []transcript.Cue, horizon float64, maxCues int) string {
	var b strings.Builder
	if title = strings.TrimSpace(title); title != "" {
		b.WriteString("Title: " + title + "\n\n")
	}
	for i, cue := range cues {
		if i >= maxCues || cue.Start > horizon {
			break
		}
		fmt.Fprintf(&b, "[%.1f] %s\n", cue.Start, cue.Text)
	}
	return b.String()
}
