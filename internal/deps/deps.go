package deps

import (
	"os/exec"
	"strings"

	"scribe/internal/config"
)

// Requirement names an external binary and why it is needed.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status is a Requirement after PATH lookup. Command holds the resolved path
// when Available is true.
type Status struct {
	Requirement
	Available bool
	Detail    string
}

// Requirements lists the binaries the transcription tiers need for cfg.
func Requirements(cfg *config.Config) []Requirement {
	if cfg == nil {
		return nil
	}
	t := cfg.Transcription
	return []Requirement{
		{"yt-dlp", t.YtDlpBinary, "metadata, captions and audio download", false},
		{"FFmpeg", t.FFmpegBinary, "audio extraction for speech-to-text", false},
		{"FFprobe", t.FFprobeBinary, "duration probe for local files", true},
		{"uvx", "uvx", "WhisperX speech-to-text (tier 3)", false},
	}
}

// Check resolves a single requirement on PATH.
func Check(req Requirement) Status {
	req.Command = strings.TrimSpace(req.Command)
	req.Description = strings.TrimSpace(req.Description)
	st := Status{Requirement: req}
	if req.Command == "" {
		st.Detail = "command not configured"
		return st
	}
	path, err := exec.LookPath(req.Command)
	if err != nil {
		st.Detail = "binary " + req.Command + " not found on PATH"
		return st
	}
	st.Command, st.Available = path, true
	return st
}

// CheckBinaries runs Check over reqs, keeping their order.
func CheckBinaries(reqs []Requirement) []Status {
	out := make([]Status, len(reqs))
	for i, req := range reqs {
		out[i] = Check(req)
	}
	return out
}

// MissingRequired filters statuses down to unavailable, non-optional ones.
func MissingRequired(statuses []Status) []Status {
	var missing []Status
	for _, st := range statuses {
		if !st.Available && !st.Optional {
			missing = append(missing, st)
		}
	}
	return missing
}
