package whisperx

import "fmt"

// buildExtractArgs maps the first audio stream of source to a mono 16 kHz
// PCM WAV at dest.
func buildExtractArgs(source, dest string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-map", "0:a:0",
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", SampleRate),
		"-c:a", "pcm_s16le",
		dest,
	}
}

// SampleRate is the WAV sample rate WhisperX expects.
const SampleRate = 16000
