package transcript

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"scribe/internal/media"
	"scribe/internal/services/transcriptapi"
	"scribe/internal/services/whisperx"
	"scribe/internal/services/ytdlp"
	"scribe/internal/store"
)

// Request describes the media a tier should transcribe.
type Request struct {
	Ref       string
	Languages []string
	// WorkDir is a scratch directory owned by this request.
	WorkDir string
}

// Tier is one ordered strategy for obtaining a transcript.
type Tier interface {
	Source() store.TranscriptSource
	Name() string
	Attempt(ctx context.Context, req Request) Outcome
}

type captionDownloader interface {
	DownloadCaptions(ctx context.Context, req ytdlp.CaptionRequest) (ytdlp.CaptionFile, error)
}

// CaptionTier fetches platform-native captions.
type CaptionTier struct {
	downloader  captionDownloader
	includeAuto bool
}

// NewCaptionTier builds tier 1 over a yt-dlp downloader.
func NewCaptionTier(downloader captionDownloader, includeAuto bool) *CaptionTier {
	return &CaptionTier{downloader: downloader, includeAuto: includeAuto}
}

func (t *CaptionTier) Source() store.TranscriptSource { return store.SourceTier1 }
func (t *CaptionTier) Name() string                   { return "captions" }

// Attempt downloads and parses captions.
func (t *CaptionTier) Attempt(ctx context.Context, req Request) Outcome {
	if media.IsLocal(req.Ref) {
		return Miss("local file has no platform captions")
	}
	if t.downloader == nil {
		return Miss("tier disabled")
	}
	file, err := t.downloader.DownloadCaptions(ctx, ytdlp.CaptionRequest{
		Ref:         req.Ref,
		Languages:   req.Languages,
		IncludeAuto: t.includeAuto,
		OutputDir:   filepath.Join(req.WorkDir, "captions"),
	})
	if err != nil {
		if errors.Is(err, ytdlp.ErrNoCaptions) {
			return Miss("no captions in requested languages")
		}
		return outcomeForCommand(err)
	}
	handle, err := os.Open(file.Path)
	if err != nil {
		return Fatal(fmt.Errorf("open captions: %w", err), false)
	}
	defer handle.Close()
	cues, err := ParseVTT(handle)
	if err != nil {
		return Fatal(err, false)
	}
	if JoinCues(cues) == "" {
		return Miss("caption file has no text")
	}
	return Success(cues, file.Language)
}

// outcomeForCommand maps a yt-dlp failure onto an Outcome.
func outcomeForCommand(err error) Outcome {
	var cmdErr *ytdlp.CommandError
	if errors.As(err, &cmdErr) {
		switch cmdErr.Kind {
		case ytdlp.FailureUnavailable:
			return Fatal(err, true)
		case ytdlp.FailureTransient:
			return Transient(err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(err)
	}
	return Fatal(err, false)
}

type transcriptFetcher interface {
	Fetch(ctx context.Context, ref string, langs []string) (transcriptapi.Transcript, error)
}

// APITier asks the official transcript service.
type APITier struct {
	client transcriptFetcher
}

// NewAPITier builds tier 2. A nil client disables the tier.
func NewAPITier(client transcriptFetcher) *APITier {
	return &APITier{client: client}
}

func (t *APITier) Source() store.TranscriptSource { return store.SourceTier2 }
func (t *APITier) Name() string                   { return "transcript_api" }

// Attempt fetches a transcript from the API.
func (t *APITier) Attempt(ctx context.Context, req Request) Outcome {
	if t.client == nil {
		return Miss("tier disabled")
	}
	if media.IsLocal(req.Ref) {
		return Miss("local file is unknown to the transcript service")
	}
	result, err := t.client.Fetch(ctx, req.Ref, req.Languages)
	switch {
	case err == nil:
		cues := make([]Cue, 0, len(result.Cues))
		for _, cue := range result.Cues {
			cues = append(cues, Cue{Start: cue.Start, End: cue.End, Text: normalizeSpace(cue.Text)})
		}
		return Success(cues, result.Language)
	case errors.Is(err, transcriptapi.ErrNoTranscript):
		return Miss("transcript service has no transcript")
	case errors.Is(err, transcriptapi.ErrMediaGone):
		return Fatal(err, true)
	case transcriptapi.IsRetriable(err):
		return Transient(err)
	default:
		return Fatal(err, false)
	}
}

type audioDownloader interface {
	DownloadAudio(ctx context.Context, ref, outputDir string) (string, error)
}

type speechEngine interface {
	ExtractAudio(ctx context.Context, source, dest string) error
	TranscribeFile(ctx context.Context, source, outputDir, language string) (whisperx.Result, error)
}

// SpeechTier runs local speech-to-text.
type SpeechTier struct {
	downloader audioDownloader
	engine     speechEngine
}

// NewSpeechTier builds tier 3.
func NewSpeechTier(downloader audioDownloader, engine speechEngine) *SpeechTier {
	return &SpeechTier{downloader: downloader, engine: engine}
}

func (t *SpeechTier) Source() store.TranscriptSource { return store.SourceTier3 }
func (t *SpeechTier) Name() string                   { return "speech_to_text" }

// Attempt downloads audio when needed, extracts a 16 kHz mono WAV and runs
// WhisperX over it.
func (t *SpeechTier) Attempt(ctx context.Context, req Request) Outcome {
	if t.engine == nil {
		return Fatal(errors.New("speech-to-text engine not configured"), false)
	}
	dir := filepath.Join(req.WorkDir, "speech")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Fatal(fmt.Errorf("prepare work dir: %w", err), false)
	}

	source := media.LocalPath(req.Ref)
	if source != "" {
		if _, err := os.Stat(source); err != nil {
			return Fatal(fmt.Errorf("local media: %w", err), true)
		}
	} else {
		if t.downloader == nil {
			return Fatal(errors.New("audio downloader not configured"), false)
		}
		path, err := t.downloader.DownloadAudio(ctx, req.Ref, dir)
		if err != nil {
			outcome := outcomeForCommand(err)
			if outcome.Kind == KindFatal {
				// A source we cannot download cannot be transcribed by any tier.
				outcome.Unusable = true
			}
			return outcome
		}
		source = path
	}

	wav := filepath.Join(dir, "audio.wav")
	if err := t.engine.ExtractAudio(ctx, source, wav); err != nil {
		return Fatal(err, true)
	}
	language := ""
	if len(req.Languages) == 1 {
		language = req.Languages[0]
	}
	result, err := t.engine.TranscribeFile(ctx, wav, dir, language)
	if err != nil {
		return Fatal(err, false)
	}
	cues := make([]Cue, 0, len(result.Segments))
	for _, seg := range result.Segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			cues = append(cues, Cue{Start: seg.Start, End: seg.End, Text: normalizeSpace(text)})
		}
	}
	if len(cues) == 0 {
		return Fatal(errors.New("speech-to-text produced no text"), false)
	}
	return Success(cues, result.Language)
}
