package transcript

import (
	"log/slog"
	"time"

	"scribe/internal/config"
	"scribe/internal/metrics"
	"scribe/internal/services"
	"scribe/internal/services/transcriptapi"
	"scribe/internal/services/whisperx"
	"scribe/internal/services/ytdlp"
)

// FromConfig assembles the standard three-tier resolver. cache may be nil.
func FromConfig(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, cache Cache) (*Resolver, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "init", "configuration unavailable", nil)
	}
	t := cfg.Transcription
	yt := ytdlp.New(t.YtDlpBinary)

	var fetcher transcriptFetcher
	if t.APIBaseURL != "" {
		client, err := transcriptapi.New(transcriptapi.Config{BaseURL: t.APIBaseURL, APIKey: t.APIKey})
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, stageName, "init", "transcript api client", err)
		}
		fetcher = client
	}

	speech := whisperx.NewService(whisperx.Config{
		Model:        t.WhisperXModel,
		CUDAEnabled:  t.WhisperXCUDA,
		VADMethod:    t.WhisperXVADMethod,
		HFToken:      t.HFToken,
		FFmpegBinary: t.FFmpegBinary,
	})

	opts := []Option{
		WithLogger(logger),
		WithMetrics(m),
		WithRetry(RetryPolicy{
			Attempts:  t.RetryAttempts,
			BaseDelay: time.Duration(t.RetryBaseDelayMS) * time.Millisecond,
			MaxDelay:  time.Duration(t.RetryMaxDelayMS) * time.Millisecond,
		}),
	}
	if cache != nil {
		opts = append(opts, WithCache(cache))
	}
	return NewResolver([]Tier{
		NewCaptionTier(yt, t.IncludeAutoCaptions),
		NewAPITier(fetcher),
		NewSpeechTier(yt, speech),
	}, opts...), nil
}
