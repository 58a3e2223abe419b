package metadata

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"

	langpkg "scribe/internal/language"
	"scribe/internal/logging"
	"scribe/internal/media"
	"scribe/internal/media/ffprobe"
	"scribe/internal/services"
	"scribe/internal/services/ytdlp"
	"scribe/internal/stage"
)

const probeStage = "metadata"

// Info is what a probe learns about a media reference.
type Info struct {
	Title           string
	DurationSeconds float64
	Language        string
}

// RemoteProber fetches metadata for a remote reference.
type RemoteProber interface {
	Probe(ctx context.Context, ref string) (ytdlp.Metadata, error)
}

// LocalProber inspects a file on disk.
type LocalProber func(ctx context.Context, path string) (ffprobe.Result, error)

// FFprobe returns a LocalProber using the given ffprobe binary.
func FFprobe(binary string) LocalProber {
	return func(ctx context.Context, path string) (ffprobe.Result, error) {
		return ffprobe.Inspect(ctx, binary, path)
	}
}

// ProbeStage is the metadata stage handler.
type ProbeStage struct {
	remote RemoteProber
	local  LocalProber
	logger *slog.Logger
}

// NewProbeStage builds the metadata stage.
func NewProbeStage(remote RemoteProber, local LocalProber, logger *slog.Logger) *ProbeStage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ProbeStage{
		remote: remote,
		local:  local,
		logger: logger.With(logging.String(logging.FieldComponent, probeStage)),
	}
}

func (s *ProbeStage) Prepare(_ context.Context, run *stage.Run) error {
	return stage.RequireMedia(run, probeStage)
}

// Execute fills duration, title and language on the media item. Title and
// language already set by the producer are kept.
func (s *ProbeStage) Execute(ctx context.Context, run *stage.Run) error {
	logger := logging.WithContext(ctx, s.logger)
	item := run.Media
	if stage.Reusable(run, item.DurationSeconds > 0) {
		logger.Info("metadata already known",
			logging.Args(logging.DecisionAttrs("metadata_reuse", "skip", "duration recorded and reprocess not requested")...)...)
		return nil
	}

	info, err := s.probe(ctx, item.ExternalRef)
	if err != nil {
		return err
	}
	if info.DurationSeconds <= 0 || math.IsNaN(info.DurationSeconds) {
		return services.Wrap(services.ErrValidation, probeStage, "probe", "media reports no duration", nil)
	}

	item.DurationSeconds = info.DurationSeconds
	if strings.TrimSpace(item.Title) == "" {
		item.Title = info.Title
	}
	if lang := langpkg.ToISO2(info.Language); lang != "" && item.Language == "" {
		item.Language = lang
	}
	logger.Info("media probed",
		logging.String("title", item.Title),
		logging.Duration("duration", secondsDuration(item.DurationSeconds)),
		logging.String("language", item.Language),
	)
	return nil
}

func (s *ProbeStage) probe(ctx context.Context, ref string) (Info, error) {
	if path := media.LocalPath(ref); path != "" {
		if s.local == nil {
			return Info{}, services.Wrap(services.ErrConfiguration, probeStage, "probe local", "ffprobe not configured", nil)
		}
		result, err := s.local(ctx, path)
		if err != nil {
			return Info{}, services.Wrap(services.ErrPolicy, probeStage, "probe local", "media file unreadable", err)
		}
		return Info{
			Title:           result.Title(),
			DurationSeconds: result.DurationSeconds(),
			Language:        result.AudioTags()["language"],
		}, nil
	}

	if s.remote == nil {
		return Info{}, services.Wrap(services.ErrConfiguration, probeStage, "probe remote", "yt-dlp not configured", nil)
	}
	meta, err := s.remote.Probe(ctx, ref)
	if err != nil {
		return Info{}, classifyProbeError(err)
	}
	return Info{Title: meta.Title, DurationSeconds: meta.Duration, Language: meta.Language}, nil
}

func classifyProbeError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, probeStage, "probe remote", "", err)
	}
	var cmdErr *ytdlp.CommandError
	if errors.As(err, &cmdErr) {
		switch cmdErr.Kind {
		case ytdlp.FailureUnavailable:
			return services.Wrap(services.ErrPolicy, probeStage, "probe remote", "media unavailable", err)
		case ytdlp.FailureTransient:
			return services.Wrap(services.ErrTransient, probeStage, "probe remote", "", err)
		}
	}
	return services.Wrap(services.ErrExternalTool, probeStage, "probe remote", "", err)
}

func (s *ProbeStage) HealthCheck(context.Context) stage.Health {
	if s.remote == nil && s.local == nil {
		return stage.Unhealthy(probeStage, "no prober configured")
	}
	return stage.Healthy(probeStage)
}
