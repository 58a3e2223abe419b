package indexer

import (
	"context"
	"log/slog"

	"scribe/internal/logging"
	"scribe/internal/services"
	"scribe/internal/stage"
)

// Stage is the indexing stage handler. It always supersedes the stored
// segments, reprocess or not.
type Stage struct {
	indexer *Indexer
	logger  *slog.Logger
}

// NewStage wraps an Indexer as a pipeline stage.
func NewStage(ix *Indexer, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stage{indexer: ix, logger: logger.With(logging.String(logging.FieldComponent, stageName))}
}

func (s *Stage) Prepare(_ context.Context, run *stage.Run) error {
	if err := stage.RequireMedia(run, stageName); err != nil {
		return err
	}
	if !run.Media.HasTranscript() {
		return services.Wrap(services.ErrValidation, stageName, "prepare", "media item has no transcript", nil)
	}
	return nil
}

func (s *Stage) Execute(ctx context.Context, run *stage.Run) error {
	count, err := s.indexer.Index(ctx, run.Media)
	if err != nil {
		return err
	}
	logging.WithContext(ctx, s.logger).Info("segments indexed",
		logging.Int("segments", count),
		logging.Int("window_words", s.indexer.windowWords),
	)
	return nil
}

func (s *Stage) HealthCheck(context.Context) stage.Health {
	if s.indexer == nil || s.indexer.embedder == nil {
		return stage.Unhealthy(stageName, "no embedder configured")
	}
	return stage.Healthy(stageName)
}
