package transcript

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	langpkg "scribe/internal/language"
	"scribe/internal/logging"
	"scribe/internal/services"
	"scribe/internal/stage"
)

// Stage is the transcription stage handler.
type Stage struct {
	resolver  *Resolver
	workDir   string
	languages []string
	logger    *slog.Logger
}

// NewStage wires the resolver into the pipeline. workDir receives one scratch
// directory per job, removed when the stage returns.
func NewStage(resolver *Resolver, workDir string, languages []string, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stage{
		resolver:  resolver,
		workDir:   workDir,
		languages: langpkg.NormalizeList(languages),
		logger:    logger.With(logging.String(logging.FieldComponent, "transcription")),
	}
}

// Prepare checks the run carries media state.
func (s *Stage) Prepare(_ context.Context, run *stage.Run) error {
	return stage.RequireMedia(run, stageName)
}

// Execute resolves the transcript and records it with its provenance.
func (s *Stage) Execute(ctx context.Context, run *stage.Run) error {
	logger := logging.WithContext(ctx, s.logger)
	if stage.Reusable(run, run.Media.HasTranscript()) {
		logger.Info("transcript already stored",
			logging.Args(logging.DecisionAttrs("transcription_reuse", "skip", "transcript present and reprocess not requested")...)...)
		return nil
	}

	languages := s.languages
	if lang := langpkg.ToISO2(run.Media.Language); lang != "" {
		languages = langpkg.NormalizeList(append([]string{lang}, languages...))
	}
	dir := filepath.Join(s.workDir, run.Job.ID)
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Debug("scratch cleanup failed", logging.String("dir", dir), logging.Error(err))
		}
	}()

	result, err := s.resolver.Resolve(ctx, Request{Ref: run.Media.ExternalRef, Languages: languages, WorkDir: dir}, run.Reprocess)
	if err != nil {
		return err
	}
	cuesJSON, err := EncodeCues(result.Cues)
	if err != nil {
		return services.Wrap(services.ErrValidation, stageName, "encode cues", "", err)
	}
	if err := run.Media.SetTranscript(result.Text, cuesJSON, result.Source); err != nil {
		return services.Wrap(services.ErrValidation, stageName, "record transcript", "", err)
	}
	if lang := langpkg.ToISO2(result.Language); lang != "" {
		run.Media.Language = lang
	}
	return nil
}

// HealthCheck reports whether any tier is configured.
func (s *Stage) HealthCheck(context.Context) stage.Health {
	if s.resolver == nil || len(s.resolver.Tiers()) == 0 {
		return stage.Unhealthy(stageName, "no transcription tiers configured")
	}
	return stage.Healthy(stageName)
}
