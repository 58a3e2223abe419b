package contentstart

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"scribe/internal/gateway"
	"scribe/internal/logging"
	"scribe/internal/services"
	"scribe/internal/services/llm"
	"scribe/internal/stage"
	"scribe/internal/transcript"
)

const (
	stageName      = "content_start"
	defaultHorizon = 900.0
	defaultMaxCues = 300
	minConfidence  = 0.5
)

// Completer is the JSON chat completion the detector needs.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Stage is the content-start detection stage handler.
type Stage struct {
	client  Completer
	gateway *gateway.Gateway
	horizon float64
	maxCues int
	logger  *slog.Logger
}

// NewStage builds the stage. A nil client disables detection and every item
// starts at zero.
func NewStage(client Completer, gw *gateway.Gateway, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stage{
		client:  client,
		gateway: gw,
		horizon: defaultHorizon,
		maxCues: defaultMaxCues,
		logger:  logger.With(logging.String(logging.FieldComponent, stageName)),
	}
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

// Execute records ContentStartSeconds on the media item.
func (s *Stage) Execute(ctx context.Context, run *stage.Run) error {
	logger := logging.WithContext(ctx, s.logger)
	item := run.Media
	if stage.Reusable(run, item.ContentStartSeconds != nil) {
		logger.Info("content start already recorded",
			logging.Args(logging.DecisionAttrs("content_start_reuse", "skip", "offset recorded and reprocess not requested")...)...)
		return nil
	}

	start, reason, err := s.detect(ctx, item.Title, item.TranscriptCuesJSON, item.DurationSeconds)
	if err != nil {
		if ctx.Err() != nil {
			return services.Wrap(services.ErrCancelled, stageName, "detect", "", ctx.Err())
		}
		logging.WarnWithContext(logger, "content start detection failed; using 0", "content_start_fallback",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check llm configuration and quota"),
			logging.String(logging.FieldImpact, "segments include any intro material"),
		)
		start, reason = 0, "detection failed"
	}
	item.ContentStartSeconds = &start
	logger.Info("content start decided",
		logging.Args(logging.DecisionAttrs("content_start", fmt.Sprintf("%.1f", start), reason)...)...)
	return nil
}

// detect returns the accepted start time and the reason for the decision.
// It errors only when the LLM call or its response fails.
func (s *Stage) detect(ctx context.Context, title, cuesJSON string, duration float64) (float64, string, error) {
	if s.client == nil {
		return 0, "llm disabled", nil
	}
	cues, err := transcript.DecodeCues(cuesJSON)
	if err != nil || len(cues) == 0 {
		return 0, "no cue timings", nil
	}

	prompt := buildPrompt(title, cues, s.horizon, s.maxCues)
	units := s.gateway.CountTokens(DetectionPrompt, prompt)
	raw, err := gateway.Call(ctx, s.gateway, stageName, units, func(ctx context.Context) (string, error) {
		return s.client.CompleteJSON(ctx, DetectionPrompt, prompt)
	})
	if err != nil {
		return 0, "", err
	}
	var decision Decision
	if err := llm.DecodeLLMJSON(raw, &decision); err != nil {
		return 0, "", err
	}
	return accept(decision, cues, duration)
}

// accept applies the acceptance rules and snaps the answer to the start of
// the cue that contains it.
func accept(d Decision, cues []transcript.Cue, duration float64) (float64, string, error) {
	if math.IsNaN(d.StartSeconds) || d.StartSeconds <= 0 {
		return 0, "content starts immediately", nil
	}
	if d.Confidence < minConfidence {
		return 0, fmt.Sprintf("low confidence %.2f", d.Confidence), nil
	}
	if duration > 0 && d.StartSeconds >= duration {
		return 0, "answer beyond end of media", nil
	}
	for _, cue := range cues {
		if cue.End > d.StartSeconds {
			reason := d.Reason
			if reason == "" {
				reason = "llm"
			}
			return math.Min(cue.Start, d.StartSeconds), reason, nil
		}
	}
	return 0, "answer beyond last cue", nil
}

func (s *Stage) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(stageName)
}
