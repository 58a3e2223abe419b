package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"scribe/internal/config"
	"scribe/internal/logging"
	"scribe/internal/services"
	"scribe/internal/stage"
)

const validationStage = "validation"

// Window bounds an acceptable duration in seconds. Zero means unbounded.
type Window struct {
	MinSeconds float64
	MaxSeconds float64
}

// WindowFromConfig reads the validation section.
func WindowFromConfig(cfg *config.Config) Window {
	if cfg == nil {
		return Window{}
	}
	return Window{
		MinSeconds: float64(cfg.Validation.MinDurationSeconds),
		MaxSeconds: float64(cfg.Validation.MaxDurationSeconds),
	}
}

// Check returns a policy error when duration falls outside the window.
func (w Window) Check(duration float64) error {
	if duration <= 0 {
		return services.Wrap(services.ErrValidation, validationStage, "check duration", "duration unknown", nil)
	}
	if w.MinSeconds > 0 && duration < w.MinSeconds {
		return services.Wrap(services.ErrPolicy, validationStage, "check duration",
			fmt.Sprintf("duration %s below minimum %s", secondsDuration(duration), secondsDuration(w.MinSeconds)), nil)
	}
	if w.MaxSeconds > 0 && duration > w.MaxSeconds {
		return services.Wrap(services.ErrPolicy, validationStage, "check duration",
			fmt.Sprintf("duration %s above maximum %s", secondsDuration(duration), secondsDuration(w.MaxSeconds)), nil)
	}
	return nil
}

// ValidationStage enforces the duration window. It has no side effects and
// always runs.
type ValidationStage struct {
	window Window
	logger *slog.Logger
}

// NewValidationStage builds the validation stage.
func NewValidationStage(window Window, logger *slog.Logger) *ValidationStage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ValidationStage{window: window, logger: logger.With(logging.String(logging.FieldComponent, validationStage))}
}

func (s *ValidationStage) Prepare(_ context.Context, run *stage.Run) error {
	return stage.RequireMedia(run, validationStage)
}

func (s *ValidationStage) Execute(ctx context.Context, run *stage.Run) error {
	if err := s.window.Check(run.Media.DurationSeconds); err != nil {
		logging.WithContext(ctx, s.logger).Info("duration rejected",
			logging.Args(logging.DecisionAttrs("duration_window", "reject", err.Error())...)...)
		return err
	}
	return nil
}

func (s *ValidationStage) HealthCheck(context.Context) stage.Health {
	if s.window.MaxSeconds > 0 && s.window.MinSeconds > s.window.MaxSeconds {
		return stage.Unhealthy(validationStage, "minimum duration exceeds maximum")
	}
	return stage.Healthy(validationStage)
}

func secondsDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second)).Round(time.Second)
}
