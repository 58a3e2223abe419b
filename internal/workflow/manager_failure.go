package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"scribe/internal/logging"
	"scribe/internal/progress"
	"scribe/internal/services"
	"scribe/internal/stage"
	"scribe/internal/store"
)

// failJob records stageErr on the job and media item, then publishes the
// terminal event. Persisting ignores shutdown so a failure is not lost.
func (m *Manager) failJob(ctx context.Context, stg pipelineStage, run *stage.Run, stageErr error) {
	job := run.Job
	message := failureMessage(stg.name, stageErr)
	details := services.Details(stageErr)

	now := time.Now().UTC()
	job.Status = store.StatusFailed
	job.ErrorMessage = message
	job.FailedStage = stg.name
	job.CompletedAt = &now
	job.HeartbeatAt = nil
	run.Media.Status = store.StatusFailed
	run.Media.ErrorMessage = message

	logger := logging.WithContext(ctx, m.logger)
	attrs := []logging.Attr{
		logging.String("error_message", message),
		logging.Alert("stage_failure"),
		logging.String(logging.FieldErrorKind, string(details.Kind)),
		logging.String("error_operation", details.Operation),
		logging.String(logging.FieldErrorHint, details.Hint),
		logging.Bool("retryable", services.Retryable(stageErr)),
	}
	if details.Cause != nil {
		attrs = append(attrs, logging.Error(details.Cause))
	} else {
		attrs = append(attrs, logging.Error(stageErr))
	}
	logging.ErrorWithContext(logger, "stage failed", "stage_failure", attrs...)

	m.persistFailure(context.WithoutCancel(ctx), logger, run)
	m.metrics.JobFinished(string(store.StatusFailed))
	m.setLastJob(job)
	m.setLastError(stageErr)
	m.publish(job, pipelineStage{number: stg.number, name: stg.name, percent: job.ProgressPercent},
		progress.StatusFailed, message)
}

// persistFailure saves the failed job and media item. When the media row is
// rejected the job is saved alone so the failure is still recorded.
func (m *Manager) persistFailure(ctx context.Context, logger *slog.Logger, run *stage.Run) {
	err := m.store.SaveProgress(ctx, run.Job, run.Media)
	if err == nil {
		return
	}
	if errors.Is(err, store.ErrJobTerminal) {
		logger.Info("job already terminal; failure not recorded", logging.Error(err))
		return
	}
	if jobErr := m.store.UpdateJob(ctx, run.Job); jobErr != nil {
		logging.ErrorWithContext(logger, "failed to persist stage failure", "job_persist_failed",
			logging.Error(jobErr),
			logging.String(logging.FieldErrorHint, "check database health; the reclaimer will fail the job once its heartbeat expires"),
		)
		return
	}
	logger.Warn("media row rejected; failure recorded on the job only",
		logging.Error(err),
		logging.String(logging.FieldEventType, "media_persist_failed"),
	)
}

// storageFailure classifies a storage error raised while driving stg. Rows
// the store rejects as inconsistent are validation failures; anything else is
// treated as transient.
func storageFailure(stg pipelineStage, operation string, err error) error {
	marker := services.ErrTransient
	if errors.Is(err, store.ErrInvalidTranscript) || errors.Is(err, store.ErrStageRegression) {
		marker = services.ErrValidation
	}
	return services.Wrap(marker, stg.name, operation, "storage write failed", err)
}

// failureMessage is the persisted error_message: the stage name followed by
// the failure detail. Cancellation keeps its operator-facing wording.
func failureMessage(stageName string, err error) string {
	if err == nil {
		return stageName + ": failed without error detail"
	}
	details := services.Details(err)
	message := strings.TrimSpace(details.Message)
	if message == "" {
		message = "failed"
	}
	if details.Kind == services.KindCancelled {
		return message
	}
	if strings.HasPrefix(message, stageName+":") {
		return message
	}
	return stageName + ": " + message
}
