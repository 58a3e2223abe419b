package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"scribe/internal/logging"
	"scribe/internal/progress"
	"scribe/internal/queue"
	"scribe/internal/services"
	"scribe/internal/stage"
	"scribe/internal/store"
)

// Process runs one dequeued message to completion or failure. It returns an
// error only when the job could not be driven at all (storage failures,
// shutdown); stage failures are recorded on the job and return nil.
func (m *Manager) Process(ctx context.Context, msg queue.Message) error {
	ctx = services.WithJobID(services.WithMediaID(ctx, msg.MediaID), msg.JobID)
	logger := logging.WithContext(ctx, m.logger)

	job, media, err := m.loadRun(ctx, msg)
	if err != nil {
		logging.ErrorWithContext(logger, "failed to load job", "job_load_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the database and the queue message"),
		)
		return err
	}
	if job.Status.Terminal() {
		logger.Info("skipping terminal job",
			logging.String("status", string(job.Status)),
			logging.String(logging.FieldEventType, "job_skipped"),
		)
		return nil
	}

	if err := m.markRunning(ctx, job, media); err != nil {
		logging.ErrorWithContext(logger, "failed to mark job running", "job_start_failed", logging.Error(err))
		return err
	}
	m.setLastJob(job)

	run := &stage.Run{Job: job, Media: media, Reprocess: job.Reprocess || msg.Reprocess}
	for _, stg := range m.pipeline() {
		if stg.number <= job.CurrentStage {
			continue
		}
		if err := m.runStage(ctx, stg, run); err != nil {
			return err
		}
		if job.Status == store.StatusFailed {
			return nil
		}
	}
	return m.completeJob(ctx, run)
}

// loadRun fetches the job and media rows for msg, creating whichever is
// missing.
func (m *Manager) loadRun(ctx context.Context, msg queue.Message) (*store.Job, *store.MediaItem, error) {
	if err := msg.Validate(); err != nil {
		return nil, nil, services.Wrap(services.ErrValidation, "", "load job", "invalid queue message", err)
	}
	job, err := m.store.GetJob(ctx, msg.JobID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		job = nil
	case err != nil:
		return nil, nil, err
	}

	mediaID := msg.MediaID
	if job != nil {
		mediaID = job.MediaID
	}
	media, err := m.store.GetMedia(ctx, mediaID)
	if errors.Is(err, store.ErrNotFound) {
		if msg.ExternalRef == "" {
			return nil, nil, services.Wrap(services.ErrNotFound, "", "load media",
				fmt.Sprintf("media %d does not exist and the message carries no external_ref", mediaID), nil)
		}
		media, err = m.store.InsertMediaWithID(ctx, mediaID, msg.ExternalRef)
	}
	if err != nil {
		return nil, nil, err
	}

	if job == nil {
		job = &store.Job{ID: msg.JobID, MediaID: media.ID, Reprocess: msg.Reprocess}
		if err := m.store.CreateJob(ctx, job); err != nil {
			return nil, nil, err
		}
		m.logger.Info("created job from queue message",
			logging.String(logging.FieldJobID, job.ID),
			logging.Int64(logging.FieldMediaID, media.ID),
			logging.String(logging.FieldEventType, "job_created"),
		)
	}
	return job, media, nil
}

func (m *Manager) markRunning(ctx context.Context, job *store.Job, media *store.MediaItem) error {
	now := time.Now().UTC()
	job.Status = store.StatusRunning
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	job.HeartbeatAt = &now
	job.ErrorMessage = ""
	job.FailedStage = ""
	media.Status = store.StatusRunning
	media.ErrorMessage = ""
	return m.store.SaveProgress(ctx, job, media)
}

func (m *Manager) runStage(ctx context.Context, stg pipelineStage, run *stage.Run) error {
	job := run.Job
	stageCtx := services.WithStage(ctx, stg.name)
	logger := logging.WithContext(stageCtx, m.logger)

	cancelled, err := m.store.CancelRequested(stageCtx, job.ID)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		m.failJob(stageCtx, stg, run, storageFailure(stg, "read cancel flag", err))
		return nil
	}
	if cancelled {
		m.failJob(stageCtx, stg, run, services.Wrap(services.ErrCancelled, stg.name, "",
			"cancelled by operator before "+stg.name, nil))
		return nil
	}

	started := time.Now()
	logger.Info("stage started",
		logging.Int("stage_number", stg.number),
		logging.String(logging.FieldEventType, "stage_start"),
	)

	execErr := stg.handler.Prepare(stageCtx, run)
	if execErr == nil {
		execErr = m.executeWithHeartbeat(stageCtx, stg.handler, run)
	}
	if execErr != nil {
		if errors.Is(execErr, context.Canceled) && ctx.Err() != nil {
			logger.Debug("stage interrupted by shutdown")
			return execErr
		}
		m.metrics.StageFinished(stg.name, time.Since(started), string(services.Classify(execErr)))
		m.failJob(stageCtx, stg, run, execErr)
		return nil
	}

	now := time.Now().UTC()
	prevStage, prevPercent := job.CurrentStage, job.ProgressPercent
	job.CurrentStage = stg.number
	job.ProgressPercent = stg.percent
	job.HeartbeatAt = &now
	if err := m.store.SaveProgress(stageCtx, job, run.Media); err != nil {
		job.CurrentStage, job.ProgressPercent = prevStage, prevPercent
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return err
		}
		m.metrics.StageFinished(stg.name, time.Since(started), string(services.KindTransient))
		m.failJob(stageCtx, stg, run, storageFailure(stg, "persist result", err))
		return nil
	}
	m.metrics.StageFinished(stg.name, time.Since(started), "")
	m.setLastJob(job)
	m.publish(job, stg, progress.StatusRunning, "")
	logger.Info("stage completed",
		logging.Int("percent", stg.percent),
		logging.Duration("stage_duration", time.Since(started)),
		logging.String(logging.FieldEventType, "stage_complete"),
	)
	return nil
}

func (m *Manager) executeWithHeartbeat(ctx context.Context, handler stage.Handler, run *stage.Run) error {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, run.Job.ID)

	err := handler.Execute(ctx, run)
	hbCancel()
	hbWG.Wait()
	return err
}

func (m *Manager) completeJob(ctx context.Context, run *stage.Run) error {
	job := run.Job
	now := time.Now().UTC()
	job.Status = store.StatusCompleted
	job.ProgressPercent = 100
	job.CompletedAt = &now
	job.HeartbeatAt = nil
	run.Media.Status = store.StatusCompleted
	run.Media.ErrorMessage = ""

	logger := logging.WithContext(ctx, m.logger)
	if err := m.store.SaveProgress(ctx, job, run.Media); err != nil {
		logging.ErrorWithContext(logger, "failed to persist job completion", "job_persist_failed", logging.Error(err))
		return err
	}
	m.metrics.JobFinished(string(store.StatusCompleted))
	m.setLastJob(job)
	m.publish(job, pipelineStage{number: StageCount, name: StageName(StageCount), percent: 100}, progress.StatusCompleted, "")
	logger.Info("job completed",
		logging.String("transcript_source", string(run.Media.TranscriptSource)),
		logging.String(logging.FieldEventType, "job_complete"),
	)
	return nil
}

func (m *Manager) publish(job *store.Job, stg pipelineStage, status, detail string) {
	m.publisher.Publish(progress.Event{
		JobID:     job.ID,
		MediaID:   job.MediaID,
		Stage:     stg.number,
		StageName: stg.name,
		Percent:   stg.percent,
		Status:    status,
		Detail:    detail,
	})
}
