package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"

	"scribe/internal/logging"
	"scribe/internal/metrics"
	"scribe/internal/progress"
	"scribe/internal/store"
)

// ReclaimDetail is the error message recorded on jobs failed by the reclaimer.
const ReclaimDetail = "worker heartbeat expired"

// Reclaimer fails running jobs whose worker stopped sending heartbeats.
// Several processes may share one database; only the holder of the lock file
// sweeps.
type Reclaimer struct {
	store     *store.Store
	lock      *flock.Flock
	timeout   time.Duration
	interval  time.Duration
	publisher progress.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewReclaimer builds a reclaimer. lockPath is typically
// <data_dir>/reclaimer.lock.
func NewReclaimer(st *store.Store, lockPath string, timeout, interval time.Duration, pub progress.Publisher, logger *slog.Logger, m *metrics.Metrics) *Reclaimer {
	if logger == nil {
		logger = logging.NewNop()
	}
	if pub == nil {
		pub = progress.Discard
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reclaimer{
		store:     st,
		lock:      flock.New(lockPath),
		timeout:   timeout,
		interval:  interval,
		publisher: pub,
		logger:    logger.With(logging.String(logging.FieldComponent, "workflow-reclaimer")),
		metrics:   m,
		now:       time.Now,
	}
}

// Run sweeps every interval until ctx ends, then releases the lock.
func (r *Reclaimer) Run(ctx context.Context) {
	if r.timeout <= 0 {
		r.logger.Info("heartbeat reclaim disabled")
		return
	}
	defer func() {
		if err := r.lock.Unlock(); err != nil {
			r.logger.Debug("reclaimer unlock failed", logging.Error(err))
		}
	}()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(r.logger, "reclaim sweep failed", "heartbeat_reclaim_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check database access"),
				logging.String(logging.FieldImpact, "abandoned jobs stay running until the next sweep"),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep fails stale running jobs when this process holds the reclaimer lock.
// It returns the number of jobs reclaimed.
func (r *Reclaimer) Sweep(ctx context.Context) (int, error) {
	if r.timeout <= 0 {
		return 0, nil
	}
	leader, err := r.lock.TryLock()
	if err != nil {
		return 0, fmt.Errorf("acquire reclaimer lock: %w", err)
	}
	if !leader {
		return 0, nil
	}

	stale, err := r.store.StaleRunningJobs(ctx, r.now().Add(-r.timeout))
	if err != nil {
		return 0, err
	}
	reclaimed := 0
	for _, job := range stale {
		if err := r.reclaim(ctx, job); err != nil {
			if errors.Is(err, store.ErrJobTerminal) {
				continue
			}
			return reclaimed, err
		}
		reclaimed++
	}
	if reclaimed > 0 {
		r.metrics.Reclaimed(reclaimed)
		r.logger.Info("reclaimed stale jobs",
			logging.Int("count", reclaimed),
			logging.String(logging.FieldEventType, "heartbeat_reclaim"),
		)
	}
	return reclaimed, nil
}

func (r *Reclaimer) reclaim(ctx context.Context, job *store.Job) error {
	media, err := r.store.GetMedia(ctx, job.MediaID)
	if err != nil {
		return err
	}
	next := job.CurrentStage + 1
	if next > StageCount {
		next = StageCount
	}
	now := r.now().UTC()
	job.Status = store.StatusFailed
	job.ErrorMessage = ReclaimDetail
	job.FailedStage = StageName(next)
	job.CompletedAt = &now
	job.HeartbeatAt = nil
	media.Status = store.StatusFailed
	media.ErrorMessage = ReclaimDetail
	if err := r.store.SaveProgress(ctx, job, media); err != nil {
		return err
	}

	r.metrics.JobFinished(string(store.StatusFailed))
	r.publisher.Publish(progress.Event{
		JobID:     job.ID,
		MediaID:   job.MediaID,
		Stage:     next,
		StageName: StageName(next),
		Percent:   job.ProgressPercent,
		Status:    progress.StatusFailed,
		Detail:    ReclaimDetail,
	})
	logging.WarnWithContext(r.logger, "failed abandoned job", "job_reclaimed",
		logging.String(logging.FieldJobID, job.ID),
		logging.Int64(logging.FieldMediaID, job.MediaID),
		logging.String(logging.FieldStage, job.FailedStage),
		logging.String(logging.FieldErrorHint, "resubmit the media to process it again"),
		logging.String(logging.FieldImpact, "job marked failed"),
	)
	return nil
}
