package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"scribe/internal/logging"
	"scribe/internal/store"
)

// HeartbeatMonitor refreshes the heartbeat of running jobs.
type HeartbeatMonitor struct {
	store    *store.Store
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

// NewHeartbeatMonitor creates a new monitor. A non-positive interval
// defaults to 15 seconds.
func NewHeartbeatMonitor(st *store.Store, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &HeartbeatMonitor{store: st, logger: logger, interval: interval, timeout: timeout}
}

// Timeout is the age after which a running job counts as abandoned.
func (h *HeartbeatMonitor) Timeout() time.Duration { return h.timeout }

// StartLoop refreshes jobID's heartbeat until ctx is cancelled.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, jobID string) {
	defer wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger.With(logging.String(logging.FieldComponent, "workflow-heartbeat")))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.UpdateHeartbeat(ctx, jobID); err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Debug("heartbeat update cancelled")
				} else {
					logger.Warn("heartbeat update failed", logging.Error(err))
				}
			}
		}
	}
}
