package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"scribe/internal/logging"
	"scribe/internal/services"
)

// Start launches the workers. It returns immediately.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if err := m.readyLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(m.workers)
	m.mu.Unlock()

	m.logPreflight(runCtx)
	for i := range m.workers {
		go m.runWorker(runCtx, fmt.Sprintf("worker-%d", i+1))
	}
	m.logger.Info("workflow started",
		logging.Int("workers", m.workers),
		logging.Duration("dequeue_timeout", m.dequeueTimeout),
		logging.String(logging.FieldEventType, "workflow_start"),
	)
	return nil
}

func (m *Manager) readyLocked() error {
	switch {
	case m.running:
		return errors.New("workflow already running")
	case m.queue == nil || m.store == nil:
		return errors.New("workflow requires a queue and a store")
	}
	for _, stg := range m.stages {
		if stg.handler == nil {
			return fmt.Errorf("workflow stage %s not configured", stg.name)
		}
	}
	return nil
}

// Stop cancels the workers and waits for them to return. A job interrupted
// mid-stage stays running until the reclaimer fails it.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) runWorker(ctx context.Context, name string) {
	defer m.wg.Done()
	ctx = services.WithWorker(ctx, name)
	logger := m.logger.With(logging.String(logging.FieldWorker, name))

	for ctx.Err() == nil {
		delivery, err := m.queue.Dequeue(ctx, m.dequeueTimeout)
		switch {
		case err != nil && ctx.Err() != nil:
			return
		case err != nil:
			m.handleDequeueError(ctx, logger, err)
		case delivery != nil:
			err := m.Process(services.WithRequestID(ctx, uuid.NewString()), delivery.Message)
			if err != nil && !(errors.Is(err, context.Canceled) && ctx.Err() != nil) {
				m.setLastError(err)
			}
		}
	}
}

func (m *Manager) handleDequeueError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logging.ErrorWithContext(logger, "failed to dequeue job", "queue_dequeue_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check queue database access"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(m.retryInterval):
	}
}
