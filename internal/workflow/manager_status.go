package workflow

import (
	"context"

	"scribe/internal/logging"
	"scribe/internal/stage"
	"scribe/internal/store"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool
	Workers     int
	LastError   string
	LastJob     *store.Job
	QueueDepth  int
	JobCounts   map[store.Status]int
	StageHealth map[string]stage.Health
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{Running: m.running, Workers: m.workers}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastJob != nil {
		copy := *m.lastJob
		summary.LastJob = &copy
	}
	stages := m.stages
	m.mu.RUnlock()

	counts, err := m.store.CountJobsByStatus(ctx)
	if err != nil {
		m.logger.Warn("failed to read job counts", logging.Error(err))
	}
	summary.JobCounts = counts
	if m.queue != nil {
		depth, err := m.queue.Len(ctx)
		if err != nil {
			m.logger.Warn("failed to read queue depth", logging.Error(err))
		}
		summary.QueueDepth = depth
	}

	summary.StageHealth = make(map[string]stage.Health, len(stages))
	for _, stg := range stages {
		if stg.handler == nil {
			summary.StageHealth[stg.name] = stage.Unhealthy(stg.name, "not configured")
			continue
		}
		summary.StageHealth[stg.name] = stg.handler.HealthCheck(ctx)
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastJob(job *store.Job) {
	m.mu.Lock()
	if job != nil {
		copy := *job
		m.lastJob = &copy
	} else {
		m.lastJob = nil
	}
	m.mu.Unlock()
}
