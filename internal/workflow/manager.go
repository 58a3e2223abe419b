package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"scribe/internal/config"
	"scribe/internal/logging"
	"scribe/internal/metrics"
	"scribe/internal/progress"
	"scribe/internal/queue"
	"scribe/internal/store"
)

// Manager coordinates workers that pull jobs from the queue and run them
// through the registered stages.
type Manager struct {
	cfg       *config.Config
	store     *store.Store
	queue     *queue.Queue
	publisher progress.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics

	heartbeat      *HeartbeatMonitor
	dequeueTimeout time.Duration
	retryInterval  time.Duration
	workers        int
	skipPreflight  bool

	stages []pipelineStage

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
	lastJob *store.Job
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithPublisher routes progress events to p. Events are discarded otherwise.
func WithPublisher(p progress.Publisher) ManagerOption {
	return func(m *Manager) {
		if p != nil {
			m.publisher = p
		}
	}
}

// WithMetrics records stage and job outcomes.
func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

// WithWorkers overrides the configured worker count.
func WithWorkers(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithDequeueTimeout overrides how long a worker blocks on an empty queue.
func WithDequeueTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.dequeueTimeout = d
		}
	}
}

// WithoutPreflight disables the startup readiness report.
func WithoutPreflight() ManagerOption {
	return func(m *Manager) { m.skipPreflight = true }
}

// NewManager constructs a workflow manager. Call ConfigureStages before Start.
func NewManager(cfg *config.Config, st *store.Store, q *queue.Queue, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		cfg:            cfg,
		store:          st,
		queue:          q,
		publisher:      progress.Discard,
		logger:         logger.With(logging.String(logging.FieldComponent, "workflow")),
		dequeueTimeout: cfg.DequeueTimeout(),
		retryInterval:  time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		workers:        cfg.Workflow.Workers,
		stages:         pipelineFor(StageSet{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.workers <= 0 {
		m.workers = 1
	}
	if m.dequeueTimeout <= 0 {
		m.dequeueTimeout = 5 * time.Second
	}
	if m.retryInterval <= 0 {
		m.retryInterval = time.Second
	}
	m.heartbeat = NewHeartbeatMonitor(st, m.logger,
		time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
		time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
	)
	return m
}

// ConfigureStages registers the concrete stage handlers.
func (m *Manager) ConfigureStages(set StageSet) {
	stages := pipelineFor(set)
	m.mu.Lock()
	m.stages = stages
	m.mu.Unlock()
}

func (m *Manager) pipeline() []pipelineStage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stages
}
