// Package metrics provides the Prometheus collectors shared by the queue,
// gateway, resolver, orchestrator, retrieval engine and progress broadcaster.
//
// Every recording method tolerates a nil *Metrics so components can run
// without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scribe"

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	registry *prometheus.Registry

	// Queue metrics
	QueueEnqueued  prometheus.Counter
	QueueDequeued  prometheus.Counter
	QueueMalformed prometheus.Counter

	// Gateway metrics
	GatewayCalls     *prometheus.CounterVec
	GatewayTokens    *prometheus.CounterVec
	GatewayWait      *prometheus.HistogramVec
	GatewayThrottled *prometheus.CounterVec

	// Resolver metrics
	TierOutcomes *prometheus.CounterVec

	// Orchestrator metrics
	StageDuration *prometheus.HistogramVec
	StageFailures *prometheus.CounterVec
	JobsFinished  *prometheus.CounterVec
	JobsReclaimed prometheus.Counter

	// Indexer metrics
	SegmentsIndexed prometheus.Counter

	// Retrieval metrics
	SearchLatency prometheus.Histogram

	// Progress metrics
	ProgressPublished prometheus.Counter
	ProgressDropped   *prometheus.CounterVec
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		QueueEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_enqueued_total",
			Help:      "Total number of messages appended to the durable queue",
		}),
		QueueDequeued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dequeued_total",
			Help:      "Total number of messages popped from the durable queue",
		}),
		QueueMalformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_malformed_total",
			Help:      "Total number of popped messages discarded as unparseable",
		}),

		GatewayCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Total number of external calls admitted by the gateway",
		}, []string{"operation"}),
		GatewayTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_tokens_total",
			Help:      "Estimated tokens reserved by admitted calls",
		}, []string{"operation"}),
		GatewayWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_wait_seconds",
			Help:      "Time calls spent waiting for budget",
			Buckets:   []float64{0, 0.1, 0.5, 1, 5, 15, 30, 60},
		}, []string{"operation"}),
		GatewayThrottled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_throttled_total",
			Help:      "Total number of throttled responses from external services",
		}, []string{"operation"}),

		TierOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_tier_outcomes_total",
			Help:      "Resolver tier outcomes",
		}, []string{"tier", "outcome"}),

		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage execution time in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"stage"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Total number of stage failures",
		}, []string{"stage", "kind"}),
		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of jobs reaching a terminal status",
		}, []string{"status"}),
		JobsReclaimed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_reclaimed_total",
			Help:      "Total number of running jobs failed for an expired heartbeat",
		}),

		SegmentsIndexed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_indexed_total",
			Help:      "Total number of segments written by the indexer",
		}),

		SearchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_latency_seconds",
			Help:      "Hybrid search latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}),

		ProgressPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_events_total",
			Help:      "Total number of progress events published",
		}),
		ProgressDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_dropped_total",
			Help:      "Progress events not delivered to a sink",
		}, []string{"sink"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Enqueued() {
	if m != nil {
		m.QueueEnqueued.Inc()
	}
}

func (m *Metrics) Dequeued() {
	if m != nil {
		m.QueueDequeued.Inc()
	}
}

func (m *Metrics) Malformed() {
	if m != nil {
		m.QueueMalformed.Inc()
	}
}

// GatewayAdmitted records an admitted call and the time it waited for budget.
func (m *Metrics) GatewayAdmitted(operation string, tokens int, waited time.Duration) {
	if m == nil {
		return
	}
	m.GatewayCalls.WithLabelValues(operation).Inc()
	m.GatewayTokens.WithLabelValues(operation).Add(float64(tokens))
	m.GatewayWait.WithLabelValues(operation).Observe(waited.Seconds())
}

func (m *Metrics) Throttled(operation string) {
	if m != nil {
		m.GatewayThrottled.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) TierOutcome(tier, outcome string) {
	if m != nil {
		m.TierOutcomes.WithLabelValues(tier, outcome).Inc()
	}
}

// StageFinished records a stage run. kind is empty on success.
func (m *Metrics) StageFinished(stage string, elapsed time.Duration, kind string) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	if kind != "" {
		m.StageFailures.WithLabelValues(stage, kind).Inc()
	}
}

func (m *Metrics) JobFinished(status string) {
	if m != nil {
		m.JobsFinished.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) Reclaimed(n int) {
	if m != nil {
		m.JobsReclaimed.Add(float64(n))
	}
}

func (m *Metrics) Indexed(n int) {
	if m != nil {
		m.SegmentsIndexed.Add(float64(n))
	}
}

func (m *Metrics) Searched(elapsed time.Duration) {
	if m != nil {
		m.SearchLatency.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) ProgressSent() {
	if m != nil {
		m.ProgressPublished.Inc()
	}
}

func (m *Metrics) ProgressDrop(sink string) {
	if m != nil {
		m.ProgressDropped.WithLabelValues(sink).Inc()
	}
}
