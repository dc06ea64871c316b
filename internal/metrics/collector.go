// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/juniperhq/juniper/types"
)

// Collector owns the prometheus instruments for the service.
type Collector struct {
	// HTTP
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Orchestration
	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	tasksTotal       *prometheus.CounterVec
	taskDuration     *prometheus.HistogramVec
	expertInvocation *prometheus.CounterVec

	// Temporal memory
	episodeEvents  *prometheus.CounterVec
	factsStored    prometheus.Counter
	searchDuration prometheus.Histogram

	logger *zap.Logger
}

// NewCollector registers the instruments on reg. Pass nil to use the
// default registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of orchestration runs by outcome",
		},
		[]string{"status"},
	)

	c.runDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Orchestration run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)

	c.tasksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Total number of executed task nodes by expert and state",
		},
		[]string{"expert_id", "state"},
	)

	c.taskDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task node execution duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"expert_id"},
	)

	c.expertInvocation = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expert_invocations_total",
			Help:      "Total number of expert invocations by outcome",
		},
		[]string{"expert_id", "outcome"},
	)

	c.episodeEvents = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "episode_events_total",
			Help:      "Episode lifecycle events (begun, continued, expired, summarized)",
		},
		[]string{"event"},
	)

	c.factsStored = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_facts_stored_total",
			Help:      "Total number of memory facts stored",
		},
	)

	c.searchDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "temporal_search_duration_seconds",
			Help:      "Temporal search duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RunCompleted implements the engine observer.
func (c *Collector) RunCompleted(status types.RunStatus, duration time.Duration) {
	c.runsTotal.WithLabelValues(string(status)).Inc()
	c.runDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

// TaskCompleted implements the engine observer.
func (c *Collector) TaskCompleted(expertID string, state types.TaskState, duration time.Duration) {
	c.tasksTotal.WithLabelValues(expertID, string(state)).Inc()
	c.taskDuration.WithLabelValues(expertID).Observe(duration.Seconds())
}

// RecordExpertInvocation records one expert call outcome.
func (c *Collector) RecordExpertInvocation(expertID, outcome string) {
	c.expertInvocation.WithLabelValues(expertID, outcome).Inc()
}

// RecordEpisodeEvent records an episode lifecycle event.
func (c *Collector) RecordEpisodeEvent(event string) {
	c.episodeEvents.WithLabelValues(event).Inc()
}

// RecordFactStored counts one stored memory fact.
func (c *Collector) RecordFactStored() {
	c.factsStored.Inc()
}

// RecordTemporalSearch records one temporal search.
func (c *Collector) RecordTemporalSearch(duration time.Duration) {
	c.searchDuration.Observe(duration.Seconds())
}

func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
