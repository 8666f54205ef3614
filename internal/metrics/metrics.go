// Package metrics holds the Prometheus collectors for the sentinel service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sentinel"

// Metrics holds all the Prometheus metrics for the sentinel service.
// Each instance owns its registry, so tests can build as many as they like.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	EventsCollected *prometheus.CounterVec
	AnomaliesTotal  *prometheus.CounterVec
	CollectorErrors *prometheus.CounterVec
	CyclesTotal     prometheus.Counter
	CyclesSkipped   prometheus.Counter
	CycleDuration   prometheus.Histogram
	PublishErrors   prometheus.Counter
	TaskAttempts    *prometheus.CounterVec
	TaskRetries     prometheus.Counter
	PoolOverflow    *prometheus.CounterVec
	StoreErrors     prometheus.Counter
}

// NewMetrics creates a new Metrics instance on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		EventsCollected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_collected_total",
			Help:      "Total number of events produced by source adapters",
		}, []string{"source"}),
		AnomaliesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Total number of events scored as anomalous, by threat level",
		}, []string{"threat_level"}),
		CollectorErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_errors_total",
			Help:      "Total number of adapter failures converted into COLLECTOR_ERROR events",
		}, []string{"source"}),
		CyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collection_cycles_total",
			Help:      "Total number of completed collection cycles",
		}),
		CyclesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collection_cycles_skipped_total",
			Help:      "Total number of cycle triggers skipped because a cycle was already running",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collection_cycle_duration_seconds",
			Help:      "Wall time of one collection cycle",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		PublishErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nats_publish_errors_total",
			Help:      "Total number of NATS publish errors",
		}),
		TaskAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_attempts_total",
			Help:      "Total number of terminal remote task attempts, by class and result status",
		}, []string{"class", "status"}),
		TaskRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_retries_total",
			Help:      "Total number of retried remote operations",
		}),
		PoolOverflow: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_overflow_total",
			Help:      "Total number of submissions that hit a full pool queue, by pool and policy",
		}, []string{"pool", "policy"}),
		StoreErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_store_errors_total",
			Help:      "Total number of event store writes that failed",
		}),
	}
}

// Handler serves this instance's registry
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveEvents(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EventsCollected.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) IncrementAnomalies(threatLevel string) {
	if m == nil {
		return
	}
	m.AnomaliesTotal.WithLabelValues(threatLevel).Inc()
}

func (m *Metrics) IncrementCollectorErrors(source string) {
	if m == nil {
		return
	}
	m.CollectorErrors.WithLabelValues(source).Inc()
}

// ObserveCycle records one finished cycle
func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.CyclesTotal.Inc()
	m.CycleDuration.Observe(d.Seconds())
}

func (m *Metrics) IncrementCyclesSkipped() {
	if m == nil {
		return
	}
	m.CyclesSkipped.Inc()
}

func (m *Metrics) IncrementPublishErrors() {
	if m == nil {
		return
	}
	m.PublishErrors.Inc()
}

func (m *Metrics) IncrementTaskAttempts(class, status string) {
	if m == nil {
		return
	}
	m.TaskAttempts.WithLabelValues(class, status).Inc()
}

func (m *Metrics) IncrementTaskRetries() {
	if m == nil {
		return
	}
	m.TaskRetries.Inc()
}

func (m *Metrics) IncrementPoolOverflow(pool, policy string) {
	if m == nil {
		return
	}
	m.PoolOverflow.WithLabelValues(pool, policy).Inc()
}

func (m *Metrics) IncrementStoreErrors() {
	if m == nil {
		return
	}
	m.StoreErrors.Inc()
}
