package server

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics one worker records.
// Each worker process owns its own registry.
type Metrics struct {
	RequestsTotal        *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
	ClientErrorsTotal    *prometheus.CounterVec
	RequestTimeoutsTotal prometheus.Counter
	ActiveConnections    prometheus.Gauge

	active atomic.Int64
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "egg",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests served",
			},
			[]string{"method", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "egg",
				Name:      "http_request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ClientErrorsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "egg",
				Name:      "client_errors_total",
				Help:      "Total malformed requests, by diagnostic kind",
			},
			[]string{"kind"}, // kind=captured/protocol
		),
		RequestTimeoutsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "egg",
				Name:      "request_timeouts_total",
				Help:      "Total requests aborted by the timeout guard",
			},
		),
		ActiveConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "egg",
				Name:      "active_connections",
				Help:      "Number of in-flight connections",
			},
		),
	}
}

// ConnOpened records an accepted connection.
func (m *Metrics) ConnOpened() {
	m.active.Add(1)
	m.ActiveConnections.Inc()
}

// ConnClosed records a closed connection.
func (m *Metrics) ConnClosed() {
	m.active.Add(-1)
	m.ActiveConnections.Dec()
}

func (m *Metrics) activeConnections() int {
	return int(m.active.Load())
}
