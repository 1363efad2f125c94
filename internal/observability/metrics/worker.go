package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics tracks reindex requests consumed from the queue.
type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "reindex_requests_total",
			Help:      "Total processed reindex requests by status.",
		},
		[]string{"service", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "reindex_request_duration_seconds",
			Help:      "Reindex request handling duration in seconds by status.",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"service", "status"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "reindex_requests_in_flight",
			Help:      "Number of reindex requests being processed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(requestTotal, requestDuration, requestInFlight)

	return &WorkerMetrics{
		registry:        registry,
		service:         service,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestInFlight: requestInFlight,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) Registerer() prometheus.Registerer {
	return m.registry
}

func (m *WorkerMetrics) StartRequest() {
	m.requestInFlight.Inc()
}

// FinishRequest labels busy rejections separately so a lost race against
// another trigger does not read as a failure.
func (m *WorkerMetrics) FinishRequest(duration time.Duration, status string) {
	m.requestInFlight.Dec()
	if status == "" {
		status = "unknown"
	}
	m.requestTotal.WithLabelValues(m.service, status).Inc()
	m.requestDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
}
