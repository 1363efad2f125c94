package metrics

import "github.com/prometheus/client_golang/prometheus"

// ResilienceMetrics satisfies resilience.Observer.
type ResilienceMetrics struct {
	service string

	retries      *prometheus.CounterVec
	breakerState *prometheus.GaugeVec
}

func NewResilienceMetrics(service string, reg prometheus.Registerer) *ResilienceMetrics {
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "retries_total",
			Help:      "Retry attempts by downstream operation.",
		},
		[]string{"service", "operation"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per operation: 0 closed, 1 half-open, 2 open.",
		},
		[]string{"service", "operation"},
	)
	reg.MustRegister(retries, breakerState)
	return &ResilienceMetrics{service: service, retries: retries, breakerState: breakerState}
}

func (m *ResilienceMetrics) RetryAttempted(operation string) {
	m.retries.WithLabelValues(m.service, operation).Inc()
}

func (m *ResilienceMetrics) BreakerStateChanged(operation, state string) {
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	m.breakerState.WithLabelValues(m.service, operation).Set(v)
}
