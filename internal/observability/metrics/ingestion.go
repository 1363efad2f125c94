package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
)

// IngestionMetrics satisfies ports.IngestionObserver.
type IngestionMetrics struct {
	service string

	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	batchesTotal  *prometheus.CounterVec
	batchSize     *prometheus.HistogramVec
	chunksIndexed *prometheus.CounterVec
	resources     *prometheus.CounterVec
}

func NewIngestionMetrics(service string, reg prometheus.Registerer) *IngestionMetrics {
	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "runs_total",
			Help:      "Total ingestion runs by final status.",
		},
		[]string{"service", "status"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "run_duration_seconds",
			Help:      "Ingestion run duration in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"service", "status"},
	)
	batchesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "batches_flushed_total",
			Help:      "Total batch flushes to the vector store by outcome.",
		},
		[]string{"service", "outcome"},
	)
	batchSize := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "batch_size",
			Help:      "Chunks per flushed batch.",
			Buckets:   []float64{1, 10, 25, 50, 100, 200, 500},
		},
		[]string{"service"},
	)
	chunksIndexed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "chunks_indexed_total",
			Help:      "Total chunks written to the vector store.",
		},
		[]string{"service"},
	)
	resources := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "resources_total",
			Help:      "Total resources handled by outcome.",
		},
		[]string{"service", "outcome"},
	)

	reg.MustRegister(runsTotal, runDuration, batchesTotal, batchSize, chunksIndexed, resources)

	return &IngestionMetrics{
		service:       service,
		runsTotal:     runsTotal,
		runDuration:   runDuration,
		batchesTotal:  batchesTotal,
		batchSize:     batchSize,
		chunksIndexed: chunksIndexed,
		resources:     resources,
	}
}

func (m *IngestionMetrics) ResourceProcessed(outcome string) {
	m.resources.WithLabelValues(m.service, outcome).Inc()
}

func (m *IngestionMetrics) BatchFlushed(size int, err error) {
	if err != nil {
		m.batchesTotal.WithLabelValues(m.service, "error").Inc()
		return
	}
	m.batchesTotal.WithLabelValues(m.service, "success").Inc()
	m.batchSize.WithLabelValues(m.service).Observe(float64(size))
	m.chunksIndexed.WithLabelValues(m.service).Add(float64(size))
}

func (m *IngestionMetrics) RunFinished(status domain.RunStatus, _ int, seconds float64) {
	m.runsTotal.WithLabelValues(m.service, string(status)).Inc()
	m.runDuration.WithLabelValues(m.service, string(status)).Observe(seconds)
}
