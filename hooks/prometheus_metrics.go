package hooks

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics implements core.MetricsCollector against
// client_golang, for deployments that scrape /metrics instead of reading
// InMemoryMetrics.Snapshot via an internal endpoint.
type PrometheusMetrics struct {
	stepDuration *prometheus.HistogramVec
	stepErrors   *prometheus.CounterVec
	throughput   prometheus.Counter
	memory       prometheus.Gauge
}

// NewPrometheusMetrics registers the gateway's metric families against
// reg and returns a collector implementing core.MetricsCollector.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "artorize_gateway",
			Name:      "step_duration_seconds",
			Help:      "Duration of one pipeline step.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step"}),
		stepErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "artorize_gateway",
			Name:      "step_errors_total",
			Help:      "Count of pipeline step errors by category.",
		}, []string{"step", "category"}),
		throughput: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "artorize_gateway",
			Name:      "bytes_processed_total",
			Help:      "Cumulative bytes of image data processed.",
		}),
		memory: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "artorize_gateway",
			Name:      "memory_bytes",
			Help:      "Most recently reported memory usage.",
		}),
	}
	reg.MustRegister(m.stepDuration, m.stepErrors, m.throughput, m.memory)
	return m
}

func (m *PrometheusMetrics) RecordProcessingTime(stepName string, d interface{ Seconds() float64 }) {
	m.stepDuration.WithLabelValues(stepName).Observe(d.Seconds())
}

func (m *PrometheusMetrics) RecordThroughput(bytes int64) {
	m.throughput.Add(float64(bytes))
}

func (m *PrometheusMetrics) RecordMemory(bytes int64) {
	m.memory.Set(float64(bytes))
}

func (m *PrometheusMetrics) RecordError(stepName string, category string) {
	m.stepErrors.WithLabelValues(stepName, category).Inc()
}
