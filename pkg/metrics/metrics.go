// Package metrics holds the Prometheus collectors for pipeline runs and
// geometry decoding.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricPipelineRunsTotal      = "geoduck_pipeline_runs_total"
	MetricPipelineRunDuration    = "geoduck_pipeline_run_duration_seconds"
	MetricRowsMaterialized       = "geoduck_rows_materialized"
	MetricDecodeFailuresTotal    = "geoduck_decode_failures_total"
	MetricGeometriesDecodedTotal = "geoduck_geometries_decoded_total"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics contains the collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	rows           prometheus.Gauge
	decodeFailures *prometheus.CounterVec
	decoded        *prometheus.CounterVec
}

// NewMetrics creates the collectors without registering them.
func NewMetrics() *Metrics {
	return &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPipelineRunsTotal,
				Help: "Total number of transfer pipeline runs by status",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricPipelineRunDuration,
				Help:    "Histogram of transfer pipeline run duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
			},
		),
		rows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: MetricRowsMaterialized,
				Help: "Row count of the materialized table after the last successful run",
			},
		),
		decodeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricDecodeFailuresTotal,
				Help: "Total number of geometry payloads that failed to decode by format",
			},
			[]string{"format"},
		),
		decoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricGeometriesDecodedTotal,
				Help: "Total number of geometry payloads decoded by format",
			},
			[]string{"format"},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveRun records a finished pipeline run.
func (m *Metrics) ObserveRun(status string, seconds float64) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(seconds)
}

func (m *Metrics) SetRowsMaterialized(n int64) {
	if m == nil {
		return
	}
	m.rows.Set(float64(n))
}

func (m *Metrics) IncDecoded(format string) {
	if m == nil {
		return
	}
	m.decoded.WithLabelValues(format).Inc()
}

func (m *Metrics) IncDecodeFailures(format string) {
	if m == nil {
		return
	}
	m.decodeFailures.WithLabelValues(format).Inc()
}

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.runsTotal,
		m.runDuration,
		m.rows,
		m.decodeFailures,
		m.decoded,
	}
}
