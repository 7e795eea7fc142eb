package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/musaver/admintaxmahir-sub002/internal/domain/importjob"
)

// ImportMetrics records orchestrator activity. It satisfies the metrics
// hook the orchestrator accepts.
type ImportMetrics struct {
	jobsTotal   *prometheus.CounterVec
	rowsTotal   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	inFlight    *prometheus.GaugeVec
}

// NewImportMetrics registers the import collectors on reg.
func NewImportMetrics(reg prometheus.Registerer) *ImportMetrics {
	factory := promauto.With(reg)
	return &ImportMetrics{
		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imports",
			Name:      "jobs_total",
			Help:      "Import job executions by terminal result.",
		}, []string{"type", "result"}),
		rowsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imports",
			Name:      "rows_total",
			Help:      "Classified import rows by outcome.",
		}, []string{"type", "outcome"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "imports",
			Name:      "job_duration_seconds",
			Help:      "Wall time of one import job execution.",
			Buckets: []float64{
				0.1, 0.5, 1,
				5, 15, 30,
				60, 300, 900, 1800,
			},
		}, []string{"type", "result"}),
		inFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "imports",
			Name:      "in_flight",
			Help:      "Import jobs currently executing in this process.",
		}, []string{"type"}),
	}
}

var defaultImports = sync.OnceValue(func() *ImportMetrics {
	return NewImportMetrics(prometheus.DefaultRegisterer)
})

// Imports returns the collectors registered on the default registry.
func Imports() *ImportMetrics {
	return defaultImports()
}

func (m *ImportMetrics) JobStarted(importType importjob.Type) {
	m.inFlight.WithLabelValues(string(importType)).Inc()
}

func (m *ImportMetrics) JobFinished(importType importjob.Type, result string, elapsed time.Duration) {
	m.inFlight.WithLabelValues(string(importType)).Dec()
	m.jobsTotal.WithLabelValues(string(importType), result).Inc()
	m.jobDuration.WithLabelValues(string(importType), result).Observe(elapsed.Seconds())
}

func (m *ImportMetrics) RowsClassified(importType importjob.Type, successful, failed int64) {
	if successful > 0 {
		m.rowsTotal.WithLabelValues(string(importType), "success").Add(float64(successful))
	}
	if failed > 0 {
		m.rowsTotal.WithLabelValues(string(importType), "failure").Add(float64(failed))
	}
}
