package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musaver/admintaxmahir-sub002/internal/domain/importjob"
	"github.com/musaver/admintaxmahir-sub002/internal/infrastructure/metrics"
)

func TestImportMetricsRecordsJobLifecycle(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.NewImportMetrics(reg)

	m.JobStarted(importjob.TypeProducts)
	m.RowsClassified(importjob.TypeProducts, 8, 2)
	m.RowsClassified(importjob.TypeProducts, 0, 0)
	m.JobFinished(importjob.TypeProducts, "completed", 1500*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				key := mf.GetName()
				for _, lp := range metric.GetLabel() {
					key += "/" + lp.GetValue()
				}
				values[key] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[mf.GetName()] = metric.GetGauge().GetValue()
			}
		}
	}

	assert.Equal(t, 1.0, values["imports_jobs_total/completed/products"])
	assert.Equal(t, 8.0, values["imports_rows_total/success/products"])
	assert.Equal(t, 2.0, values["imports_rows_total/failure/products"])
	assert.Equal(t, 0.0, values["imports_in_flight"])
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "imports_job_duration_seconds"))
}

func TestImportsSingletonIsStable(t *testing.T) {
	assert.Same(t, metrics.Imports(), metrics.Imports())
}
