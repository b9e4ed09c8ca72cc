package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetrics_IsolatedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.StepRunsTotal.WithLabelValues("ingest", "failure").Inc()
	m.StepRunsTotal.WithLabelValues("ingest", "failure").Inc()
	m.RowsAppended.Add(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StepRunsTotal.WithLabelValues("ingest", "failure")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RowsAppended))

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRecordRun_LastSuccessOnlyWithoutFailures(t *testing.T) {
	RecordRun(0, 1.5, 1000)
	assert.Equal(t, 1000.0, testutil.ToFloat64(DefaultMetrics.LastSuccessfulRun))

	RecordRun(1, 1.5, 2000)
	assert.Equal(t, 1000.0, testutil.ToFloat64(DefaultMetrics.LastSuccessfulRun))
	assert.Equal(t, 1.0, testutil.ToFloat64(DefaultMetrics.RunFailedSteps))
}
