package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New("test", reg)
	require.NoError(t, err)

	m.RecordGenerate(OutcomeSuccess)
	m.RecordGenerate(OutcomeSuccess)
	m.RecordGenerate(OutcomeBadRequest)
	m.RecordStage("stage", 10*time.Millisecond, nil)
	m.RecordStage("unstage", time.Millisecond, errors.New("boom"))
	m.RecordDelivery(nil)
	m.RecordDelivery(errors.New("fcm down"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.generate.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.generate.WithLabelValues(OutcomeBadRequest)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.stageErrors.WithLabelValues("stage")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stageErrors.WithLabelValues("unstage")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues(OutcomeFailure)))
}

func TestNew_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := New("test", reg)
	require.NoError(t, err)
	second, err := New("test", reg)
	require.NoError(t, err)

	first.RecordGenerate(OutcomeSuccess)
	assert.Equal(t, 1.0, testutil.ToFloat64(second.generate.WithLabelValues(OutcomeSuccess)))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordGenerate(OutcomeSuccess)
		m.RecordStage("stage", time.Second, nil)
		m.RecordEdit(time.Second)
		m.RecordDelivery(nil)
	})
}
