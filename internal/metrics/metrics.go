// Package metrics exports relay telemetry to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded for pipeline runs and push deliveries.
const (
	OutcomeSuccess         = "success"
	OutcomeBadRequest      = "bad_request"
	OutcomeUpstreamFailure = "upstream_failure"
	OutcomeFailure         = "failure"
)

// Metrics groups the collectors shared by the pipeline, the stage store and the dispatcher.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	generate      *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	stageErrors   *prometheus.CounterVec
	editDuration  prometheus.Histogram
	deliveries    *prometheus.CounterVec
}

// New registers the relay collectors on reg. Collectors already present on reg are reused.
func New(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = "pixmix"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		generate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generate_requests_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_operation_duration_seconds",
			Help:      "Latency of object stage store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		stageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_operation_errors_total",
			Help:      "Failed object stage store operations.",
		}, []string{"operation"}),
		editDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "edit_duration_seconds",
			Help:      "Latency of external image-edit calls.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120},
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_deliveries_total",
			Help:      "Push notification deliveries by outcome.",
		}, []string{"outcome"}),
	}

	var err error
	if m.generate, err = register(reg, m.generate); err != nil {
		return nil, err
	}
	if m.stageDuration, err = register(reg, m.stageDuration); err != nil {
		return nil, err
	}
	if m.stageErrors, err = register(reg, m.stageErrors); err != nil {
		return nil, err
	}
	if m.editDuration, err = register(reg, m.editDuration); err != nil {
		return nil, err
	}
	if m.deliveries, err = register(reg, m.deliveries); err != nil {
		return nil, err
	}

	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register metric: %w", err)
	}

	return c, nil
}

// RecordGenerate counts one pipeline run.
func (m *Metrics) RecordGenerate(outcome string) {
	if m == nil {
		return
	}
	m.generate.WithLabelValues(outcome).Inc()
}

// RecordStage tracks a stage store operation ("stage", "open", "unstage").
func (m *Metrics) RecordStage(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(op).Observe(d.Seconds())
	if err != nil {
		m.stageErrors.WithLabelValues(op).Inc()
	}
}

// RecordEdit tracks the latency of one edit call.
func (m *Metrics) RecordEdit(d time.Duration) {
	if m == nil {
		return
	}
	m.editDuration.Observe(d.Seconds())
}

// RecordDelivery counts one push delivery after retries.
func (m *Metrics) RecordDelivery(err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.deliveries.WithLabelValues(outcome).Inc()
}
