package metrics

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// Outcome labels used for finalized recordings
const (
	OutcomeSaved     = "saved"
	OutcomeDiscarded = "discarded"
	OutcomeFailed    = "failed"
)

// Metrics are boring counters describing what the recorders did.
// Every counter must be explainable by looking at the ledger.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	recordingsStarted   *prometheus.CounterVec
	recordingsFinalized *prometheus.CounterVec
	trackedArtifacts    prometheus.Gauge
	idleTasks           *prometheus.CounterVec
	tests               *prometheus.CounterVec
	testDuration        prometheus.Histogram
}

// New creates the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		recordingsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ffrec_recordings_started_total",
				Help: "Recordings started, by kind (startup or test)",
			},
			[]string{"kind"},
		),
		recordingsFinalized: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ffrec_recordings_finalized_total",
				Help: "Recordings finalized, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		trackedArtifacts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ffrec_tracked_artifacts",
				Help: "Recordings currently tracked by the artifacts manager",
			},
		),
		idleTasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ffrec_idle_tasks_total",
				Help: "Deferred artifact tasks executed, by result",
			},
			[]string{"result"},
		),
		tests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ffrec_tests_total",
				Help: "Tests executed by the session runner, by status",
			},
			[]string{"status"},
		),
		testDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ffrec_test_duration_seconds",
				Help:    "Wall time of each test command",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
		),
	}

	m.registry.MustRegister(
		m.recordingsStarted,
		m.recordingsFinalized,
		m.trackedArtifacts,
		m.idleTasks,
		m.tests,
		m.testDuration,
	)

	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in Prometheus format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordingStarted counts a started recording
func (m *Metrics) RecordingStarted(kind string) {
	if m == nil {
		return
	}
	m.recordingsStarted.WithLabelValues(kind).Inc()
}

// RecordingFinalized counts a saved, discarded or failed recording
func (m *Metrics) RecordingFinalized(kind, outcome string) {
	if m == nil {
		return
	}
	m.recordingsFinalized.WithLabelValues(kind, outcome).Inc()
}

// SetTracked sets the number of tracked recordings
func (m *Metrics) SetTracked(n int) {
	if m == nil {
		return
	}
	m.trackedArtifacts.Set(float64(n))
}

// IdleTaskDone counts a finished deferred task
func (m *Metrics) IdleTaskDone(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.idleTasks.WithLabelValues(result).Inc()
}

// TestFinished counts a finished test and its duration
func (m *Metrics) TestFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.tests.WithLabelValues(status).Inc()
	m.testDuration.Observe(d.Seconds())
}

// WriteSnapshot writes every metric family in the text exposition format
func (m *Metrics) WriteSnapshot(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
