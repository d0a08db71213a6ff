// Package metrics exposes Prometheus metrics for simulation runs: message
// and byte counters per message type, publication end-to-end latency, and
// per-run durations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the simulator.
type Metrics struct {
	// Message metrics
	MessagesSent *prometheus.CounterVec
	BytesSent    *prometheus.CounterVec

	// Publication metrics
	PubE2ELatency prometheus.Histogram

	// Run metrics
	RunsTotal   *prometheus.CounterVec
	RunDuration prometheus.Histogram
}

// New creates the metrics and registers them with the registerer. Tests
// pass a fresh registry to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		MessagesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fogsim_messages_sent_total",
				Help: "Total messages sent over the emulated network",
			},
			[]string{"type"},
		),

		BytesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fogsim_bytes_sent_total",
				Help: "Total payload bytes sent over the emulated network",
			},
			[]string{"type"},
		),

		PubE2ELatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fogsim_pub_e2e_latency_ms",
				Help:    "End-to-end latency of delivered publications in simulated milliseconds",
				Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000},
			},
		),

		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fogsim_runs_total",
				Help: "Total simulation runs executed",
			},
			[]string{"status"}, // status: completed, failed
		),

		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fogsim_run_duration_seconds",
				Help:    "Wall-clock duration of simulation runs",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// Default creates metrics on the default Prometheus registry.
func Default() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// RecordMessage counts one sent message of the given type and size.
func (m *Metrics) RecordMessage(msgType string, sizeBytes int) {
	m.MessagesSent.WithLabelValues(msgType).Inc()
	m.BytesSent.WithLabelValues(msgType).Add(float64(sizeBytes))
}

// RecordPubLatency observes the end-to-end latency of one delivered
// publication.
func (m *Metrics) RecordPubLatency(latencyMs float64) {
	m.PubE2ELatency.Observe(latencyMs)
}

// RecordRun records the outcome and wall-clock duration of one run.
func (m *Metrics) RecordRun(completed bool, durationSeconds float64) {
	status := "failed"
	if completed {
		status = "completed"
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(durationSeconds)
}
