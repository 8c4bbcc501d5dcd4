// Package metrics exposes Prometheus counters for the delivery engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts delivery outcomes, labelled by application and job so the
// dashboard can break failures down per tenant.
type Metrics struct {
	sent          *prometheus.CounterVec
	failed        *prometheus.CounterVec
	retries       *prometheus.CounterVec
	executionTime *prometheus.CounterVec
}

var labels = []string{"application_id", "job_id"}

// New creates the engine metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "icc_messages_sent_total",
				Help: "Total number of messages delivered successfully",
			},
			labels,
		),
		failed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "icc_messages_failed_total",
				Help: "Total number of messages that exhausted their retries",
			},
			labels,
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "icc_messages_retries_total",
				Help: "Total number of delivery retries scheduled",
			},
			labels,
		),
		executionTime: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "icc_messages_execution_time_seconds_sum",
				Help: "Cumulative wall-clock delivery time in seconds",
			},
			labels,
		),
	}

	reg.MustRegister(m.sent, m.failed, m.retries, m.executionTime)
	return m
}

// MessageSent records a successful delivery and its execution time.
func (m *Metrics) MessageSent(applicationID, jobID string, seconds float64) {
	m.sent.WithLabelValues(applicationID, jobID).Inc()
	m.executionTime.WithLabelValues(applicationID, jobID).Add(seconds)
}

// MessageFailed records a terminally failed delivery and its execution time.
func (m *Metrics) MessageFailed(applicationID, jobID string, seconds float64) {
	m.failed.WithLabelValues(applicationID, jobID).Inc()
	m.executionTime.WithLabelValues(applicationID, jobID).Add(seconds)
}

// MessageRetried records a retry reschedule.
func (m *Metrics) MessageRetried(applicationID, jobID string) {
	m.retries.WithLabelValues(applicationID, jobID).Inc()
}
