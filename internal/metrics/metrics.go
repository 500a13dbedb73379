// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "queryprep"

	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics groups every collector so tests can use a private registry.
type Metrics struct {
	generationRequests *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	validationRejects  prometheus.Counter
	feedback           *prometheus.CounterVec
	sessionsCreated    prometheus.Counter
}

// New creates the collectors and registers them with reg when reg is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		generationRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "generation",
				Name:      "requests_total",
				Help:      "The total number of generation requests.",
			},
			[]string{"mode", "outcome"},
		),
		generationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "generation",
				Name:      "duration_seconds",
				Help:      "Time taken to generate a rewritten query.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"mode"},
		),
		validationRejects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "interaction",
				Name:      "validation_rejects_total",
				Help:      "The total number of submissions rejected before generation.",
			},
		),
		feedback: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "interaction",
				Name:      "feedback_total",
				Help:      "The total number of feedback clicks recorded.",
			},
			[]string{"verdict"},
		),
		sessionsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "created_total",
				Help:      "The total number of anonymous sessions created.",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.generationRequests,
			m.generationDuration,
			m.validationRejects,
			m.feedback,
			m.sessionsCreated,
		)
	}
	return m
}

// Nop returns unregistered collectors.
func Nop() *Metrics {
	return New(nil)
}

// ObserveGeneration records one finished generation.
func (m *Metrics) ObserveGeneration(mode, outcome string, took time.Duration) {
	m.generationRequests.WithLabelValues(mode, outcome).Inc()
	m.generationDuration.WithLabelValues(mode).Observe(took.Seconds())
}

// RejectValidation counts a blank submission.
func (m *Metrics) RejectValidation() {
	m.validationRejects.Inc()
}

// RecordFeedback counts one recorded verdict.
func (m *Metrics) RecordFeedback(verdict string) {
	m.feedback.WithLabelValues(verdict).Inc()
}

// SessionCreated counts a new anonymous session.
func (m *Metrics) SessionCreated() {
	m.sessionsCreated.Inc()
}
