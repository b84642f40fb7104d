// Package metrics exposes pipeline counters. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"gopherai-docqa/internal/ai"
)

type Metrics struct {
	documentsProcessed *prometheus.CounterVec
	fallbacks          *prometheus.CounterVec
	capabilityCalls    *prometheus.CounterVec
	stageDuration      *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		documentsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Name:      "documents_processed_total",
			Help:      "Documents that finished background processing, by final status.",
		}, []string{"status"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Name:      "fallbacks_total",
			Help:      "Extractive fallbacks served instead of generated output.",
		}, []string{"component", "reason"}),
		capabilityCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Name:      "capability_calls_total",
			Help:      "Calls to the generation and embedding backends, by outcome.",
		}, []string{"operation", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docqa",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each document processing stage.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"stage"}),
	}
	if reg != nil {
		reg.MustRegister(m.documentsProcessed, m.fallbacks, m.capabilityCalls, m.stageDuration)
	}
	return m
}

func (m *Metrics) DocumentProcessed(status string) {
	if m == nil {
		return
	}
	m.documentsProcessed.WithLabelValues(status).Inc()
}

func (m *Metrics) Fallback(component, reason string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(component, reason).Inc()
}

// CapabilityCall records the outcome of one backend call; err may be nil.
func (m *Metrics) CapabilityCall(operation string, err error) {
	if m == nil {
		return
	}
	m.capabilityCalls.WithLabelValues(operation, Outcome(err)).Inc()
}

func (m *Metrics) ObserveStage(stage string, started time.Time) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
}

// Outcome maps a capability error to a low-cardinality label.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(ai.KindOf(err))
}
