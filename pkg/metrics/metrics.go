// Package metrics exposes Prometheus collectors for the ingestion pipeline
// and the alert engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors registered by a parkwatch process
type Metrics struct {
	registry *prometheus.Registry

	ReadingsTotal    *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec
	AlertsTotal      *prometheus.CounterVec
	SweepDuration    prometheus.Histogram
}

// Reading outcomes used as the "outcome" label
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeInvalid   = "invalid"
	OutcomeUnbound   = "unbound"
	OutcomeFailed    = "failed"
)

// New creates and registers all collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ReadingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parkwatch",
			Name:      "readings_total",
			Help:      "Sensor readings processed, by outcome.",
		}, []string{"outcome"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parkwatch",
			Name:      "bay_transitions_total",
			Help:      "Bay occupancy transitions, by kind.",
		}, []string{"kind"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parkwatch",
			Name:      "alerts_total",
			Help:      "Alert lifecycle changes, by type and change.",
		}, []string{"type", "change"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "parkwatch",
			Name:      "alert_sweep_duration_seconds",
			Help:      "Wall time of one alert sweep over all tenants.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(m.ReadingsTotal, m.TransitionsTotal, m.AlertsTotal, m.SweepDuration)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveReading counts one processed reading; safe on a nil receiver
func (m *Metrics) ObserveReading(outcome string) {
	if m == nil {
		return
	}
	m.ReadingsTotal.WithLabelValues(outcome).Inc()
}

// ObserveTransition counts one ARRIVE or LEAVE
func (m *Metrics) ObserveTransition(kind string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(kind).Inc()
}

// ObserveAlert counts one alert lifecycle change (opened, escalated, resolved)
func (m *Metrics) ObserveAlert(alertType, change string) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(alertType, change).Inc()
}

// ObserveSweep records the duration of one sweep in seconds
func (m *Metrics) ObserveSweep(seconds float64) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(seconds)
}
