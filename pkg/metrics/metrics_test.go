package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveReading(t *testing.T) {
	m := New()
	m.ObserveReading(OutcomeAccepted)
	m.ObserveReading(OutcomeAccepted)
	m.ObserveReading(OutcomeInvalid)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReadingsTotal.WithLabelValues(OutcomeAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReadingsTotal.WithLabelValues(OutcomeInvalid)))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveReading(OutcomeAccepted)
		m.ObserveTransition("ARRIVE")
		m.ObserveAlert("low_battery", "opened")
		m.ObserveSweep(0.5)
	})
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.ObserveTransition("LEAVE")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `parkwatch_bay_transitions_total{kind="LEAVE"} 1`))
}
