package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBayCentroid(t *testing.T) {
	bay := &Bay{Geometry: []Point{
		{Lat: 25.0, Lng: 55.0},
		{Lat: 25.0, Lng: 55.2},
		{Lat: 25.2, Lng: 55.2},
		{Lat: 25.2, Lng: 55.0},
		{Lat: 25.0, Lng: 55.0},
	}}

	c, ok := bay.Centroid()
	assert.True(t, ok)
	assert.InDelta(t, 25.1, c.Lat, 1e-9)
	assert.InDelta(t, 55.1, c.Lng, 1e-9)

	_, ok = (&Bay{}).Centroid()
	assert.False(t, ok)
}

func TestEventOccupied(t *testing.T) {
	ev := &Event{Payload: map[string]interface{}{"occupied": true}}
	v, ok := ev.Occupied()
	assert.True(t, ok)
	assert.True(t, v)

	ev = &Event{Payload: map[string]interface{}{"occupied": "yes"}}
	_, ok = ev.Occupied()
	assert.False(t, ok, "non-boolean values do not count")

	var nilEvent *Event
	_, ok = nilEvent.Occupied()
	assert.False(t, ok)
}

func TestSeverityRank(t *testing.T) {
	assert.True(t, SeverityCritical.MoreSevere(SeverityWarning))
	assert.True(t, SeverityWarning.MoreSevere(SeverityInfo))
	assert.False(t, SeverityInfo.MoreSevere(SeverityInfo))
	assert.True(t, AlertAcknowledged.Active())
	assert.False(t, AlertResolved.Active())
}

func TestSortAlerts(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	alerts := []Alert{
		{Title: "info", Severity: SeverityInfo, LastDetectedAt: base.Add(3 * time.Hour)},
		{Title: "warn-old", Severity: SeverityWarning, LastDetectedAt: base},
		{Title: "crit", Severity: SeverityCritical, LastDetectedAt: base},
		{Title: "warn-new", Severity: SeverityWarning, LastDetectedAt: base.Add(time.Hour)},
	}

	SortAlerts(alerts)

	var titles []string
	for _, a := range alerts {
		titles = append(titles, a.Title)
	}
	assert.Equal(t, []string{"crit", "warn-new", "warn-old", "info"}, titles)
}
