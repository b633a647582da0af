package scenario

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScenario = `
name: arrive-leave
description: one car parks for half an hour
tenant: acme
virtual_start: "2026-03-02T10:00:00Z"
readings:
  - at: 0
    device: dev-1
    payload: {occupied: true}
  - at: 1800
    device: dev-1
    payload: {occupied: false}
    redeliver: 2
expectations:
  - at: 1805
    feed:
      topic: parkwatch/occupancy/acme/z1
      payload:
        record: {kind: LEAVE, duration_minutes: 30}
  - at: 1805
    api:
      path: /api/v1/tenants/{tenant}/zones/z1/occupancy
      body: {occupied: 0}
`

func TestLoadScenarioFromBytes(t *testing.T) {
	s, err := LoadScenarioFromBytes([]byte(validScenario))
	require.NoError(t, err)

	assert.Equal(t, "acme", s.Tenant)
	require.Len(t, s.Readings, 2)
	assert.Equal(t, 2, s.Readings[1].Redeliver)
	assert.Equal(t, "feed", s.Expectations[0].Kind())
	assert.Equal(t, "api", s.Expectations[1].Kind())

	start, err := s.Start(time.Now())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), start)
}

func TestScenarioStartDefault(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 34, 56, 0, time.UTC)
	start, err := (&Scenario{}).Start(now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 11, 34, 0, 0, time.UTC), start)
}

func TestValidateScenario(t *testing.T) {
	base := func() *Scenario {
		return &Scenario{
			Name:     "s",
			Tenant:   "acme",
			Readings: []Reading{{At: 0, Device: "dev-1"}},
			Expectations: []Expectation{{
				At:       1,
				Postgres: &PostgresCheck{Query: "SELECT 1", Expected: 1},
			}},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Scenario)
		ok     bool
	}{
		{"valid", func(s *Scenario) {}, true},
		{"no name", func(s *Scenario) { s.Name = "" }, false},
		{"no tenant", func(s *Scenario) { s.Tenant = "" }, false},
		{"bad start", func(s *Scenario) { s.VirtualStart = "yesterday" }, false},
		{"no readings", func(s *Scenario) { s.Readings = nil }, false},
		{"device with slash", func(s *Scenario) { s.Readings[0].Device = "a/b" }, false},
		{"out of order", func(s *Scenario) {
			s.Readings = []Reading{{At: 10, Device: "d"}, {At: 5, Device: "d"}}
		}, false},
		{"two layers", func(s *Scenario) {
			s.Expectations[0].API = &APICheck{Path: "/x"}
		}, false},
		{"no layer", func(s *Scenario) { s.Expectations[0].Postgres = nil }, false},
		{"relative api path", func(s *Scenario) {
			s.Expectations[0] = Expectation{API: &APICheck{Path: "api/v1"}}
		}, false},
		{"feed without payload or count", func(s *Scenario) {
			s.Expectations[0] = Expectation{Feed: &FeedCheck{Topic: "t"}}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base()
			tt.mutate(s)
			err := ValidateScenario(s)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
