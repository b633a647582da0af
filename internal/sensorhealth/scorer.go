package sensorhealth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/saaga0h/parkwatch/internal/store"
	"github.com/saaga0h/parkwatch/internal/thresholds"
	"github.com/saaga0h/parkwatch/internal/types"
)

// Report is the health of one sensor at a point in time
type Report struct {
	SensorID    uuid.UUID  `json:"sensorId"`
	DeviceID    string     `json:"deviceId"`
	Score       int        `json:"score"`
	Components  Components `json:"components"`
	Inputs      Inputs     `json:"inputs"`
	LastSeen    *time.Time `json:"lastSeen,omitempty"`
	BatteryPct  *float64   `json:"batteryPct,omitempty"`
	EvaluatedAt time.Time  `json:"evaluatedAt"`
}

// Scorer reads bounded event history and scores sensors
type Scorer struct {
	store      store.Store
	thresholds *thresholds.Resolver
	maxEvents  int
	logger     *slog.Logger
}

// NewScorer creates a scorer. maxEvents caps every history read.
func NewScorer(s store.Store, resolver *thresholds.Resolver, maxEvents int, logger *slog.Logger) *Scorer {
	return &Scorer{
		store:      s,
		thresholds: resolver,
		maxEvents:  maxEvents,
		logger:     logger,
	}
}

// History loads the events needed to evaluate a sensor at now
func (s *Scorer) History(ctx context.Context, sensor *types.Sensor, now time.Time, th thresholds.Thresholds) ([]types.Event, error) {
	window := th.SignalLookback()
	if fw := th.FlappingWindow(); fw > window {
		window = fw
	}

	events, err := s.store.ListEvents(ctx, sensor.TenantID, sensor.ID, now.Add(-window), s.maxEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for %s: %w", sensor.DeviceID, err)
	}
	return events, nil
}

// Evaluate scores a sensor from already-loaded history
func Evaluate(sensor *types.Sensor, events []types.Event, now time.Time, th thresholds.Thresholds) *Report {
	in := Collect(events, now, th)
	score, components := Score(in, th)

	return &Report{
		SensorID:    sensor.ID,
		DeviceID:    sensor.DeviceID,
		Score:       score,
		Components:  components,
		Inputs:      in,
		LastSeen:    sensor.LastSeen,
		BatteryPct:  sensor.LastBatteryPct,
		EvaluatedAt: now,
	}
}

// SensorHealth scores the sensor with the given device id
func (s *Scorer) SensorHealth(ctx context.Context, tenantID, deviceID string, now time.Time) (*Report, error) {
	sensor, err := s.store.GetSensorByDevice(ctx, tenantID, deviceID)
	if err != nil {
		return nil, err
	}

	th := s.thresholds.Resolve(ctx, tenantID)
	events, err := s.History(ctx, sensor, now, th)
	if err != nil {
		return nil, err
	}

	report := Evaluate(sensor, events, now, th)
	s.logger.Debug("Scored sensor health",
		"tenant", tenantID,
		"device_id", deviceID,
		"score", report.Score,
		"samples", report.Inputs.Samples,
		"flaps", report.Inputs.Flaps)

	return report, nil
}
