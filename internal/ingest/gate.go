package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/saaga0h/parkwatch/internal/store"
	"github.com/saaga0h/parkwatch/internal/types"
)

// LiveSourcePrefix prefixes the source of readings received over MQTT
const LiveSourcePrefix = "live:"

// LiveKey returns the idempotency key for a live reading. The sequence is
// the reading timestamp in unix milliseconds so broker re-delivery of the
// same reading collapses onto one row.
func LiveKey(tenantID string, r *Reading) types.EventKey {
	return types.EventKey{
		TenantID: tenantID,
		Source:   LiveSourcePrefix + r.DeviceID,
		Sequence: r.Timestamp.UnixMilli(),
	}
}

// Admission is the outcome of passing a reading through the gate
type Admission struct {
	Sensor        *types.Sensor
	Event         *types.Event
	SensorCreated bool
	Duplicate     bool
	// Resumed is set when the key was stored by an earlier attempt that
	// never finished applying it
	Resumed bool
}

// Gate resolves the sensor for a reading and stores it exactly once
type Gate struct {
	store  store.Store
	logger *slog.Logger
}

// NewGate creates a dedup gate
func NewGate(s store.Store, logger *slog.Logger) *Gate {
	return &Gate{
		store:  s,
		logger: logger,
	}
}

// Admit stores the reading under key. A key that was already applied is
// reported as a duplicate and leaves the sensor untouched. A key stored by
// an attempt that failed before applying it is admitted again.
func (g *Gate) Admit(ctx context.Context, key types.EventKey, r *Reading) (*Admission, error) {
	sensor, created, err := g.store.EnsureSensor(ctx, key.TenantID, r.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sensor %s: %w", r.DeviceID, err)
	}
	if created {
		g.logger.Info("Provisioned new sensor", "tenant", key.TenantID, "device_id", r.DeviceID)
	}

	if r.GatewayID != nil {
		if err := g.store.EnsureGateway(ctx, key.TenantID, *r.GatewayID, r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to resolve gateway %s: %w", *r.GatewayID, err)
		}
	}

	event := &types.Event{
		Key:        key,
		SensorID:   sensor.ID,
		DeviceID:   r.DeviceID,
		Timestamp:  r.Timestamp,
		Payload:    r.Payload,
		RSSI:       r.RSSI,
		SNR:        r.SNR,
		BatteryPct: r.BatteryPct,
		GatewayID:  r.GatewayID,
	}

	inserted, err := g.store.InsertEvent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to store event: %w", err)
	}
	resumed := false
	if !inserted {
		if event.AppliedAt != nil {
			g.logger.Debug("Duplicate reading",
				"tenant", key.TenantID,
				"source", key.Source,
				"sequence", key.Sequence)
			return &Admission{Sensor: sensor, Event: event, SensorCreated: created, Duplicate: true}, nil
		}
		g.logger.Info("Resuming unapplied reading",
			"tenant", key.TenantID,
			"source", key.Source,
			"sequence", key.Sequence)
		resumed = true
	}

	if err := g.store.TouchSensor(ctx, sensor.ID, r.Timestamp, r.BatteryPct, r.GatewayID); err != nil {
		return nil, fmt.Errorf("failed to update sensor %s: %w", r.DeviceID, err)
	}

	if sensor.LastSeen == nil || r.Timestamp.After(*sensor.LastSeen) {
		ts := r.Timestamp
		sensor.LastSeen = &ts
	}
	if r.BatteryPct != nil {
		sensor.LastBatteryPct = r.BatteryPct
	}

	return &Admission{Sensor: sensor, Event: event, SensorCreated: created, Resumed: resumed}, nil
}
