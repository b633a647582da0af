package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saaga0h/parkwatch/internal/types"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func floatPtr(v float64) *float64 { return &v }

func seedZone(t *testing.T, s Store, tenantID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.PutZone(ctx, &types.Zone{ID: "z1", TenantID: tenantID, HourlyRate: floatPtr(10)}))
	require.NoError(t, s.PutBay(ctx, &types.Bay{ID: "b1", TenantID: tenantID, ZoneID: "z1", Status: types.BayVacant}))
	require.NoError(t, s.PutBay(ctx, &types.Bay{ID: "b2", TenantID: tenantID, ZoneID: "z1", Status: types.BayVacant}))
}

func TestEnsureSensorAndTouch(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	sensor, created, err := s.EnsureSensor(ctx, "acme", "dev-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, types.SensorTypeUnassigned, sensor.Type)
	assert.Nil(t, sensor.BayID)

	again, created, err := s.EnsureSensor(ctx, "acme", "dev-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, sensor.ID, again.ID)

	other, _, err := s.EnsureSensor(ctx, "globex", "dev-1")
	require.NoError(t, err)
	assert.NotEqual(t, sensor.ID, other.ID, "device ids are unique per tenant only")

	require.NoError(t, s.TouchSensor(ctx, sensor.ID, t0.Add(time.Minute), floatPtr(80), nil))
	require.NoError(t, s.TouchSensor(ctx, sensor.ID, t0, nil, nil))

	got, err := s.GetSensor(ctx, "acme", sensor.ID)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Minute), *got.LastSeen, "last seen never regresses")
	assert.Equal(t, 80.0, *got.LastBatteryPct, "battery kept when not supplied")

	assert.ErrorIs(t, s.TouchSensor(ctx, uuid.New(), t0, nil, nil), ErrNotFound)
}

func TestInsertEventIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	sensor, _, _ := s.EnsureSensor(ctx, "acme", "dev-1")

	ev := func(seq int64, ts time.Time) *types.Event {
		return &types.Event{
			Key:       types.EventKey{TenantID: "acme", Source: "file.ndjson", Sequence: seq},
			SensorID:  sensor.ID,
			DeviceID:  "dev-1",
			Timestamp: ts,
		}
	}

	inserted, err := s.InsertEvent(ctx, ev(1, t0))
	require.NoError(t, err)
	assert.True(t, inserted)

	first := ev(1, t0)
	inserted, err = s.InsertEvent(ctx, first)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NotEqual(t, uuid.Nil, first.ID, "a duplicate carries the stored id")
	assert.Nil(t, first.AppliedAt, "not yet applied")

	require.NoError(t, s.MarkEventApplied(ctx, "acme", first.ID, t0.Add(time.Second)))
	require.NoError(t, s.MarkEventApplied(ctx, "acme", first.ID, t0.Add(time.Hour)))
	again := ev(1, t0)
	_, err = s.InsertEvent(ctx, again)
	require.NoError(t, err)
	require.NotNil(t, again.AppliedAt)
	assert.Equal(t, t0.Add(time.Second), *again.AppliedAt, "the first mark wins")

	assert.ErrorIs(t, s.MarkEventApplied(ctx, "globex", first.ID, t0), ErrNotFound)

	_, _ = s.InsertEvent(ctx, ev(3, t0.Add(2*time.Minute)))
	_, _ = s.InsertEvent(ctx, ev(2, t0.Add(time.Minute)))
	assert.Equal(t, 3, s.EventCount())

	events, err := s.ListEvents(ctx, "acme", sensor.ID, t0.Add(30*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Key.Sequence, "ascending by timestamp")

	events, err = s.ListEvents(ctx, "acme", sensor.ID, t0, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(3), events[0].Key.Sequence, "limit keeps the most recent")
}

func TestInsertDeadLetterOncePerBatchRow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, s.InsertDeadLetter(ctx, &types.DeadLetter{TenantID: "acme", Source: "march.ndjson", RowIndex: 2, Reason: "bad"}))
		require.NoError(t, s.InsertDeadLetter(ctx, &types.DeadLetter{TenantID: "acme", Source: "live:dev-1", Reason: "bad"}))
	}
	require.NoError(t, s.InsertDeadLetter(ctx, &types.DeadLetter{TenantID: "acme", Source: "april.ndjson", RowIndex: 2, Reason: "bad"}))

	count, err := s.CountDeadLetters(ctx, "acme", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 4, count, "batch rows once each, live rejects every time")
}

func TestApplyTransitionCompareAndSwap(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedZone(t, s, "acme")

	since := t0
	tr := Transition{
		TenantID:       "acme",
		BayID:          "b1",
		ZoneID:         "z1",
		ExpectedStatus: types.BayVacant,
		NewStatus:      types.BayOccupied,
		OccupiedSince:  &since,
		Heartbeat:      t0,
		ZoneDelta:      1,
		Record:         &types.OccupancyRecord{ID: uuid.New(), TenantID: "acme", Kind: types.OccupancyArrive, BayID: "b1", At: t0},
	}
	require.NoError(t, s.ApplyTransition(ctx, tr))
	assert.ErrorIs(t, s.ApplyTransition(ctx, tr), ErrStaleStatus, "second writer with the old expectation loses")

	zone, err := s.GetZone(ctx, "acme", "z1")
	require.NoError(t, err)
	assert.Equal(t, 1, zone.OccupiedBays)

	bay, err := s.GetBay(ctx, "acme", "b1")
	require.NoError(t, err)
	assert.Equal(t, types.BayOccupied, bay.Status)
	assert.Equal(t, t0, *bay.OccupiedSince)

	records, err := s.ListOccupancyRecords(ctx, "acme", "b1", 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestReconcileZone(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedZone(t, s, "acme")

	since := t0
	require.NoError(t, s.ApplyTransition(ctx, Transition{
		TenantID: "acme", BayID: "b2", ZoneID: "z1",
		ExpectedStatus: types.BayVacant, NewStatus: types.BayOccupied,
		OccupiedSince: &since, Heartbeat: t0,
	}))

	n, err := s.ReconcileZone(ctx, "acme", "z1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.ReconcileZone(ctx, "acme", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBindSensorAndBayReadings(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedZone(t, s, "acme")

	sensor, err := s.BindSensor(ctx, "acme", "dev-1", "b1")
	require.NoError(t, err)
	assert.Equal(t, types.SensorTypeOccupancy, sensor.Type)
	assert.Equal(t, "b1", *sensor.BayID)

	// Rebinding moves the device
	_, err = s.BindSensor(ctx, "acme", "dev-1", "b2")
	require.NoError(t, err)

	_, err = s.BindSensor(ctx, "acme", "dev-1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.InsertEvent(ctx, &types.Event{
		Key:       types.EventKey{TenantID: "acme", Source: "live:dev-1", Sequence: 1},
		SensorID:  sensor.ID,
		Timestamp: t0,
		Payload:   map[string]interface{}{"occupied": true},
	})
	require.NoError(t, err)

	readings, err := s.ListBayReadings(ctx, "acme", "z1")
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Nil(t, readings[0].Sensor, "b1 was released")
	require.NotNil(t, readings[1].Sensor)
	require.NotNil(t, readings[1].Latest)
	assert.Equal(t, t0, readings[1].Latest.Timestamp)
}

func TestOpenOrRefreshAlert(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	entity := types.EntityRef{Kind: types.EntitySensor, ID: "dev-1"}

	newAlert := func(sev types.Severity, at time.Time) *types.Alert {
		return &types.Alert{
			TenantID:       "acme",
			Type:           types.AlertLowBattery,
			Severity:       sev,
			Entity:         entity,
			LastDetectedAt: at,
			SLADueAt:       at.Add(24 * time.Hour),
		}
	}

	first, err := s.OpenOrRefreshAlert(ctx, newAlert(types.SeverityWarning, t0))
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := s.OpenOrRefreshAlert(ctx, newAlert(types.SeverityInfo, t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.False(t, second.Escalated)
	assert.Equal(t, first.Alert.ID, second.Alert.ID)
	assert.Equal(t, types.SeverityWarning, second.Alert.Severity, "severity never regresses")
	assert.Equal(t, t0.Add(time.Minute), second.Alert.LastDetectedAt)
	assert.Equal(t, t0, second.Alert.FirstDetectedAt)

	third, err := s.OpenOrRefreshAlert(ctx, newAlert(types.SeverityCritical, t0.Add(2*time.Minute)))
	require.NoError(t, err)
	assert.True(t, third.Escalated)
	assert.Equal(t, t0.Add(24*time.Hour), third.Alert.SLADueAt, "SLA fixed at open time")

	all, err := s.ListAlerts(ctx, AlertFilter{TenantID: "acme"})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	resolved, err := s.ResolveActiveAlert(ctx, "acme", entity, types.AlertLowBattery, "system", t0.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, types.AlertResolved, resolved.Status)

	none, err := s.ResolveActiveAlert(ctx, "acme", entity, types.AlertLowBattery, "system", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, none)

	reopened, err := s.OpenOrRefreshAlert(ctx, newAlert(types.SeverityWarning, t0.Add(2*time.Hour)))
	require.NoError(t, err)
	assert.True(t, reopened.Created, "a resolved alert does not block a new one")
}

func TestAlertOperatorTransitions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	up, err := s.OpenOrRefreshAlert(ctx, &types.Alert{
		TenantID: "acme", Type: types.AlertSensorOffline, Severity: types.SeverityWarning,
		Entity: types.EntityRef{Kind: types.EntitySensor, ID: "dev-1"}, LastDetectedAt: t0,
	})
	require.NoError(t, err)
	id := up.Alert.ID

	acked, err := s.AcknowledgeAlert(ctx, "acme", id, "ops@acme", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, types.AlertAcknowledged, acked.Status)
	assert.Equal(t, "ops@acme", *acked.AcknowledgedBy)

	_, err = s.AcknowledgeAlert(ctx, "acme", id, "ops@acme", t0)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.ResolveAlert(ctx, "globex", id, "ops@globex", t0)
	assert.ErrorIs(t, err, ErrNotFound, "alerts are tenant scoped")

	resolved, err := s.ResolveAlert(ctx, "acme", id, "ops@acme", t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, types.AlertResolved, resolved.Status)

	_, err = s.ResolveAlert(ctx, "acme", id, "ops@acme", t0)
	assert.ErrorIs(t, err, ErrConflict)

	open, err := s.ListAlerts(ctx, AlertFilter{TenantID: "acme", Statuses: []types.AlertStatus{types.AlertOpen}})
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestThresholdVersions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, _, found, err := s.GetTenantThresholds(ctx, "acme")
	require.NoError(t, err)
	assert.False(t, found)

	v, err := s.PutTenantThresholds(ctx, "acme", map[string]float64{"offlineMinutes": 30})
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	v, err = s.PutTenantThresholds(ctx, "acme", map[string]float64{"offlineMinutes": 45})
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	values, version, found, err := s.GetTenantThresholds(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, version)
	assert.Equal(t, 45.0, values["offlineMinutes"])
}

func TestProvision(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	fleet := &Fleet{Tenants: []FleetTenant{{
		ID: "acme",
		Zones: []FleetZone{{
			ID: "z1", HourlyRate: floatPtr(10),
			Bays: []FleetBay{{ID: "b1", DeviceID: "dev-1"}, {ID: "b2"}},
		}},
	}}}
	require.NoError(t, Provision(ctx, s, fleet))
	require.NoError(t, Provision(ctx, s, fleet), "provisioning is repeatable")

	bay, err := s.GetBay(ctx, "acme", "b1")
	require.NoError(t, err)
	assert.Equal(t, types.BayUnknown, bay.Status)
	require.NotNil(t, bay.SensorID)

	tenants, err := s.ListTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme"}, tenants)
}
