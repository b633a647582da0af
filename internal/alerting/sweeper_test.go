package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saaga0h/parkwatch/internal/sensorhealth"
	"github.com/saaga0h/parkwatch/internal/store"
	"github.com/saaga0h/parkwatch/internal/tenant"
	"github.com/saaga0h/parkwatch/internal/types"
)

func newTestSweeper(s store.Store, tenants tenant.Resolver) (*Sweeper, *Engine) {
	engine, _ := newTestEngine(s)
	scorer := sensorhealth.NewScorer(s, engine.thresholds, 1000, testLogger())
	return NewSweeper(s, engine, scorer, tenants, time.Minute, nil, testLogger()), engine
}

func insertReading(t *testing.T, s store.Store, sensor *types.Sensor, seq int64, at time.Time, occupied bool, rssi, snr float64) {
	t.Helper()
	_, err := s.InsertEvent(context.Background(), &types.Event{
		Key:       types.EventKey{TenantID: sensor.TenantID, Source: "test", Sequence: seq},
		SensorID:  sensor.ID,
		DeviceID:  sensor.DeviceID,
		Timestamp: at,
		Payload:   map[string]interface{}{types.PayloadOccupied: occupied},
		RSSI:      ptr(rssi),
		SNR:       ptr(snr),
	})
	require.NoError(t, err)
}

func TestSweepRaisesAndClears(t *testing.T) {
	s := store.NewMemoryStore()
	sweeper, engine := newTestSweeper(s, tenant.OpenResolver{})
	ctx := context.Background()
	now := time.Now().UTC()

	quiet, _, err := s.EnsureSensor(ctx, "acme", "quiet")
	require.NoError(t, err)
	require.NoError(t, s.TouchSensor(ctx, quiet.ID, now.Add(-70*time.Minute), ptr(90.0), nil))

	noisy, _, err := s.EnsureSensor(ctx, "acme", "noisy")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		insertReading(t, s, noisy, int64(i), now.Add(-time.Duration(20-i)*time.Minute), i%2 == 0, -125, -5)
	}
	require.NoError(t, s.TouchSensor(ctx, noisy.ID, now.Add(-11*time.Minute), ptr(15.0), nil))

	summary, err := sweeper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Tenants)
	assert.Equal(t, 2, summary.Sensors)
	assert.Zero(t, summary.Errors)

	alerts, err := engine.List(ctx, "acme", []types.AlertStatus{types.AlertOpen}, 0)
	require.NoError(t, err)

	got := make(map[string]types.Severity)
	for _, a := range alerts {
		got[a.Entity.ID+"/"+string(a.Type)] = a.Severity
	}
	assert.Equal(t, map[string]types.Severity{
		"quiet/sensor_offline": types.SeverityWarning,
		"noisy/low_battery":    types.SeverityWarning,
		"noisy/poor_signal":    types.SeverityWarning,
		"noisy/flapping":       types.SeverityWarning,
	}, got)

	// A second sweep refreshes rather than duplicating
	_, err = sweeper.Sweep(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	again, err := engine.List(ctx, "acme", nil, 0)
	require.NoError(t, err)
	assert.Len(t, again, len(alerts))

	// The quiet sensor reports again and its offline alert clears
	require.NoError(t, s.TouchSensor(ctx, quiet.ID, now.Add(2*time.Minute), nil, nil))
	_, err = sweeper.Sweep(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)

	open, err := engine.List(ctx, "acme", []types.AlertStatus{types.AlertOpen}, 0)
	require.NoError(t, err)
	for _, a := range open {
		assert.NotEqual(t, "quiet", a.Entity.ID)
	}
}

func TestSweepDeadLetters(t *testing.T) {
	s := store.NewMemoryStore()
	sweeper, engine := newTestSweeper(s, tenant.OpenResolver{})
	ctx := context.Background()
	now := time.Now().UTC()

	_, _, err := s.EnsureSensor(ctx, "acme", "dev-1")
	require.NoError(t, err)
	for i := 0; i < 12; i++ {
		require.NoError(t, s.InsertDeadLetter(ctx, &types.DeadLetter{
			TenantID:  "acme",
			Source:    "batch",
			RowIndex:  int64(i),
			Reason:    "missing timestamp",
			CreatedAt: now.Add(-time.Hour),
		}))
	}

	_, err = sweeper.Sweep(ctx, now)
	require.NoError(t, err)

	alerts, err := engine.List(ctx, "acme", nil, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, types.AlertDeadLetters, alerts[0].Type)
	assert.Equal(t, TenantEntity("acme"), alerts[0].Entity)
	assert.Equal(t, types.SeverityWarning, alerts[0].Severity)
}

func TestSweepRespectsScope(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.PutZone(ctx, &types.Zone{ID: "z1", TenantID: "acme"}))
	require.NoError(t, s.PutZone(ctx, &types.Zone{ID: "z2", TenantID: "acme"}))
	require.NoError(t, s.PutBay(ctx, &types.Bay{ID: "b1", TenantID: "acme", ZoneID: "z1"}))
	require.NoError(t, s.PutBay(ctx, &types.Bay{ID: "b2", TenantID: "acme", ZoneID: "z2"}))
	_, err := s.BindSensor(ctx, "acme", "in-scope", "b1")
	require.NoError(t, err)
	_, err = s.BindSensor(ctx, "acme", "out-of-scope", "b2")
	require.NoError(t, err)
	_, _, err = s.EnsureSensor(ctx, "globex", "foreign")
	require.NoError(t, err)

	tenants := tenant.NewStaticResolver([]tenant.Scope{{TenantID: "acme", ZoneIDs: []string{"z1"}}})
	sweeper, _ := newTestSweeper(s, tenants)

	summary, err := sweeper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Tenants, "unknown tenants are skipped")
	assert.Equal(t, 1, summary.Sensors)
	assert.Equal(t, 1, summary.Skipped)
}

func TestSweeperStopsOnCancel(t *testing.T) {
	s := store.NewMemoryStore()
	sweeper, _ := newTestSweeper(s, tenant.OpenResolver{})
	sweeper.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Start(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
