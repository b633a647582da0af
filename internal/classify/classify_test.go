package classify

import (
	"context"
	"log/slog"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saaga0h/parkwatch/internal/store"
	"github.com/saaga0h/parkwatch/internal/thresholds"
	"github.com/saaga0h/parkwatch/internal/types"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func TestConfidenceFromAge(t *testing.T) {
	tests := []struct {
		age  time.Duration
		want float64
	}{
		{0, 0.98},
		{2 * time.Minute, 0.98},
		{2*time.Minute + time.Second, 0.90},
		{5 * time.Minute, 0.90},
		{15 * time.Minute, 0.75},
		{60 * time.Minute, 0.45},
		{180 * time.Minute, 0.25},
		{181 * time.Minute, 0.10},
		{30 * 24 * time.Hour, 0.10},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ConfidenceFromAge(tt.age), "age %s", tt.age)
	}
}

func TestConfidenceMonotonicInAge(t *testing.T) {
	th := thresholds.Defaults()
	batteries := []*float64{nil, ptr(5.0), ptr(20.0), ptr(21.0), ptr(90.0)}
	links := []*float64{nil, ptr(-130.0), ptr(-90.0)}

	for _, b := range batteries {
		for _, l := range links {
			prev := 1.0
			for m := 0; m <= 400; m++ {
				c := Confidence(time.Duration(m)*time.Minute, b, l, th)
				assert.LessOrEqual(t, c, prev, "minute %d", m)
				assert.GreaterOrEqual(t, c, 0.0)
				prev = c
			}
		}
	}
}

func TestConfidencePenalties(t *testing.T) {
	th := thresholds.Defaults()
	assert.InDelta(t, 0.78, Confidence(time.Minute, ptr(20.0), nil, th), 1e-9)
	assert.InDelta(t, 0.98, Confidence(time.Minute, ptr(20.5), nil, th), 1e-9)
	assert.InDelta(t, 0.88, Confidence(time.Minute, nil, ptr(-120.0), th), 1e-9)
	assert.Equal(t, 0.0, Confidence(4*time.Hour, ptr(3.0), ptr(-130.0), th), "floored at zero")

	strict := thresholds.FromMap(th, map[string]float64{thresholds.KeyLowBatteryPct: 30})
	assert.InDelta(t, 0.78, Confidence(time.Minute, ptr(25.0), nil, strict), 1e-9, "tenant battery threshold")
	assert.InDelta(t, 0.98, Confidence(time.Minute, ptr(25.0), nil, th), 1e-9)
}

func TestClassify(t *testing.T) {
	th := thresholds.Defaults()
	seen := func(ago time.Duration) *time.Time { return ptr(now.Add(-ago)) }

	tests := []struct {
		name string
		in   Input
		want State
	}{
		{"no sensor", Input{HasSensor: false, LastSeen: seen(0), Occupied: ptr(true)}, StateUnknown},
		{"never reported", Input{HasSensor: true}, StateUnknown},
		{"fresh occupied", Input{HasSensor: true, LastSeen: seen(time.Minute), Occupied: ptr(true)}, StateOccupied},
		{"fresh free", Input{HasSensor: true, LastSeen: seen(time.Minute), Occupied: ptr(false)}, StateFree},
		{"offline beats payload", Input{HasSensor: true, LastSeen: seen(70 * time.Minute), Occupied: ptr(true)}, StateOffline},
		{"stale", Input{HasSensor: true, LastSeen: seen(16 * time.Minute), Occupied: ptr(true)}, StateUnknown},
		{"no decoded flag", Input{HasSensor: true, LastSeen: seen(time.Minute)}, StateUnknown},
		{"low battery still shown", Input{HasSensor: true, LastSeen: seen(time.Minute), Occupied: ptr(true), BatteryPct: ptr(10.0)}, StateOccupied},
		{"future timestamp", Input{HasSensor: true, LastSeen: ptr(now.Add(time.Minute)), Occupied: ptr(false)}, StateFree},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.in, now, th).State)
		})
	}
}

func TestClassifyLowConfidence(t *testing.T) {
	// A long stale window lets the confidence floor decide
	th := thresholds.FromMap(thresholds.Defaults(), map[string]float64{thresholds.KeyStaleEventMinutes: 120})
	in := Input{HasSensor: true, LastSeen: ptr(now.Add(-30 * time.Minute)), Occupied: ptr(true)}

	assert.Equal(t, StateOccupied, Classify(in, now, th).State)

	in.BatteryPct = ptr(10.0)
	rec := Classify(in, now, th)
	assert.Equal(t, StateUnknown, rec.State)
	assert.Equal(t, 0.25, rec.Confidence)
}

func TestClassifyRecordFields(t *testing.T) {
	rec := Classify(Input{
		BayID:     "b1",
		HasSensor: true,
		LastSeen:  ptr(now.Add(-(7*time.Minute + 40*time.Second))),
		Occupied:  ptr(true),
	}, now, thresholds.Defaults())

	assert.Equal(t, "b1", rec.BayID)
	assert.Equal(t, 0.75, rec.Confidence)
	require.NotNil(t, rec.AgeMinutes)
	assert.Equal(t, 7, *rec.AgeMinutes)
}

func TestUnboundBayAlwaysUnknown(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		th := thresholds.FromMap(thresholds.Defaults(), map[string]float64{
			thresholds.KeyOfflineMinutes:    float64(rng.Intn(300)),
			thresholds.KeyStaleEventMinutes: float64(rng.Intn(300)),
		})
		rec := Classify(Input{BayID: "b", LastSeen: ptr(now), Occupied: ptr(true)}, now, th)
		assert.Equal(t, StateUnknown, rec.State)
	}
}

func TestPartitionInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 100; trial++ {
		th := thresholds.FromMap(thresholds.Defaults(), map[string]float64{
			thresholds.KeyOfflineMinutes:    float64(1 + rng.Intn(240)),
			thresholds.KeyStaleEventMinutes: float64(rng.Intn(120)),
		})

		n := rng.Intn(40)
		records := make([]Record, 0, n)
		for i := 0; i < n; i++ {
			in := Input{HasSensor: rng.Intn(4) > 0}
			if rng.Intn(5) > 0 {
				in.LastSeen = ptr(now.Add(-time.Duration(rng.Intn(600)) * time.Minute))
			}
			if rng.Intn(3) > 0 {
				in.Occupied = ptr(rng.Intn(2) == 0)
			}
			if rng.Intn(3) == 0 {
				in.BatteryPct = ptr(float64(rng.Intn(101)))
			}
			records = append(records, Classify(in, now, th))
		}

		snap := Summarize("acme", "z1", now, records)
		assert.Equal(t, snap.Total, snap.Occupied+snap.Free+snap.Offline+snap.Unknown)
		assert.Equal(t, n, snap.Total)
	}
}

func TestZoneSnapshot(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	require.NoError(t, s.PutZone(ctx, &types.Zone{ID: "z1", TenantID: "acme"}))
	for _, id := range []string{"b1", "b2", "b3"} {
		require.NoError(t, s.PutBay(ctx, &types.Bay{
			ID: id, TenantID: "acme", ZoneID: "z1",
			Geometry: []types.Point{{Lat: 25.2, Lng: 55.3}, {Lat: 25.4, Lng: 55.5}},
		}))
	}

	fresh, err := s.BindSensor(ctx, "acme", "dev-1", "b1")
	require.NoError(t, err)
	old, err := s.BindSensor(ctx, "acme", "dev-2", "b2")
	require.NoError(t, err)

	for _, ev := range []*types.Event{
		{SensorID: fresh.ID, Timestamp: now.Add(-time.Minute), Payload: map[string]interface{}{"occupied": true},
			Key: types.EventKey{TenantID: "acme", Source: "s", Sequence: 1}},
		{SensorID: old.ID, Timestamp: now.Add(-70 * time.Minute), Payload: map[string]interface{}{"occupied": false},
			Key: types.EventKey{TenantID: "acme", Source: "s", Sequence: 2}},
	} {
		ev.ID = uuid.New()
		_, err := s.InsertEvent(ctx, ev)
		require.NoError(t, err)
	}

	svc := NewService(s, thresholds.NewResolver(s, thresholds.Defaults(), logger), logger)
	snap, err := svc.ZoneSnapshot(ctx, "acme", "z1", now)
	require.NoError(t, err)

	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 1, snap.Occupied)
	assert.Equal(t, 1, snap.Offline)
	assert.Equal(t, 1, snap.Unknown, "b3 has no sensor")
	require.NotNil(t, snap.Bays[0].Lat)
	assert.InDelta(t, 25.3, *snap.Bays[0].Lat, 1e-9)

	_, err = svc.ZoneSnapshot(ctx, "acme", "missing", now)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
