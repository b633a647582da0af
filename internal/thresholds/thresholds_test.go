package thresholds

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saaga0h/parkwatch/internal/types"
)

type fakeSource struct {
	values map[string]map[string]float64
	err    error
}

func (f *fakeSource) GetTenantThresholds(ctx context.Context, tenantID string) (map[string]float64, int, bool, error) {
	if f.err != nil {
		return nil, 0, false, f.err
	}
	v, ok := f.values[tenantID]
	return v, 1, ok, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestDefaults(t *testing.T) {
	d := Defaults()
	assert.Equal(t, 60, d.OfflineMinutes)
	assert.Equal(t, 20.0, d.LowBatteryPct)
	assert.Equal(t, -115.0, d.PoorRssiThreshold)
	assert.Equal(t, time.Hour, d.OfflineAfter())
	assert.Equal(t, 4*time.Hour, d.SLA(types.SeverityCritical))
	assert.Equal(t, 24*time.Hour, d.SLA(types.SeverityWarning))
	assert.Equal(t, 72*time.Hour, d.SLA(types.SeverityInfo))
}

func TestFromMapPartial(t *testing.T) {
	got := FromMap(Defaults(), map[string]float64{
		KeyOfflineMinutes: 30,
		KeySLAHoursInfo:   1.5,
		"unknownKey":      99,
		KeyLowBatteryPct:  math.NaN(),
	})

	want := Defaults()
	want.OfflineMinutes = 30
	want.SLAHoursInfo = 1.5
	assert.Equal(t, want, got)
	assert.Equal(t, 90*time.Minute, got.SLA(types.SeverityInfo))
}

func TestIsKnownKey(t *testing.T) {
	assert.True(t, IsKnownKey(KeyFlappingMaxChanges))
	assert.True(t, IsKnownKey(KeySLAHoursInfo))
	assert.False(t, IsKnownKey("offlineminutes"))
	assert.False(t, IsKnownKey(""))
}

func TestResolver(t *testing.T) {
	src := &fakeSource{values: map[string]map[string]float64{
		"acme": {KeyStaleEventMinutes: 5},
	}}
	r := NewResolver(src, Defaults(), testLogger())
	ctx := context.Background()

	assert.Equal(t, 5, r.Resolve(ctx, "acme").StaleEventMinutes)
	assert.Equal(t, Defaults(), r.Resolve(ctx, "unconfigured"), "missing tenant config falls back to defaults")

	src.err = errors.New("connection refused")
	assert.Equal(t, Defaults(), r.Resolve(ctx, "acme"), "read failures fall back to defaults")

	assert.Equal(t, Defaults(), NewResolver(nil, Defaults(), testLogger()).Resolve(ctx, "acme"))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	doc := `
defaults:
  offlineMinutes: 45
tenants:
  acme:
    flappingMaxChanges: 3
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 45, f.System().OfflineMinutes)
	assert.Equal(t, 3.0, f.Tenants["acme"][KeyFlappingMaxChanges])

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	var nilFile *File
	assert.Equal(t, Defaults(), nilFile.System())
}

type fakeStore struct {
	fakeSource
	puts map[string]map[string]float64
}

func (f *fakeStore) PutTenantThresholds(ctx context.Context, tenantID string, values map[string]float64) (int, error) {
	f.puts[tenantID] = values
	return 1, nil
}

func TestSeedTenants(t *testing.T) {
	s := &fakeStore{
		fakeSource: fakeSource{values: map[string]map[string]float64{
			"acme": {KeyOfflineMinutes: 10},
		}},
		puts: make(map[string]map[string]float64),
	}
	f := &File{Tenants: map[string]map[string]float64{
		"acme":   {KeyOfflineMinutes: 90},
		"globex": {KeyLowBatteryPct: 30},
	}}

	n, err := f.SeedTenants(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotContains(t, s.puts, "acme", "stored rows win over the file")
	assert.Equal(t, 30.0, s.puts["globex"][KeyLowBatteryPct])

	var nilFile *File
	n, err = nilFile.SeedTenants(context.Background(), s)
	require.NoError(t, err)
	assert.Zero(t, n)
}
