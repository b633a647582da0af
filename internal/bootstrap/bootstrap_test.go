package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saaga0h/parkwatch/internal/tenant"
	"github.com/saaga0h/parkwatch/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func memoryConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.StoreBackend = "memory"
	return cfg
}

func TestOpenBackendMemory(t *testing.T) {
	be, err := OpenBackend(context.Background(), memoryConfig(), testLogger())
	require.NoError(t, err)
	defer be.Close()

	assert.NotNil(t, be.Store)
	assert.NotNil(t, be.Cursors)
	assert.Nil(t, be.Guard)
	assert.Nil(t, be.Redis)
	assert.Nil(t, be.Postgres)
}

func TestProvisionAndThresholds(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	cfg.FleetFile = writeFile(t, "fleet.yaml", `
tenants:
  - id: acme
    zones:
      - id: z1
        site: s1
        name: North deck
        bays:
          - id: b1
            device: dev-1
          - id: b2
`)
	cfg.ThresholdsFile = writeFile(t, "thresholds.yaml", `
defaults:
  offlineMinutes: 30
tenants:
  acme:
    lowBatteryPct: 25
`)

	be, err := OpenBackend(ctx, cfg, testLogger())
	require.NoError(t, err)
	defer be.Close()

	require.NoError(t, Provision(ctx, cfg, be.Store, testLogger()))

	zone, err := be.Store.GetZone(ctx, "acme", "z1")
	require.NoError(t, err)
	assert.Equal(t, "North deck", zone.Name)

	resolver, err := LoadThresholds(ctx, cfg, be.Store, testLogger())
	require.NoError(t, err)

	acme := resolver.Resolve(ctx, "acme")
	assert.Equal(t, 30, acme.OfflineMinutes)
	assert.Equal(t, 25.0, acme.LowBatteryPct)

	other := resolver.Resolve(ctx, "other")
	assert.Equal(t, 30, other.OfflineMinutes)
	assert.Equal(t, resolver.System().LowBatteryPct, other.LowBatteryPct)
}

func TestLoadThresholdsWithoutFile(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()

	be, err := OpenBackend(ctx, cfg, testLogger())
	require.NoError(t, err)

	resolver, err := LoadThresholds(ctx, cfg, be.Store, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 60, resolver.Resolve(ctx, "acme").OfflineMinutes)
}

func TestLoadTenants(t *testing.T) {
	ctx := context.Background()

	t.Run("open without file", func(t *testing.T) {
		resolver, err := LoadTenants(memoryConfig(), testLogger())
		require.NoError(t, err)

		scope, err := resolver.Resolve(ctx, "anyone")
		require.NoError(t, err)
		assert.True(t, scope.All)
	})

	t.Run("static from file", func(t *testing.T) {
		cfg := memoryConfig()
		cfg.TenantsFile = writeFile(t, "tenants.yaml", `
tenants:
  - id: acme
    zones: [z1]
`)
		resolver, err := LoadTenants(cfg, testLogger())
		require.NoError(t, err)

		scope, err := resolver.Resolve(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, []string{"z1"}, scope.ZoneIDs)

		_, err = resolver.Resolve(ctx, "other")
		assert.ErrorIs(t, err, tenant.ErrUnknownTenant)
	})

	t.Run("missing file", func(t *testing.T) {
		cfg := memoryConfig()
		cfg.TenantsFile = filepath.Join(t.TempDir(), "absent.yaml")
		_, err := LoadTenants(cfg, testLogger())
		assert.Error(t, err)
	})
}
