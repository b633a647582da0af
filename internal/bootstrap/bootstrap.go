// Package bootstrap opens the stores and loads the configuration documents
// shared by the parkwatch binaries.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/saaga0h/parkwatch/internal/ingest"
	"github.com/saaga0h/parkwatch/internal/store"
	"github.com/saaga0h/parkwatch/internal/tenant"
	"github.com/saaga0h/parkwatch/internal/thresholds"
	"github.com/saaga0h/parkwatch/pkg/config"
	"github.com/saaga0h/parkwatch/pkg/postgres"
	"github.com/saaga0h/parkwatch/pkg/redis"
)

// Backend groups the store and the stateful clients behind it
type Backend struct {
	Store    store.Store
	Postgres postgres.Client
	Redis    redis.Client
	Guard    ingest.DeliveryGuard
	Cursors  ingest.CursorStore
	logger   *slog.Logger
}

// OpenBackend connects the configured store. The memory backend runs
// without Postgres or Redis: no delivery guard and in-process cursors.
func OpenBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	be := &Backend{logger: logger}

	if cfg.StoreBackend == "memory" {
		logger.Warn("Using in-memory store; state is lost on restart")
		be.Store = store.NewMemoryStore()
		be.Cursors = ingest.NewMemoryCursor()
		return be, nil
	}

	pgClient := postgres.NewClient(cfg, logger)
	if err := pgClient.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	be.Postgres = pgClient

	pgStore := store.NewPostgresStore(pgClient, logger)
	if err := pgStore.Migrate(ctx); err != nil {
		be.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	be.Store = pgStore

	redisClient := redis.NewClient(cfg, logger)
	if err := redisClient.Ping(ctx); err != nil {
		_ = redisClient.Close()
		be.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("Connected to Redis", "address", cfg.RedisAddress())
	be.Redis = redisClient
	be.Guard = ingest.NewRedisGuard(redisClient, cfg.DeliveryMarkerTTL)
	be.Cursors = ingest.NewRedisCursor(redisClient)

	return be, nil
}

// Close releases the clients that were opened
func (b *Backend) Close() {
	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			b.logger.Error("Error closing Redis client", "error", err)
		}
	}
	if b.Postgres != nil {
		if err := b.Postgres.Disconnect(); err != nil {
			b.logger.Error("Error disconnecting from PostgreSQL", "error", err)
		}
	}
}

// Provision loads the fleet file, when configured, into the store
func Provision(ctx context.Context, cfg *config.Config, s store.Store, logger *slog.Logger) error {
	if cfg.FleetFile == "" {
		return nil
	}

	fleet, err := store.LoadFleet(cfg.FleetFile)
	if err != nil {
		return err
	}
	if err := store.Provision(ctx, s, fleet); err != nil {
		return fmt.Errorf("failed to provision fleet: %w", err)
	}

	logger.Info("Provisioned fleet", "file", cfg.FleetFile, "tenants", len(fleet.Tenants))
	return nil
}

// LoadThresholds builds the resolver from the optional thresholds file,
// seeding tenant rows the store does not have yet
func LoadThresholds(ctx context.Context, cfg *config.Config, s store.Store, logger *slog.Logger) (*thresholds.Resolver, error) {
	var file *thresholds.File
	if cfg.ThresholdsFile != "" {
		f, err := thresholds.LoadFile(cfg.ThresholdsFile)
		if err != nil {
			return nil, err
		}
		file = f
	}

	seeded, err := file.SeedTenants(ctx, s)
	if err != nil {
		return nil, err
	}
	if seeded > 0 {
		logger.Info("Seeded tenant thresholds", "file", cfg.ThresholdsFile, "tenants", seeded)
	}

	return thresholds.NewResolver(s, file.System(), logger), nil
}

// LoadTenants returns the tenants file resolver, or an open resolver when
// no file is configured
func LoadTenants(cfg *config.Config, logger *slog.Logger) (tenant.Resolver, error) {
	if cfg.TenantsFile == "" {
		logger.Warn("No tenants file configured; every tenant id is accepted with full scope")
		return tenant.OpenResolver{}, nil
	}

	resolver, err := tenant.LoadFile(cfg.TenantsFile)
	if err != nil {
		return nil, err
	}

	logger.Info("Loaded tenants", "file", cfg.TenantsFile, "tenants", len(resolver.Tenants()))
	return resolver, nil
}
