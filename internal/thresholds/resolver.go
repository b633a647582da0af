package thresholds

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Source reads the stored override map for a tenant. found is false when
// the tenant has never been configured.
type Source interface {
	GetTenantThresholds(ctx context.Context, tenantID string) (values map[string]float64, version int, found bool, err error)
}

// Resolver merges per-tenant overrides over the system table
type Resolver struct {
	source Source
	system Thresholds
	logger *slog.Logger
}

// NewResolver creates a resolver. source may be nil, in which case every
// tenant gets the system table.
func NewResolver(source Source, system Thresholds, logger *slog.Logger) *Resolver {
	return &Resolver{
		source: source,
		system: system,
		logger: logger,
	}
}

// System returns the system-wide table
func (r *Resolver) System() Thresholds {
	return r.system
}

// Resolve returns the effective thresholds for a tenant. A missing or
// unreadable tenant row resolves to the system table; it is never an error
// for the caller.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) Thresholds {
	if r.source == nil {
		return r.system
	}

	values, version, found, err := r.source.GetTenantThresholds(ctx, tenantID)
	if err != nil {
		r.logger.Warn("Failed to read tenant thresholds, using system defaults",
			"tenant", tenantID, "error", err)
		return r.system
	}
	if !found {
		return r.system
	}

	r.logger.Debug("Resolved tenant thresholds", "tenant", tenantID, "version", version, "overrides", len(values))
	return FromMap(r.system, values)
}

// File is the on-disk thresholds document
type File struct {
	Defaults map[string]float64            `yaml:"defaults"`
	Tenants  map[string]map[string]float64 `yaml:"tenants"`
}

// LoadFile reads a thresholds YAML document
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read thresholds file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse thresholds file: %w", err)
	}
	return &f, nil
}

// System returns the canonical defaults with the file's defaults applied
func (f *File) System() Thresholds {
	if f == nil {
		return Defaults()
	}
	return FromMap(Defaults(), f.Defaults)
}

// Store reads and writes tenant override rows
type Store interface {
	Source
	PutTenantThresholds(ctx context.Context, tenantID string, values map[string]float64) (int, error)
}

// SeedTenants writes the file's tenant overrides for tenants that have no
// stored row yet; stored rows always win. It returns how many were written.
func (f *File) SeedTenants(ctx context.Context, s Store) (int, error) {
	if f == nil {
		return 0, nil
	}

	written := 0
	for tenantID, values := range f.Tenants {
		_, _, found, err := s.GetTenantThresholds(ctx, tenantID)
		if err != nil {
			return written, fmt.Errorf("failed to read thresholds for %s: %w", tenantID, err)
		}
		if found {
			continue
		}
		if _, err := s.PutTenantThresholds(ctx, tenantID, values); err != nil {
			return written, fmt.Errorf("failed to seed thresholds for %s: %w", tenantID, err)
		}
		written++
	}
	return written, nil
}
