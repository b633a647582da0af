package store

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/saaga0h/parkwatch/internal/types"
)

// Fleet describes a tenant's zones, bays and sensor bindings for provisioning
type Fleet struct {
	Tenants []FleetTenant `yaml:"tenants"`
}

// FleetTenant is the layout of a single tenant
type FleetTenant struct {
	ID    string      `yaml:"id"`
	Zones []FleetZone `yaml:"zones"`
}

// FleetZone is a zone with its bays
type FleetZone struct {
	ID         string     `yaml:"id"`
	SiteID     string     `yaml:"site"`
	Name       string     `yaml:"name"`
	HourlyRate *float64   `yaml:"hourly_rate"`
	Bays       []FleetBay `yaml:"bays"`
}

// FleetBay is a bay and the device bound to it, if any
type FleetBay struct {
	ID       string        `yaml:"id"`
	DeviceID string        `yaml:"device"`
	Geometry []types.Point `yaml:"geometry"`
}

// LoadFleet reads a fleet YAML document
func LoadFleet(path string) (*Fleet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fleet file: %w", err)
	}

	var f Fleet
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fleet file: %w", err)
	}
	return &f, nil
}

// Provision writes the fleet into the store. Existing zones and bays keep
// their status and counters; bindings are reapplied.
func Provision(ctx context.Context, s Store, fleet *Fleet) error {
	for _, t := range fleet.Tenants {
		for _, z := range t.Zones {
			zone := &types.Zone{
				ID:         z.ID,
				TenantID:   t.ID,
				SiteID:     z.SiteID,
				Name:       z.Name,
				HourlyRate: z.HourlyRate,
			}
			if err := s.PutZone(ctx, zone); err != nil {
				return fmt.Errorf("tenant %s: %w", t.ID, err)
			}

			for _, b := range z.Bays {
				bay := &types.Bay{
					ID:       b.ID,
					TenantID: t.ID,
					ZoneID:   z.ID,
					SiteID:   z.SiteID,
					Status:   types.BayUnknown,
					Geometry: b.Geometry,
				}
				if err := s.PutBay(ctx, bay); err != nil {
					return fmt.Errorf("tenant %s: %w", t.ID, err)
				}

				if b.DeviceID == "" {
					continue
				}
				if _, err := s.BindSensor(ctx, t.ID, b.DeviceID, b.ID); err != nil {
					return fmt.Errorf("tenant %s bay %s: %w", t.ID, b.ID, err)
				}
			}
		}
	}
	return nil
}
