package types

import (
	"time"

	"github.com/google/uuid"
)

// SensorType classifies what a device measures
type SensorType string

const (
	SensorTypeOccupancy  SensorType = "occupancy"
	SensorTypeWeather    SensorType = "weather"
	SensorTypeOther      SensorType = "other"
	SensorTypeUnassigned SensorType = "unassigned" // auto-provisioned, not yet commissioned
)

// SensorStatus is a soft lifecycle flag; sensors are never hard-deleted
type SensorStatus string

const (
	SensorStatusActive         SensorStatus = "active"
	SensorStatusInactive       SensorStatus = "inactive"
	SensorStatusDecommissioned SensorStatus = "decommissioned"
)

// Sensor is a physical device identified by its device id (DevEUI) within a tenant.
type Sensor struct {
	ID             uuid.UUID    `json:"id"`
	TenantID       string       `json:"tenant_id"`
	DeviceID       string       `json:"device_id"`
	Type           SensorType   `json:"type"`
	Status         SensorStatus `json:"status"`
	LastSeen       *time.Time   `json:"last_seen,omitempty"`
	LastBatteryPct *float64     `json:"last_battery_pct,omitempty"`
	BayID          *string      `json:"bay_id,omitempty"`
	ZoneID         *string      `json:"zone_id,omitempty"`
	SiteID         *string      `json:"site_id,omitempty"`
	GatewayID      *string      `json:"gateway_id,omitempty"`
	InstalledAt    *time.Time   `json:"installed_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Gateway is the transport hop a reading arrived through
type Gateway struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// BayStatus is the stored occupancy of a bay
type BayStatus string

const (
	BayVacant   BayStatus = "vacant"
	BayOccupied BayStatus = "occupied"
	BayUnknown  BayStatus = "unknown" // initial value before the first decisive reading
)

// Point is a WGS84 coordinate
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Bay is a single parking space. OccupiedSince is set if and only if Status
// is BayOccupied.
type Bay struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	ZoneID        string     `json:"zone_id"`
	SiteID        string     `json:"site_id,omitempty"`
	SensorID      *uuid.UUID `json:"sensor_id,omitempty"`
	Status        BayStatus  `json:"status"`
	OccupiedSince *time.Time `json:"occupied_since,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	Geometry      []Point    `json:"geometry,omitempty"`
}

// Centroid returns the vertex average of the bay polygon. Bays are small
// enough that the planar approximation is exact to well under a metre.
func (b *Bay) Centroid() (Point, bool) {
	if len(b.Geometry) == 0 {
		return Point{}, false
	}

	pts := b.Geometry
	// Closed rings repeat the first vertex
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}

	var c Point
	for _, p := range pts {
		c.Lat += p.Lat
		c.Lng += p.Lng
	}
	c.Lat /= float64(len(pts))
	c.Lng /= float64(len(pts))
	return c, true
}

// Zone groups bays and carries the incrementally maintained occupancy counter
type Zone struct {
	ID           string   `json:"id"`
	TenantID     string   `json:"tenant_id"`
	SiteID       string   `json:"site_id,omitempty"`
	Name         string   `json:"name"`
	HourlyRate   *float64 `json:"hourly_rate,omitempty"` // AED per hour; nil for unpriced zones
	OccupiedBays int      `json:"occupied_bays"`
}
