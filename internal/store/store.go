package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/saaga0h/parkwatch/internal/types"
)

var (
	// ErrNotFound is returned when a keyed entity does not exist
	ErrNotFound = errors.New("store: not found")
	// ErrStaleStatus is returned when a bay compare-and-swap loses to a concurrent writer
	ErrStaleStatus = errors.New("store: bay status changed concurrently")
	// ErrConflict is returned when an alert is not in a state the update allows
	ErrConflict = errors.New("store: conflicting state")
)

// DefaultListLimit bounds list queries whose caller passes no limit
const DefaultListLimit = 500

// Transition is a bay status change applied atomically with its record and
// zone counter delta. The bay row is only written if its status still
// equals ExpectedStatus.
type Transition struct {
	TenantID       string
	BayID          string
	ZoneID         string
	ExpectedStatus types.BayStatus
	NewStatus      types.BayStatus
	OccupiedSince  *time.Time
	Heartbeat      time.Time
	ZoneDelta      int
	Record         *types.OccupancyRecord
}

// BayReading joins a bay with its bound sensor and that sensor's latest event
type BayReading struct {
	Bay    types.Bay
	Sensor *types.Sensor
	Latest *types.Event
}

// AlertUpsert reports how an open-or-refresh call was resolved
type AlertUpsert struct {
	Alert     types.Alert
	Created   bool
	Escalated bool
}

// AlertFilter selects alerts for listing
type AlertFilter struct {
	TenantID string
	Statuses []types.AlertStatus
	Limit    int
}

// Store is the persistence abstraction used by every component
type Store interface {
	// Sensors and gateways
	EnsureSensor(ctx context.Context, tenantID, deviceID string) (*types.Sensor, bool, error)
	GetSensor(ctx context.Context, tenantID string, id uuid.UUID) (*types.Sensor, error)
	GetSensorByDevice(ctx context.Context, tenantID, deviceID string) (*types.Sensor, error)
	TouchSensor(ctx context.Context, sensorID uuid.UUID, seenAt time.Time, batteryPct *float64, gatewayID *string) error
	BindSensor(ctx context.Context, tenantID, deviceID, bayID string) (*types.Sensor, error)
	ListSensors(ctx context.Context, tenantID string) ([]types.Sensor, error)
	ListTenants(ctx context.Context) ([]string, error)
	EnsureGateway(ctx context.Context, tenantID, gatewayID string, seenAt time.Time) error

	// Events and dead letters
	// InsertEvent reports false when the key exists and then fills in the
	// stored event's ID and AppliedAt
	InsertEvent(ctx context.Context, event *types.Event) (bool, error)
	MarkEventApplied(ctx context.Context, tenantID string, eventID uuid.UUID, at time.Time) error
	ListEvents(ctx context.Context, tenantID string, sensorID uuid.UUID, since time.Time, limit int) ([]types.Event, error)
	// InsertDeadLetter ignores a batch row (RowIndex > 0) already recorded
	// under the same tenant and source
	InsertDeadLetter(ctx context.Context, dl *types.DeadLetter) error
	CountDeadLetters(ctx context.Context, tenantID string, since time.Time) (int, error)

	// Bays and zones
	PutZone(ctx context.Context, zone *types.Zone) error
	PutBay(ctx context.Context, bay *types.Bay) error
	GetZone(ctx context.Context, tenantID, zoneID string) (*types.Zone, error)
	GetBay(ctx context.Context, tenantID, bayID string) (*types.Bay, error)
	ApplyTransition(ctx context.Context, tr Transition) error
	TouchBayHeartbeat(ctx context.Context, tenantID, bayID string, at time.Time) error
	ReconcileZone(ctx context.Context, tenantID, zoneID string) (int, error)
	ListBayReadings(ctx context.Context, tenantID, zoneID string) ([]BayReading, error)
	ListOccupancyRecords(ctx context.Context, tenantID, bayID string, limit int) ([]types.OccupancyRecord, error)

	// Tenant thresholds
	GetTenantThresholds(ctx context.Context, tenantID string) (map[string]float64, int, bool, error)
	PutTenantThresholds(ctx context.Context, tenantID string, values map[string]float64) (int, error)

	// Alerts
	OpenOrRefreshAlert(ctx context.Context, alert *types.Alert) (*AlertUpsert, error)
	ResolveActiveAlert(ctx context.Context, tenantID string, entity types.EntityRef, alertType types.AlertType, actor string, at time.Time) (*types.Alert, error)
	AcknowledgeAlert(ctx context.Context, tenantID string, id uuid.UUID, actor string, at time.Time) (*types.Alert, error)
	ResolveAlert(ctx context.Context, tenantID string, id uuid.UUID, actor string, at time.Time) (*types.Alert, error)
	GetAlert(ctx context.Context, tenantID string, id uuid.UUID) (*types.Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]types.Alert, error)
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
