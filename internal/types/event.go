package types

import (
	"time"

	"github.com/google/uuid"
)

// PayloadOccupied is the decoded payload field carrying bay occupancy
const PayloadOccupied = "occupied"

// EventKey is the replay idempotency key of an event. Live readings use
// source "live:<deviceId>" and the reading time in unix ms as sequence.
type EventKey struct {
	TenantID string `json:"tenant_id"`
	Source   string `json:"source"`
	Sequence int64  `json:"sequence"`
}

// Event is an immutable sensor reading. AppliedAt is the one field set
// after insertion: it marks the reading as fully driven through the bay
// state machine, so a retry of an unapplied key resumes instead of being
// dropped as a duplicate.
type Event struct {
	ID         uuid.UUID              `json:"id"`
	Key        EventKey               `json:"key"`
	SensorID   uuid.UUID              `json:"sensor_id"`
	DeviceID   string                 `json:"device_id"`
	Timestamp  time.Time              `json:"timestamp"`
	Payload    map[string]interface{} `json:"payload"`
	RSSI       *float64               `json:"rssi,omitempty"`
	SNR        *float64               `json:"snr,omitempty"`
	BatteryPct *float64               `json:"battery_pct,omitempty"`
	GatewayID  *string                `json:"gateway_id,omitempty"`
	InsertedAt time.Time              `json:"inserted_at"`
	AppliedAt  *time.Time             `json:"applied_at,omitempty"`
}

// Occupied returns the decoded occupancy flag and whether the payload has one
func (e *Event) Occupied() (bool, bool) {
	if e == nil || e.Payload == nil {
		return false, false
	}
	v, ok := e.Payload[PayloadOccupied].(bool)
	return v, ok
}

// DeadLetter is a reading rejected during normalization
type DeadLetter struct {
	ID        uuid.UUID `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Source    string    `json:"source"`
	RowIndex  int64     `json:"row_index"`
	Reason    string    `json:"reason"`
	Raw       string    `json:"raw,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// OccupancyKind distinguishes arrival and departure records
type OccupancyKind string

const (
	OccupancyArrive OccupancyKind = "ARRIVE"
	OccupancyLeave  OccupancyKind = "LEAVE"
)

// OccupancyRecord is emitted on every bay transition
type OccupancyRecord struct {
	ID              uuid.UUID     `json:"id"`
	TenantID        string        `json:"tenant_id"`
	Kind            OccupancyKind `json:"kind"`
	BayID           string        `json:"bay_id"`
	ZoneID          string        `json:"zone_id"`
	SensorID        uuid.UUID     `json:"sensor_id"`
	EventID         uuid.UUID     `json:"event_id"`
	At              time.Time     `json:"at"`
	DurationMinutes *int          `json:"duration_minutes,omitempty"`
	Revenue         *float64      `json:"revenue,omitempty"`
}
