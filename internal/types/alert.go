package types

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// AlertType names the breach an alert tracks
type AlertType string

const (
	AlertSensorOffline AlertType = "sensor_offline"
	AlertLowBattery    AlertType = "low_battery"
	AlertPoorSignal    AlertType = "poor_signal"
	AlertFlapping      AlertType = "flapping"
	AlertDeadLetters   AlertType = "dead_letters"
)

// Severity of an alert
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityWarning  Severity = "WARNING"
	SeverityInfo     Severity = "INFO"
)

// Rank orders severities for display; lower sorts first
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 2
	default:
		return 3
	}
}

// MoreSevere reports whether s outranks other
func (s Severity) MoreSevere(other Severity) bool {
	return s.Rank() < other.Rank()
}

// AlertStatus is the lifecycle state of an alert
type AlertStatus string

const (
	AlertOpen         AlertStatus = "OPEN"
	AlertAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertResolved     AlertStatus = "RESOLVED"
)

// Active reports whether the alert still blocks a new one for the same key
func (s AlertStatus) Active() bool {
	return s == AlertOpen || s == AlertAcknowledged
}

// EntityKind is the kind of object an alert refers to
type EntityKind string

const (
	EntitySensor EntityKind = "sensor"
	EntityBay    EntityKind = "bay"
	EntityZone   EntityKind = "zone"
	EntityTenant EntityKind = "tenant"
)

// EntityRef points an alert at the object in breach
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

// Alert is a mutable, severity-ranked, SLA-bound operational record
type Alert struct {
	ID              uuid.UUID   `json:"id"`
	TenantID        string      `json:"tenant_id"`
	Type            AlertType   `json:"type"`
	Severity        Severity    `json:"severity"`
	Status          AlertStatus `json:"status"`
	Title           string      `json:"title"`
	Message         string      `json:"message"`
	Entity          EntityRef   `json:"entity"`
	FirstDetectedAt time.Time   `json:"first_detected_at"`
	LastDetectedAt  time.Time   `json:"last_detected_at"`
	AcknowledgedAt  *time.Time  `json:"acknowledged_at,omitempty"`
	AcknowledgedBy  *string     `json:"acknowledged_by,omitempty"`
	ResolvedAt      *time.Time  `json:"resolved_at,omitempty"`
	ResolvedBy      *string     `json:"resolved_by,omitempty"`
	AssignedTo      *string     `json:"assigned_to,omitempty"`
	SLADueAt        time.Time   `json:"sla_due_at"`
}

// SortAlerts orders alerts by severity (critical first), then most recently
// detected first
func SortAlerts(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		ri, rj := alerts[i].Severity.Rank(), alerts[j].Severity.Rank()
		if ri != rj {
			return ri < rj
		}
		return alerts[i].LastDetectedAt.After(alerts[j].LastDetectedAt)
	})
}
