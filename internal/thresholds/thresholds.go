package thresholds

import (
	"math"
	"time"

	"github.com/saaga0h/parkwatch/internal/types"
)

// Recognized keys of the flat per-tenant threshold map
const (
	KeyOfflineMinutes         = "offlineMinutes"
	KeyLowBatteryPct          = "lowBatteryPct"
	KeyStaleEventMinutes      = "staleEventMinutes"
	KeyPoorRssiThreshold      = "poorRssiThreshold"
	KeyPoorSnrThreshold       = "poorSnrThreshold"
	KeySignalLookbackHours    = "signalLookbackHours"
	KeySignalMinSamples       = "signalMinSamples"
	KeyFlappingWindowMinutes  = "flappingWindowMinutes"
	KeyFlappingMaxChanges     = "flappingMaxChanges"
	KeyDeadLettersWindowHours = "deadLettersWindowHours"
	KeyDeadLettersCritical    = "deadLettersCritical"
	KeyDeadLettersWarning     = "deadLettersWarning"
	KeySLAHoursCritical       = "slaHoursCritical"
	KeySLAHoursWarning        = "slaHoursWarning"
	KeySLAHoursInfo           = "slaHoursInfo"
)

var knownKeys = map[string]bool{
	KeyOfflineMinutes:         true,
	KeyLowBatteryPct:          true,
	KeyStaleEventMinutes:      true,
	KeyPoorRssiThreshold:      true,
	KeyPoorSnrThreshold:       true,
	KeySignalLookbackHours:    true,
	KeySignalMinSamples:       true,
	KeyFlappingWindowMinutes:  true,
	KeyFlappingMaxChanges:     true,
	KeyDeadLettersWindowHours: true,
	KeyDeadLettersCritical:    true,
	KeyDeadLettersWarning:     true,
	KeySLAHoursCritical:       true,
	KeySLAHoursWarning:        true,
	KeySLAHoursInfo:           true,
}

// IsKnownKey reports whether key is a recognized threshold
func IsKnownKey(key string) bool {
	return knownKeys[key]
}

// Thresholds is the operational configuration read by every evaluator
type Thresholds struct {
	OfflineMinutes         int     `json:"offlineMinutes" yaml:"offlineMinutes"`
	LowBatteryPct          float64 `json:"lowBatteryPct" yaml:"lowBatteryPct"`
	StaleEventMinutes      int     `json:"staleEventMinutes" yaml:"staleEventMinutes"`
	PoorRssiThreshold      float64 `json:"poorRssiThreshold" yaml:"poorRssiThreshold"`
	PoorSnrThreshold       float64 `json:"poorSnrThreshold" yaml:"poorSnrThreshold"`
	SignalLookbackHours    int     `json:"signalLookbackHours" yaml:"signalLookbackHours"`
	SignalMinSamples       int     `json:"signalMinSamples" yaml:"signalMinSamples"`
	FlappingWindowMinutes  int     `json:"flappingWindowMinutes" yaml:"flappingWindowMinutes"`
	FlappingMaxChanges     int     `json:"flappingMaxChanges" yaml:"flappingMaxChanges"`
	DeadLettersWindowHours int     `json:"deadLettersWindowHours" yaml:"deadLettersWindowHours"`
	DeadLettersCritical    int     `json:"deadLettersCritical" yaml:"deadLettersCritical"`
	DeadLettersWarning     int     `json:"deadLettersWarning" yaml:"deadLettersWarning"`
	SLAHoursCritical       float64 `json:"slaHoursCritical" yaml:"slaHoursCritical"`
	SLAHoursWarning        float64 `json:"slaHoursWarning" yaml:"slaHoursWarning"`
	SLAHoursInfo           float64 `json:"slaHoursInfo" yaml:"slaHoursInfo"`
}

// Defaults returns the canonical system default table
func Defaults() Thresholds {
	return Thresholds{
		OfflineMinutes:         60,
		LowBatteryPct:          20,
		StaleEventMinutes:      15,
		PoorRssiThreshold:      -115,
		PoorSnrThreshold:       0,
		SignalLookbackHours:    24,
		SignalMinSamples:       3,
		FlappingWindowMinutes:  30,
		FlappingMaxChanges:     6,
		DeadLettersWindowHours: 24,
		DeadLettersCritical:    50,
		DeadLettersWarning:     10,
		SLAHoursCritical:       4,
		SLAHoursWarning:        24,
		SLAHoursInfo:           72,
	}
}

// FromMap overlays a partial flat map on base. Unknown keys and
// non-finite values are ignored.
func FromMap(base Thresholds, values map[string]float64) Thresholds {
	t := base
	for key, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		n := int(math.Round(v))

		switch key {
		case KeyOfflineMinutes:
			t.OfflineMinutes = n
		case KeyLowBatteryPct:
			t.LowBatteryPct = v
		case KeyStaleEventMinutes:
			t.StaleEventMinutes = n
		case KeyPoorRssiThreshold:
			t.PoorRssiThreshold = v
		case KeyPoorSnrThreshold:
			t.PoorSnrThreshold = v
		case KeySignalLookbackHours:
			t.SignalLookbackHours = n
		case KeySignalMinSamples:
			t.SignalMinSamples = n
		case KeyFlappingWindowMinutes:
			t.FlappingWindowMinutes = n
		case KeyFlappingMaxChanges:
			t.FlappingMaxChanges = n
		case KeyDeadLettersWindowHours:
			t.DeadLettersWindowHours = n
		case KeyDeadLettersCritical:
			t.DeadLettersCritical = n
		case KeyDeadLettersWarning:
			t.DeadLettersWarning = n
		case KeySLAHoursCritical:
			t.SLAHoursCritical = v
		case KeySLAHoursWarning:
			t.SLAHoursWarning = v
		case KeySLAHoursInfo:
			t.SLAHoursInfo = v
		}
	}
	return t
}

// OfflineAfter is the reading age past which a sensor counts as offline
func (t Thresholds) OfflineAfter() time.Duration {
	return time.Duration(t.OfflineMinutes) * time.Minute
}

// StaleAfter is the reading age past which a decoded state is no longer trusted
func (t Thresholds) StaleAfter() time.Duration {
	return time.Duration(t.StaleEventMinutes) * time.Minute
}

// SignalLookback is the trailing window for signal and battery statistics
func (t Thresholds) SignalLookback() time.Duration {
	return time.Duration(t.SignalLookbackHours) * time.Hour
}

// FlappingWindow is the trailing window for counting occupancy changes
func (t Thresholds) FlappingWindow() time.Duration {
	return time.Duration(t.FlappingWindowMinutes) * time.Minute
}

// DeadLettersWindow is the rolling window for dead-letter volume alerts
func (t Thresholds) DeadLettersWindow() time.Duration {
	return time.Duration(t.DeadLettersWindowHours) * time.Hour
}

// SLA returns the time allowed to address an alert of the given severity
func (t Thresholds) SLA(severity types.Severity) time.Duration {
	var hours float64
	switch severity {
	case types.SeverityCritical:
		hours = t.SLAHoursCritical
	case types.SeverityWarning:
		hours = t.SLAHoursWarning
	default:
		hours = t.SLAHoursInfo
	}
	return time.Duration(hours * float64(time.Hour))
}
