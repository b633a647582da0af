package alerting

import (
	"fmt"
	"time"

	"github.com/saaga0h/parkwatch/internal/sensorhealth"
	"github.com/saaga0h/parkwatch/internal/thresholds"
	"github.com/saaga0h/parkwatch/internal/types"
)

// offlineCriticalFactor multiplies offlineMinutes into the critical tier
const offlineCriticalFactor = 3

// Breach is a detected threshold violation
type Breach struct {
	Type     types.AlertType
	Severity types.Severity
	Title    string
	Message  string
}

// Verdict is the result of evaluating one condition. When Evaluated is
// false there was not enough data and any open alert is left alone; when
// it is true a nil Breach means the condition has cleared.
type Verdict struct {
	Evaluated bool
	Breach    *Breach
}

func cleared() Verdict { return Verdict{Evaluated: true} }

func breach(b Breach) Verdict { return Verdict{Evaluated: true, Breach: &b} }

// Offline checks time since the sensor last reported. A sensor that never
// reported is measured from when it was installed or created.
func Offline(sensor *types.Sensor, now time.Time, th thresholds.Thresholds) Verdict {
	ref := sensor.CreatedAt
	if sensor.InstalledAt != nil {
		ref = *sensor.InstalledAt
	}
	if sensor.LastSeen != nil {
		ref = *sensor.LastSeen
	}
	if ref.IsZero() {
		return Verdict{}
	}

	age := now.Sub(ref)
	if age <= th.OfflineAfter() {
		return cleared()
	}

	severity := types.SeverityWarning
	if age >= offlineCriticalFactor*th.OfflineAfter() {
		severity = types.SeverityCritical
	}

	msg := fmt.Sprintf("Sensor %s has not reported for %d minutes", sensor.DeviceID, int(age.Minutes()))
	if sensor.LastSeen == nil {
		msg = fmt.Sprintf("Sensor %s has never reported (%d minutes since install)", sensor.DeviceID, int(age.Minutes()))
	}

	return breach(Breach{
		Type:     types.AlertSensorOffline,
		Severity: severity,
		Title:    "Sensor offline",
		Message:  msg,
	})
}

// LowBattery checks a battery reading; half the threshold is critical
func LowBattery(deviceID string, batteryPct *float64, th thresholds.Thresholds) Verdict {
	if batteryPct == nil {
		return Verdict{}
	}
	pct := *batteryPct
	if pct > th.LowBatteryPct {
		return cleared()
	}

	severity := types.SeverityWarning
	if pct <= th.LowBatteryPct/2 {
		severity = types.SeverityCritical
	}

	return breach(Breach{
		Type:     types.AlertLowBattery,
		Severity: severity,
		Title:    "Low battery",
		Message:  fmt.Sprintf("Sensor %s battery at %.0f%% (threshold %.0f%%)", deviceID, pct, th.LowBatteryPct),
	})
}

// PoorSignal checks average RSSI and SNR over the lookback window. One poor
// metric is INFO, both are WARNING. Fewer than signalMinSamples samples is
// not evaluated.
func PoorSignal(deviceID string, in sensorhealth.Inputs, th thresholds.Thresholds) Verdict {
	if in.Samples < th.SignalMinSamples || (in.AvgRSSI == nil && in.AvgSNR == nil) {
		return Verdict{}
	}

	rssiPoor := in.AvgRSSI != nil && *in.AvgRSSI < th.PoorRssiThreshold
	snrPoor := in.AvgSNR != nil && *in.AvgSNR < th.PoorSnrThreshold

	if !rssiPoor && !snrPoor {
		return cleared()
	}

	severity := types.SeverityInfo
	if rssiPoor && snrPoor {
		severity = types.SeverityWarning
	}

	var detail string
	switch {
	case rssiPoor && snrPoor:
		detail = fmt.Sprintf("RSSI %.1f dBm and SNR %.1f dB", *in.AvgRSSI, *in.AvgSNR)
	case rssiPoor:
		detail = fmt.Sprintf("RSSI %.1f dBm", *in.AvgRSSI)
	default:
		detail = fmt.Sprintf("SNR %.1f dB", *in.AvgSNR)
	}

	return breach(Breach{
		Type:     types.AlertPoorSignal,
		Severity: severity,
		Title:    "Poor signal",
		Message: fmt.Sprintf("Sensor %s averaged %s over %d samples in %dh",
			deviceID, detail, in.Samples, th.SignalLookbackHours),
	})
}

// Flapping checks occupancy changes over the flapping window; twice the
// allowed count is critical
func Flapping(deviceID string, in sensorhealth.Inputs, th thresholds.Thresholds) Verdict {
	if in.Flaps <= th.FlappingMaxChanges {
		return cleared()
	}

	severity := types.SeverityWarning
	if in.Flaps > 2*th.FlappingMaxChanges {
		severity = types.SeverityCritical
	}

	return breach(Breach{
		Type:     types.AlertFlapping,
		Severity: severity,
		Title:    "Occupancy flapping",
		Message: fmt.Sprintf("Sensor %s changed state %d times in %d minutes (max %d)",
			deviceID, in.Flaps, th.FlappingWindowMinutes, th.FlappingMaxChanges),
	})
}

// DeadLetters checks the tenant's rejected reading volume in the rolling window
func DeadLetters(count int, th thresholds.Thresholds) Verdict {
	var severity types.Severity
	switch {
	case count > th.DeadLettersCritical:
		severity = types.SeverityCritical
	case count > th.DeadLettersWarning:
		severity = types.SeverityWarning
	default:
		return cleared()
	}

	return breach(Breach{
		Type:     types.AlertDeadLetters,
		Severity: severity,
		Title:    "Rejected readings",
		Message:  fmt.Sprintf("%d readings rejected in the last %dh", count, th.DeadLettersWindowHours),
	})
}
