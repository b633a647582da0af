// Package sensorhealth turns a sensor's recent event history into a 0-100
// health score.
//
// The score is a weighted mean of four components, each mapped to [0, 1]:
//
//	signal   0.35  mean of the RSSI and SNR sub-scores that are available
//	battery  0.25  1 - min(1, drainPerDay / 2)
//	samples  0.15  min(1, samples / signalMinSamples), only with a signal component
//	flaps    0.25  1 - min(1, flaps / (2 * flappingMaxChanges))
//
// RSSI maps linearly from poorRssiThreshold-10 (0) to poorRssiThreshold+40
// (1); SNR from poorSnrThreshold-10 (0) to poorSnrThreshold+10 (1). A
// component whose input is missing is left out and the remaining weights
// are renormalized, so missing data is neutral rather than penalized. The
// samples component measures confidence in the signal average and is left
// out with it. A sensor with no usable input at all scores 100.
package sensorhealth

import (
	"math"
	"time"

	"github.com/saaga0h/parkwatch/internal/thresholds"
	"github.com/saaga0h/parkwatch/internal/types"
)

// Component weights
const (
	WeightSignal  = 0.35
	WeightBattery = 0.25
	WeightSamples = 0.15
	WeightFlaps   = 0.25
)

// drainCeilingPerDay is the battery drain (percentage points per day) that
// scores zero
const drainCeilingPerDay = 2.0

// Inputs are the statistics the score is computed from
type Inputs struct {
	Samples      int        `json:"samples"`
	AvgRSSI      *float64   `json:"avgRssi,omitempty"`
	AvgSNR       *float64   `json:"avgSnr,omitempty"`
	MinBattery   *float64   `json:"minBattery,omitempty"`
	MinBatteryAt *time.Time `json:"minBatteryAt,omitempty"`
	MaxBattery   *float64   `json:"maxBattery,omitempty"`
	MaxBatteryAt *time.Time `json:"maxBatteryAt,omitempty"`
	DrainPerDay  *float64   `json:"drainPerDay,omitempty"`
	// Flaps is only meaningful when FlapReadings >= 2
	Flaps        int `json:"flaps"`
	FlapReadings int `json:"flapReadings"`
}

// Collect computes inputs from events sorted by ascending timestamp.
// Signal and battery statistics cover the signal lookback window; flaps
// cover the flapping window.
func Collect(events []types.Event, now time.Time, th thresholds.Thresholds) Inputs {
	var in Inputs

	lookbackStart := now.Add(-th.SignalLookback())
	flapStart := now.Add(-th.FlappingWindow())

	var rssiSum, snrSum float64
	var rssiN, snrN, batteryN int
	var last *bool

	for i := range events {
		ev := &events[i]

		if !ev.Timestamp.Before(lookbackStart) {
			if ev.RSSI != nil || ev.SNR != nil {
				in.Samples++
			}
			if ev.RSSI != nil {
				rssiSum += *ev.RSSI
				rssiN++
			}
			if ev.SNR != nil {
				snrSum += *ev.SNR
				snrN++
			}
			if ev.BatteryPct != nil {
				batteryN++
				v, ts := *ev.BatteryPct, ev.Timestamp
				if in.MinBattery == nil || v < *in.MinBattery {
					in.MinBattery, in.MinBatteryAt = &v, &ts
				}
				if in.MaxBattery == nil || v > *in.MaxBattery {
					in.MaxBattery, in.MaxBatteryAt = &v, &ts
				}
			}
		}

		if !ev.Timestamp.Before(flapStart) {
			occupied, ok := ev.Occupied()
			if !ok {
				continue
			}
			in.FlapReadings++
			if last != nil && *last != occupied {
				in.Flaps++
			}
			last = &occupied
		}
	}

	if rssiN > 0 {
		avg := rssiSum / float64(rssiN)
		in.AvgRSSI = &avg
	}
	if snrN > 0 {
		avg := snrSum / float64(snrN)
		in.AvgSNR = &avg
	}
	if batteryN >= 2 {
		drain := DrainPerDay(*in.MinBattery, *in.MaxBattery, *in.MinBatteryAt, *in.MaxBatteryAt)
		in.DrainPerDay = &drain
	}

	return in
}

// DrainPerDay is max(0, max-min) / max(1, days between the two samples)
func DrainPerDay(minPct, maxPct float64, minAt, maxAt time.Time) float64 {
	days := math.Abs(maxAt.Sub(minAt).Hours()) / 24
	return math.Max(0, maxPct-minPct) / math.Max(1, days)
}

// Components are the per-input sub-scores in [0, 1]; nil means missing
type Components struct {
	Signal  *float64 `json:"signal,omitempty"`
	Battery *float64 `json:"battery,omitempty"`
	Samples *float64 `json:"samples,omitempty"`
	Flaps   *float64 `json:"flaps,omitempty"`
}

// Score computes the 0-100 health score and its components
func Score(in Inputs, th thresholds.Thresholds) (int, Components) {
	var c Components

	var signalParts []float64
	if in.AvgRSSI != nil {
		signalParts = append(signalParts, linear(*in.AvgRSSI, th.PoorRssiThreshold-10, th.PoorRssiThreshold+40))
	}
	if in.AvgSNR != nil {
		signalParts = append(signalParts, linear(*in.AvgSNR, th.PoorSnrThreshold-10, th.PoorSnrThreshold+10))
	}
	if len(signalParts) > 0 {
		var sum float64
		for _, p := range signalParts {
			sum += p
		}
		v := sum / float64(len(signalParts))
		c.Signal = &v
	}

	if in.DrainPerDay != nil {
		v := 1 - math.Min(1, *in.DrainPerDay/drainCeilingPerDay)
		c.Battery = &v
	}

	if c.Signal != nil {
		samples := 1.0
		if th.SignalMinSamples > 0 {
			samples = math.Min(1, float64(in.Samples)/float64(th.SignalMinSamples))
		}
		c.Samples = &samples
	}

	if in.FlapReadings >= 2 {
		maxChanges := math.Max(1, float64(th.FlappingMaxChanges))
		v := 1 - math.Min(1, float64(in.Flaps)/(2*maxChanges))
		c.Flaps = &v
	}

	var weighted, weights float64
	for _, part := range []struct {
		value  *float64
		weight float64
	}{
		{c.Signal, WeightSignal},
		{c.Battery, WeightBattery},
		{c.Samples, WeightSamples},
		{c.Flaps, WeightFlaps},
	} {
		if part.value == nil {
			continue
		}
		weighted += *part.value * part.weight
		weights += part.weight
	}

	if weights == 0 {
		return 100, c
	}
	return int(math.Round(100 * weighted / weights)), c
}

func linear(v, lo, hi float64) float64 {
	if hi <= lo {
		return 1
	}
	return math.Max(0, math.Min(1, (v-lo)/(hi-lo)))
}
