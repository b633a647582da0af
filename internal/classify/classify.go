package classify

import (
	"math"
	"time"

	"github.com/saaga0h/parkwatch/internal/thresholds"
)

// State is the display classification of a bay
type State string

const (
	StateFree     State = "FREE"
	StateOccupied State = "OCCUPIED"
	StateOffline  State = "OFFLINE"
	StateUnknown  State = "UNKNOWN"
)

const (
	// minConfidence is the floor below which a decoded state is not shown
	minConfidence = 0.35

	lowBatteryPenalty = 0.20
	poorLinkPenalty   = 0.10
)

// confidenceSteps maps an upper age bound in minutes to a confidence
var confidenceSteps = []struct {
	maxMinutes float64
	confidence float64
}{
	{2, 0.98},
	{5, 0.90},
	{15, 0.75},
	{60, 0.45},
	{180, 0.25},
}

const oldestConfidence = 0.10

// ConfidenceFromAge is the non-increasing step function of reading age
func ConfidenceFromAge(age time.Duration) float64 {
	minutes := age.Minutes()
	for _, step := range confidenceSteps {
		if minutes <= step.maxMinutes {
			return step.confidence
		}
	}
	return oldestConfidence
}

// Confidence applies the battery and link penalties to the age score,
// floored at zero. Both penalties use the tenant's alert thresholds so a
// bay loses confidence exactly when its sensor is alerting.
func Confidence(age time.Duration, batteryPct, rssi *float64, th thresholds.Thresholds) float64 {
	c := ConfidenceFromAge(age)
	if batteryPct != nil && *batteryPct <= th.LowBatteryPct {
		c -= lowBatteryPenalty
	}
	if rssi != nil && *rssi < th.PoorRssiThreshold {
		c -= poorLinkPenalty
	}
	return math.Max(0, c)
}

// Input is what the classifier knows about one bay
type Input struct {
	BayID      string
	HasSensor  bool
	LastSeen   *time.Time
	Occupied   *bool
	BatteryPct *float64
	RSSI       *float64
}

// Record is the outbound classification of one bay
type Record struct {
	BayID      string     `json:"bayId"`
	State      State      `json:"state"`
	Confidence float64    `json:"confidence"`
	AgeMinutes *int       `json:"ageMinutes"`
	LastSeen   *time.Time `json:"lastSeen"`
	Lat        *float64   `json:"lat,omitempty"`
	Lng        *float64   `json:"lng,omitempty"`
}

// Classify evaluates one bay at now. Rules apply in order: no sensor or no
// reading yet is UNKNOWN; age past offlineMinutes is OFFLINE; low
// confidence, a stale reading or no decoded flag is UNKNOWN; otherwise the
// decoded flag decides.
func Classify(in Input, now time.Time, th thresholds.Thresholds) Record {
	rec := Record{BayID: in.BayID, State: StateUnknown}

	if !in.HasSensor || in.LastSeen == nil {
		return rec
	}

	age := now.Sub(*in.LastSeen)
	if age < 0 {
		age = 0
	}
	ageMinutes := int(age / time.Minute)
	lastSeen := *in.LastSeen

	rec.AgeMinutes = &ageMinutes
	rec.LastSeen = &lastSeen

	confidence := Confidence(age, in.BatteryPct, in.RSSI, th)
	rec.Confidence = math.Round(confidence*100) / 100

	switch {
	case age > th.OfflineAfter():
		rec.State = StateOffline
	case confidence < minConfidence || age > th.StaleAfter() || in.Occupied == nil:
		rec.State = StateUnknown
	case *in.Occupied:
		rec.State = StateOccupied
	default:
		rec.State = StateFree
	}
	return rec
}

// Snapshot buckets classified bays. Occupied+Free+Offline+Unknown always
// equals Total.
type Snapshot struct {
	TenantID        string    `json:"tenantId"`
	ZoneID          string    `json:"zoneId,omitempty"`
	GeneratedAt     time.Time `json:"generatedAt"`
	Total           int       `json:"total"`
	Occupied        int       `json:"occupied"`
	Free            int       `json:"free"`
	Offline         int       `json:"offline"`
	Unknown         int       `json:"unknown"`
	CounterOccupied *int      `json:"counterOccupied,omitempty"`
	Bays            []Record  `json:"bays"`
}

// Summarize builds a snapshot from classified records
func Summarize(tenantID, zoneID string, now time.Time, records []Record) Snapshot {
	snap := Snapshot{
		TenantID:    tenantID,
		ZoneID:      zoneID,
		GeneratedAt: now,
		Total:       len(records),
		Bays:        records,
	}
	if snap.Bays == nil {
		snap.Bays = []Record{}
	}

	for _, r := range records {
		switch r.State {
		case StateOccupied:
			snap.Occupied++
		case StateFree:
			snap.Free++
		case StateOffline:
			snap.Offline++
		default:
			snap.Unknown++
		}
	}
	return snap
}
