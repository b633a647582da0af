package ingest

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/saaga0h/parkwatch/internal/types"
)

// Inbound status values
const (
	StatusOccupied = "occupied"
	StatusVacant   = "vacant"
)

// unixMillisFloor separates numeric timestamps in seconds from milliseconds
const unixMillisFloor = 1e12

// ValidationError is returned for readings that cannot be normalized. The
// reading is dead-lettered; it is never fatal for the caller.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid reading: " + e.Reason
}

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Reading is a decoded inbound sensor reading
type Reading struct {
	DeviceID   string
	ZoneID     string
	BayID      string
	Timestamp  time.Time
	Occupied   *bool
	BatteryPct *float64
	RSSI       *float64
	SNR        *float64
	Mode       string
	GatewayID  *string
	// Payload is the raw object with the occupied flag normalized
	Payload map[string]interface{}
	// Dropped lists optional fields that were present but unusable
	Dropped []string
}

// Decode parses one JSON reading. deviceHint is the device id carried by
// the transport (MQTT topic); when set it must agree with the payload.
// The timestamp is mandatory on every path: it is the live idempotency
// sequence, and a receive time would differ on each broker re-delivery.
func Decode(raw []byte, deviceHint string) (*Reading, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, invalid("malformed JSON: %v", err)
	}
	if obj == nil {
		return nil, invalid("reading is not a JSON object")
	}

	// Gateways may wrap the reading as {"data": {...}}
	if data, ok := obj["data"].(map[string]interface{}); ok {
		obj = data
	}

	r := &Reading{Payload: obj}

	r.DeviceID = firstString(obj, "deviceId", "sensorId")
	switch {
	case r.DeviceID == "" && deviceHint == "":
		return nil, invalid("missing deviceId")
	case r.DeviceID == "":
		r.DeviceID = deviceHint
	case deviceHint != "" && r.DeviceID != deviceHint:
		return nil, invalid("deviceId %q does not match topic device %q", r.DeviceID, deviceHint)
	}

	ts, err := parseTimestamp(obj)
	if err != nil {
		return nil, err
	}
	r.Timestamp = ts

	r.ZoneID = firstString(obj, "zoneId")
	r.BayID = firstString(obj, "bayId")
	r.Mode = firstString(obj, "mode")
	if gw := firstString(obj, "gatewayId"); gw != "" {
		r.GatewayID = &gw
	}

	occupied, err := parseOccupied(obj)
	if err != nil {
		return nil, err
	}
	r.Occupied = occupied
	if occupied != nil {
		obj[types.PayloadOccupied] = *occupied
	} else {
		delete(obj, types.PayloadOccupied)
	}

	if v, ok := number(obj, "battery"); ok {
		if v >= 0 && v <= 100 {
			r.BatteryPct = &v
		} else {
			r.Dropped = append(r.Dropped, "battery")
		}
	} else if _, present := obj["battery"]; present {
		r.Dropped = append(r.Dropped, "battery")
	}

	if v, ok := number(obj, "signal"); ok {
		r.RSSI = &v
	} else if _, present := obj["signal"]; present {
		r.Dropped = append(r.Dropped, "signal")
	}

	if v, ok := number(obj, "snr"); ok {
		r.SNR = &v
	} else if _, present := obj["snr"]; present {
		r.Dropped = append(r.Dropped, "snr")
	}

	return r, nil
}

func parseTimestamp(obj map[string]interface{}) (time.Time, error) {
	for _, key := range []string{"timestamp", "receivedAt"} {
		v, present := obj[key]
		if !present || v == nil {
			continue
		}

		switch t := v.(type) {
		case string:
			ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(t))
			if err != nil {
				return time.Time{}, invalid("invalid %s %q", key, t)
			}
			return ts.UTC(), nil
		case float64:
			if t <= 0 || math.IsInf(t, 0) || math.IsNaN(t) {
				return time.Time{}, invalid("invalid %s %v", key, t)
			}
			if t < unixMillisFloor {
				return time.Unix(0, int64(t*float64(time.Second))).UTC(), nil
			}
			return time.UnixMilli(int64(t)).UTC(), nil
		default:
			return time.Time{}, invalid("invalid %s type %T", key, v)
		}
	}

	return time.Time{}, invalid("missing timestamp")
}

// parseOccupied reads the explicit boolean first, then the status string.
// Absence of both means a heartbeat.
func parseOccupied(obj map[string]interface{}) (*bool, error) {
	if v, present := obj[types.PayloadOccupied]; present && v != nil {
		b, ok := v.(bool)
		if !ok {
			return nil, invalid("occupied must be a boolean")
		}
		return &b, nil
	}

	status, present := obj["status"]
	if !present || status == nil {
		return nil, nil
	}
	s, ok := status.(string)
	if !ok {
		return nil, invalid("status must be a string")
	}

	var b bool
	switch strings.ToLower(strings.TrimSpace(s)) {
	case StatusOccupied:
		b = true
	case StatusVacant:
		b = false
	default:
		return nil, invalid("unknown status %q", s)
	}
	return &b, nil
}

func firstString(obj map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func number(obj map[string]interface{}, key string) (float64, bool) {
	v, ok := obj[key].(float64)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
