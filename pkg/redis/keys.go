package redis

import "fmt"

// ReplayCursorKey holds the last acknowledged row sequence of a replayed source file
// Pattern: cursor:{tenant}:{source}
func ReplayCursorKey(tenantID, source string) string {
	return fmt.Sprintf("cursor:%s:%s", tenantID, source)
}

// DeliveryMarkerKey marks a live reading as already accepted
// Pattern: delivered:{tenant}:{deviceId}:{timestampMs}
func DeliveryMarkerKey(tenantID, deviceID string, timestampMs int64) string {
	return fmt.Sprintf("delivered:%s:%s:%d", tenantID, deviceID, timestampMs)
}
