package mqtt

import (
	"fmt"
	"strings"
)

// Topic layout for parkwatch traffic
const (
	// Raw readings published by gateways (input)
	TopicRawReadings = "parkwatch/raw/+/+"

	// Occupancy records and alerts published by the agent (output)
	TopicOccupancyBase = "parkwatch/occupancy"
	TopicAlertBase     = "parkwatch/alerts"

	// Retained online/offline presence per client
	TopicStatusBase = "parkwatch/status"

	// QoSAtLeastOnce is used for ingestion; handlers must tolerate re-delivery
	QoSAtLeastOnce byte = 1
)

// RawReadingTopic constructs the topic a gateway publishes a device reading to
// Pattern: parkwatch/raw/{tenant}/{deviceId}
func RawReadingTopic(tenantID, deviceID string) string {
	return fmt.Sprintf("parkwatch/raw/%s/%s", tenantID, deviceID)
}

// OccupancyTopic constructs the topic ARRIVE/LEAVE records are published to
// Pattern: parkwatch/occupancy/{tenant}/{zoneId}
func OccupancyTopic(tenantID, zoneID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicOccupancyBase, tenantID, zoneID)
}

// AlertTopic constructs the topic alert lifecycle changes are published to
// Pattern: parkwatch/alerts/{tenant}
func AlertTopic(tenantID string) string {
	return fmt.Sprintf("%s/%s", TopicAlertBase, tenantID)
}

// StatusTopic constructs the retained presence topic of a client
// Pattern: parkwatch/status/{clientId}
func StatusTopic(clientID string) string {
	return fmt.Sprintf("%s/%s", TopicStatusBase, clientID)
}

// ParseRawReadingTopic extracts tenant and device id from a raw reading topic.
// The tenant segment is trusted because the broker ACL only lets a gateway
// publish under its own tenant prefix.
func ParseRawReadingTopic(topic string) (tenantID, deviceID string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "parkwatch" || parts[1] != "raw" {
		return "", "", fmt.Errorf("invalid topic format: %s (expected parkwatch/raw/{tenant}/{deviceId})", topic)
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", fmt.Errorf("invalid topic format: %s (empty tenant or device segment)", topic)
	}
	return parts[2], parts[3], nil
}
