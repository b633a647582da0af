package collector

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/saaga0h/parkwatch/internal/ingest"
	"github.com/saaga0h/parkwatch/pkg/mqtt"
)

// Processor turns MQTT deliveries into pipeline inputs
type Processor struct {
	logger *slog.Logger
}

// NewProcessor creates a new message processor
func NewProcessor(logger *slog.Logger) *Processor {
	return &Processor{
		logger: logger,
	}
}

// ParseMessage builds a live pipeline input from a raw reading delivery.
// Topic pattern: parkwatch/raw/{tenant}/{deviceId}
func (p *Processor) ParseMessage(topic string, payload []byte, receivedAt time.Time) (*ingest.Input, error) {
	tenantID, deviceID, err := mqtt.ParseRawReadingTopic(topic)
	if err != nil {
		p.logger.Warn("Invalid topic format", "topic", topic)
		return nil, err
	}

	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload on %s", topic)
	}

	p.logger.Debug("Parsed reading delivery",
		"tenant", tenantID,
		"device_id", deviceID,
		"size", len(payload))

	return &ingest.Input{
		TenantID:   tenantID,
		Raw:        payload,
		Live:       true,
		DeviceHint: deviceID,
		ReceivedAt: receivedAt.UTC(),
	}, nil
}
