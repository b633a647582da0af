package executor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/saaga0h/parkwatch/e2e/internal/scenario"
	"github.com/saaga0h/parkwatch/pkg/mqtt"
)

// Player publishes scenario readings the way a gateway would
type Player struct {
	client mqtt.Client
	logger *slog.Logger
}

// NewPlayer creates a player on a connected client
func NewPlayer(client mqtt.Client, logger *slog.Logger) *Player {
	return &Player{client: client, logger: logger}
}

// Publish sends one reading, stamped with its virtual time unless the
// payload carries its own timestamp. Redeliveries publish identical bytes.
func (p *Player) Publish(tenantID string, r scenario.Reading, at time.Time) error {
	payload := make(map[string]interface{}, len(r.Payload)+2)
	for k, v := range r.Payload {
		payload[k] = v
	}
	if _, ok := payload["timestamp"]; !ok {
		payload["timestamp"] = at.UTC().Format(time.RFC3339Nano)
	}
	if _, ok := payload["deviceId"]; !ok {
		payload["deviceId"] = r.Device
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	topic := mqtt.RawReadingTopic(tenantID, r.Device)
	for i := 0; i <= r.Redeliver; i++ {
		if err := p.client.Publish(topic, mqtt.QoSAtLeastOnce, false, data); err != nil {
			return err
		}
	}

	p.logger.Debug("Published reading", "topic", topic, "copies", r.Redeliver+1, "payload", string(data))
	return nil
}
