package executor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/saaga0h/parkwatch/e2e/internal/checker"
	"github.com/saaga0h/parkwatch/pkg/mqtt"
)

// Observer captures the agent's outbound feed for one tenant
type Observer struct {
	client   mqtt.Client
	logger   *slog.Logger
	mu       sync.RWMutex
	messages []checker.CapturedMessage
}

// NewObserver creates an observer on a connected client
func NewObserver(client mqtt.Client, logger *slog.Logger) *Observer {
	return &Observer{client: client, logger: logger}
}

// Start subscribes to the tenant's occupancy and alert topics
func (o *Observer) Start(tenantID string) error {
	topics := []string{
		mqtt.OccupancyTopic(tenantID, "+"),
		mqtt.AlertTopic(tenantID),
	}
	for _, topic := range topics {
		if err := o.client.Subscribe(topic, mqtt.QoSAtLeastOnce, o.handle); err != nil {
			return err
		}
	}
	return nil
}

func (o *Observer) handle(msg mqtt.Message) {
	var payload interface{}
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		payload = string(msg.Payload())
	}

	o.mu.Lock()
	o.messages = append(o.messages, checker.CapturedMessage{
		Timestamp: time.Now(),
		Topic:     msg.Topic(),
		Payload:   payload,
	})
	o.mu.Unlock()

	o.logger.Debug("Captured feed message", "topic", msg.Topic(), "size", len(msg.Payload()))
}

// Messages returns a copy of everything captured so far
func (o *Observer) Messages() []checker.CapturedMessage {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]checker.CapturedMessage, len(o.messages))
	copy(out, o.messages)
	return out
}

// SaveCapture writes the captured messages as JSON
func (o *Observer) SaveCapture(path string) error {
	data, err := json.MarshalIndent(o.Messages(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal capture: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create capture directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write capture: %w", err)
	}
	return nil
}
