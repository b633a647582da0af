// Package feed publishes occupancy records and alert lifecycle changes to
// downstream consumers over MQTT and, optionally, Kafka.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/saaga0h/parkwatch/internal/alerting"
	"github.com/saaga0h/parkwatch/internal/ingest"
	"github.com/saaga0h/parkwatch/internal/types"
	"github.com/saaga0h/parkwatch/pkg/kafka"
	"github.com/saaga0h/parkwatch/pkg/mqtt"
)

// OccupancyMessage is the wire form of an ARRIVE or LEAVE record
type OccupancyMessage struct {
	Type        string                `json:"type"`
	Record      types.OccupancyRecord `json:"record"`
	PublishedAt time.Time             `json:"published_at"`
}

// AlertMessage is the wire form of an alert lifecycle change
type AlertMessage struct {
	Type        string          `json:"type"`
	Change      alerting.Change `json:"change"`
	Alert       types.Alert     `json:"alert"`
	PublishedAt time.Time       `json:"published_at"`
}

var (
	_ alerting.Notifier    = (*Publisher)(nil)
	_ ingest.OccupancySink = (*Publisher)(nil)
)

// Publisher fans records out to MQTT and Kafka. Any transport may be nil.
type Publisher struct {
	mqtt           mqtt.Client
	occupancyKafka kafka.Writer
	alertKafka     kafka.Writer
	logger         *slog.Logger
	now            func() time.Time
}

// NewPublisher creates a publisher over the given transports
func NewPublisher(client mqtt.Client, occupancyWriter, alertWriter kafka.Writer, logger *slog.Logger) *Publisher {
	return &Publisher{
		mqtt:           client,
		occupancyKafka: occupancyWriter,
		alertKafka:     alertWriter,
		logger:         logger,
		now:            time.Now,
	}
}

// OccupancyChanged publishes a record to parkwatch/occupancy/{tenant}/{zone}
func (p *Publisher) OccupancyChanged(ctx context.Context, record *types.OccupancyRecord) error {
	payload, err := json.Marshal(OccupancyMessage{
		Type:        "occupancy",
		Record:      *record,
		PublishedAt: p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal occupancy record: %w", err)
	}

	err = p.publish(ctx, mqtt.OccupancyTopic(record.TenantID, record.ZoneID), p.occupancyKafka, record.TenantID, payload)
	if err == nil {
		p.logger.Debug("Published occupancy record",
			"tenant", record.TenantID,
			"zone_id", record.ZoneID,
			"bay_id", record.BayID,
			"kind", record.Kind)
	}
	return err
}

// AlertChanged publishes an alert change to parkwatch/alerts/{tenant}
func (p *Publisher) AlertChanged(ctx context.Context, alert *types.Alert, change alerting.Change) error {
	payload, err := json.Marshal(AlertMessage{
		Type:        "alert",
		Change:      change,
		Alert:       *alert,
		PublishedAt: p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	err = p.publish(ctx, mqtt.AlertTopic(alert.TenantID), p.alertKafka, alert.TenantID, payload)
	if err == nil {
		p.logger.Debug("Published alert change",
			"tenant", alert.TenantID,
			"alert_id", alert.ID,
			"change", change)
	}
	return err
}

func (p *Publisher) publish(ctx context.Context, topic string, writer kafka.Writer, key string, payload []byte) error {
	var errs []error

	if p.mqtt != nil {
		if err := p.mqtt.Publish(topic, mqtt.QoSAtLeastOnce, false, payload); err != nil {
			errs = append(errs, err)
		}
	}
	if writer != nil {
		if err := writer.Write(ctx, key, payload); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Close flushes and closes the Kafka writers
func (p *Publisher) Close() error {
	var errs []error
	for _, w := range []kafka.Writer{p.occupancyKafka, p.alertKafka} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
