package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/saaga0h/parkwatch/internal/ingest"
	"github.com/saaga0h/parkwatch/pkg/config"
	"github.com/saaga0h/parkwatch/pkg/mqtt"
)

// handleTimeout bounds the work done for one delivery
const handleTimeout = 10 * time.Second

// Agent subscribes to raw readings and feeds them through the pipeline
type Agent struct {
	mqtt      mqtt.Client
	pipeline  *ingest.Pipeline
	processor *Processor
	cfg       *config.Config
	logger    *slog.Logger

	mu       sync.RWMutex
	ctx      context.Context
	inflight sync.WaitGroup
	now      func() time.Time
}

// NewAgent creates a new collector agent with the given dependencies
func NewAgent(mqttClient mqtt.Client, pipeline *ingest.Pipeline, cfg *config.Config, logger *slog.Logger) *Agent {
	return &Agent{
		mqtt:      mqttClient,
		pipeline:  pipeline,
		processor: NewProcessor(logger),
		cfg:       cfg,
		logger:    logger,
		ctx:       context.Background(),
		now:       time.Now,
	}
}

// Start subscribes to the ingest topic and blocks until ctx is cancelled.
// The MQTT client must already be connected.
func (a *Agent) Start(ctx context.Context) error {
	a.logger.Info("Starting collector agent",
		"service_name", a.cfg.ServiceName,
		"mqtt_broker", a.cfg.MQTTAddress(),
		"topic", a.cfg.IngestTopic)

	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()

	// QoS 1: every handler must tolerate re-delivery
	if err := a.mqtt.Subscribe(a.cfg.IngestTopic, mqtt.QoSAtLeastOnce, a.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", a.cfg.IngestTopic, err)
	}

	a.logger.Info("Collector agent started and ready to receive readings")

	<-ctx.Done()
	a.logger.Info("Collector agent stopping")
	return nil
}

// Stop waits for in-flight deliveries to finish
func (a *Agent) Stop() error {
	a.logger.Info("Stopping collector agent")
	a.inflight.Wait()
	a.logger.Info("Collector agent stopped")
	return nil
}

// handleMessage processes one raw reading delivery
func (a *Agent) handleMessage(msg mqtt.Message) {
	a.inflight.Add(1)
	defer a.inflight.Done()

	receivedAt := a.now()
	topic := msg.Topic()

	a.logger.Debug("Received MQTT message",
		"topic", topic,
		"size", len(msg.Payload()),
		"duplicate", msg.Duplicate())

	in, err := a.processor.ParseMessage(topic, msg.Payload(), receivedAt)
	if err != nil {
		a.logger.Error("Failed to parse message", "topic", topic, "error", err)
		return
	}

	a.mu.RLock()
	parent := a.ctx
	a.mu.RUnlock()

	ctx, cancel := context.WithTimeout(parent, handleTimeout)
	defer cancel()

	res := a.pipeline.Process(ctx, *in)

	switch res.Outcome {
	case ingest.OutcomeAccepted:
		attrs := []any{"tenant", in.TenantID, "device_id", in.DeviceHint}
		if res.Transition != nil && res.Transition.Changed {
			attrs = append(attrs, "bay_id", res.Transition.BayID, "from", res.Transition.From, "to", res.Transition.To)
		}
		a.logger.Info("Reading processed", attrs...)
	case ingest.OutcomeFailed:
		a.logger.Error("Reading processing failed",
			"tenant", in.TenantID,
			"device_id", in.DeviceHint,
			"error", res.Err)
	default:
		a.logger.Debug("Reading not applied",
			"tenant", in.TenantID,
			"device_id", in.DeviceHint,
			"outcome", res.Outcome)
	}
}
