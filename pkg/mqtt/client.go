package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/saaga0h/parkwatch/pkg/config"
)

const (
	publishTimeout    = 5 * time.Second
	subscribeTimeout  = 10 * time.Second
	disconnectQuiesce = 250
)

// mqttClient implements the Client interface using the Paho MQTT client
type mqttClient struct {
	client   pahomqtt.Client
	cfg      *config.Config
	clientID string
	logger   *slog.Logger
}

// StatusMessage is the retained presence record on StatusTopic
type StatusMessage struct {
	Status    string    `json:"status"`
	ClientID  string    `json:"client_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func statusPayload(clientID, status, reason string, at time.Time) []byte {
	// A flat struct of strings and a time cannot fail to marshal
	data, _ := json.Marshal(StatusMessage{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: at.UTC(),
	})
	return data
}

// NewClient creates a new MQTT client with the given configuration.
// Sessions are persistent and messages unordered so QoS 1 readings for
// different bays can be handled concurrently and survive reconnects. The
// broker publishes a retained offline status if the process dies.
func NewClient(cfg *config.Config, logger *slog.Logger) Client {
	clientID := cfg.MQTTClientID
	if clientID == "" {
		// A stable client id is required for the broker to keep the session
		clientID = cfg.ServiceName
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTAddress())
	opts.SetClientID(clientID)

	if cfg.MQTTUser != "" {
		opts.SetUsername(cfg.MQTTUser)
	}
	if cfg.MQTTPassword != "" {
		opts.SetPassword(cfg.MQTTPassword)
	}

	opts.SetCleanSession(false)
	opts.SetResumeSubs(true)
	opts.SetOrderMatters(false)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetBinaryWill(StatusTopic(clientID), statusPayload(clientID, "offline", "unexpected_disconnect", time.Now()), QoSAtLeastOnce, true)

	m := &mqttClient{
		cfg:      cfg,
		clientID: clientID,
		logger:   logger,
	}

	opts.OnConnect = func(c pahomqtt.Client) {
		logger.Info("Connected to MQTT broker", "broker", cfg.MQTTAddress(), "client_id", clientID)
		// Presence is best effort; readings do not depend on it
		c.Publish(StatusTopic(clientID), QoSAtLeastOnce, true, statusPayload(clientID, "online", "", time.Now()))
	}

	opts.OnConnectionLost = func(c pahomqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "error", err)
	}

	opts.OnReconnecting = func(c pahomqtt.Client, opts *pahomqtt.ClientOptions) {
		logger.Info("MQTT reconnecting...")
	}

	m.client = pahomqtt.NewClient(opts)
	return m
}

// Connect establishes a connection to the MQTT broker
func (m *mqttClient) Connect(ctx context.Context) error {
	m.logger.Info("Connecting to MQTT broker", "broker", m.cfg.MQTTAddress())

	token := m.client.Connect()

	select {
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("connection timeout: %w", ctx.Err())
	}
}

// Disconnect publishes a graceful offline status and closes the connection
func (m *mqttClient) Disconnect() {
	m.logger.Info("Disconnecting from MQTT broker")

	if m.client.IsConnected() {
		token := m.client.Publish(StatusTopic(m.clientID), QoSAtLeastOnce, true,
			statusPayload(m.clientID, "offline", "graceful_shutdown", time.Now()))
		token.WaitTimeout(publishTimeout)
	}
	m.client.Disconnect(disconnectQuiesce)
}

// Subscribe subscribes to a topic with the given QoS and handler
func (m *mqttClient) Subscribe(topic string, qos byte, handler MessageHandler) error {
	m.logger.Info("Subscribing to MQTT topic", "topic", topic, "qos", qos)

	token := m.client.Subscribe(topic, qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(&mqttMessage{msg: msg})
	})

	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("timed out subscribing to topic %s", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}
	return nil
}

// Publish publishes a message to a topic and waits for the broker
// acknowledgement at QoS > 0
func (m *mqttClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := m.client.Publish(topic, qos, retained, payload)

	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing to topic %s", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	m.logger.Debug("Published message", "topic", topic, "size", len(payload))
	return nil
}

// IsConnected returns whether the client is currently connected
func (m *mqttClient) IsConnected() bool {
	return m.client.IsConnected()
}

// mqttMessage adapts a Paho message to Message
type mqttMessage struct {
	msg pahomqtt.Message
}

func (m *mqttMessage) Topic() string     { return m.msg.Topic() }
func (m *mqttMessage) Payload() []byte   { return m.msg.Payload() }
func (m *mqttMessage) MessageID() uint16 { return m.msg.MessageID() }
func (m *mqttMessage) Duplicate() bool   { return m.msg.Duplicate() }
func (m *mqttMessage) Ack()              { m.msg.Ack() }
