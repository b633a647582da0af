package mqtt

import "context"

// Client is the subset of MQTT behaviour the agent depends on
type Client interface {
	// Connect blocks until the broker accepts the session or ctx ends
	Connect(ctx context.Context) error

	// Disconnect announces a graceful offline status, then closes
	Disconnect()

	Subscribe(topic string, qos byte, handler MessageHandler) error

	// Publish waits for the broker acknowledgement, bounded by a timeout
	Publish(topic string, qos byte, retained bool, payload []byte) error

	IsConnected() bool
}

// MessageHandler is called from paho's delivery goroutines
type MessageHandler func(Message)

// Message is an inbound reading or feed event
type Message interface {
	Topic() string
	Payload() []byte

	// MessageID is the broker packet id; zero for QoS 0
	MessageID() uint16

	// Duplicate reports whether the broker flagged this as a re-delivery
	Duplicate() bool

	// Ack acknowledges the message (for QoS > 0)
	Ack()
}
