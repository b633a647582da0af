package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Writer publishes keyed JSON records to a single topic
type Writer interface {
	// Write publishes one record; the key selects the partition
	Write(ctx context.Context, key string, value []byte) error

	// Close flushes pending records and releases connections
	Close() error
}

type topicWriter struct {
	w      *kafka.Writer
	topic  string
	logger *slog.Logger
}

// NewWriter creates a writer for topic on the given brokers. Records with
// the same key (tenant id) land on the same partition and keep their order.
func NewWriter(brokers []string, topic string, logger *slog.Logger) Writer {
	return &topicWriter{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
		topic:  topic,
		logger: logger,
	}
}

func (t *topicWriter) Write(ctx context.Context, key string, value []byte) error {
	err := t.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to write to kafka topic %s: %w", t.topic, err)
	}

	t.logger.Debug("Wrote kafka record", "topic", t.topic, "key", key, "size", len(value))
	return nil
}

func (t *topicWriter) Close() error {
	if err := t.w.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer for %s: %w", t.topic, err)
	}
	return nil
}
