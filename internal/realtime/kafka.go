package realtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the mirror needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaMirror republishes every event to a Kafka topic. Messages are keyed by
// room so the hash balancer keeps each group's events on one partition, in order.
type KafkaMirror struct {
	writer messageWriter
}

// NewKafkaMirror creates an asynchronous mirror writing to topic.
func NewKafkaMirror(brokers []string, topic string, logger *slog.Logger) *KafkaMirror {
	if logger == nil {
		logger = slog.Default()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Error("kafka event mirror write failed", "messages", len(msgs), "error", err)
			}
		},
	}
	return &KafkaMirror{writer: w}
}

// PublishToUser mirrors a user event.
func (k *KafkaMirror) PublishToUser(ctx context.Context, userID, event string, payload any) error {
	return k.write(ctx, "user:"+userID, event, payload)
}

// PublishToGroup mirrors a group event.
func (k *KafkaMirror) PublishToGroup(ctx context.Context, groupID, event string, payload any) error {
	return k.write(ctx, "group:"+groupID, event, payload)
}

func (k *KafkaMirror) write(ctx context.Context, key, event string, payload any) error {
	value, err := encode(event, payload)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Headers: []kafka.Header{{Key: "event", Value: []byte(event)}},
		Time:    time.Now(),
	})
}

// Close flushes pending messages.
func (k *KafkaMirror) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
