package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/erain9/bourse/pkg/messaging"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the sender needs
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventSender publishes pipeline events to a Kafka topic as JSON, keyed by the
// incoming order so that events of one order stay on one partition.
type EventSender struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
}

// NewEventSender creates a Kafka event sender
func NewEventSender(brokers []string, topic string) *EventSender {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return newEventSender(writer, topic)
}

func newEventSender(writer messageWriter, topic string) *EventSender {
	return &EventSender{
		writer:  writer,
		topic:   topic,
		timeout: 5 * time.Second,
	}
}

// SendEvent implements messaging.EventSender
func (k *EventSender) SendEvent(ctx context.Context, event *messaging.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Type, err)
	}

	msg := kafka.Message{
		Key:   []byte(event.PartitionKey()),
		Value: data,
		Time:  event.Time,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to send event to %s: %w", k.topic, err)
	}
	return nil
}

// Close closes the Kafka writer
func (k *EventSender) Close() error {
	return k.writer.Close()
}
