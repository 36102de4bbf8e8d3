package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/erain9/bourse/pkg/messaging"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// EventHandler processes one decoded event
type EventHandler func(event messaging.Event) error

// EventConsumer reads pipeline events back from Kafka, for tooling and tests
type EventConsumer struct {
	reader *kafka.Reader
	logger zerolog.Logger
}

// NewEventConsumer creates a consumer in the given group
func NewEventConsumer(brokers []string, topic, groupID string, logger zerolog.Logger) *EventConsumer {
	return &EventConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		logger: logger.With().Str("component", "event-consumer").Logger(),
	}
}

// Consume calls handler for every event until ctx ends. Undecodable messages
// are logged and skipped.
func (c *EventConsumer) Consume(ctx context.Context, handler EventHandler) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}

		event, err := DecodeEvent(msg.Value)
		if err != nil {
			c.logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("Skipping undecodable event")
			continue
		}
		if err := handler(event); err != nil {
			return err
		}
	}
}

// Close closes the reader
func (c *EventConsumer) Close() error {
	return c.reader.Close()
}

// DecodeEvent parses an event payload
func DecodeEvent(data []byte) (messaging.Event, error) {
	var event messaging.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return messaging.Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	if event.Type == "" {
		return messaging.Event{}, errors.New("event without type")
	}
	return event, nil
}

// LogHandler returns a handler that logs each event, used by the dev consumer
func LogHandler(logger zerolog.Logger) EventHandler {
	sender := messaging.NewLogSender(logger)
	return func(event messaging.Event) error {
		return sender.SendEvent(context.Background(), &event)
	}
}
