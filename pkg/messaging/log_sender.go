package messaging

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSender writes events as structured log entries.
type LogSender struct {
	logger zerolog.Logger
}

// NewLogSender creates a LogSender on top of the given logger.
func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "events").Logger()}
}

// SendEvent logs the event at a level matching its outcome.
func (l *LogSender) SendEvent(ctx context.Context, event *Event) error {
	var e *zerolog.Event
	switch {
	case event.Type == EventRejected:
		e = l.logger.Warn().Str("raw", event.Raw).Str("reason", event.Reason)
	case event.Type == EventCorrupt:
		e = l.logger.Error().Str("raw", event.Raw).Str("key", event.Key).Str("incoming", event.Incoming)
	case event.Type == EventSettled && event.Status == StatusFailed:
		e = l.logger.Error().
			Str("incoming", event.Incoming).
			Str("resting", event.Resting).
			Strs("failed_legs", event.FailedLegs).
			Str("error", event.Error)
	case event.Type == EventSettled:
		e = l.logger.Info().
			Str("incoming", event.Incoming).
			Str("resting", event.Resting).
			Str("buyer", event.Buyer).
			Str("seller", event.Seller).
			Int64("amount_cents", event.AmountCents).
			Dur("duration", event.Duration)
	case event.Type == EventMatched:
		e = l.logger.Info().Str("incoming", event.Incoming).Str("resting", event.Resting)
	default:
		e = l.logger.Debug().Str("incoming", event.Incoming).Str("key", event.Key)
	}

	if event.Status != "" {
		e = e.Str("status", event.Status)
	}
	e.Str("event", string(event.Type)).Msg("Order pipeline event")
	return nil
}

// MultiSender fans an event out to several senders. Every sender is tried;
// the first error is returned.
type MultiSender []EventSender

// SendEvent implements EventSender
func (m MultiSender) SendEvent(ctx context.Context, event *Event) error {
	var firstErr error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.SendEvent(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var (
	_ EventSender = (*LogSender)(nil)
	_ EventSender = MultiSender(nil)
)
