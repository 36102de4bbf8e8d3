package otel

import (
	"context"

	"github.com/erain9/bourse/pkg/messaging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	instrumentationName = "github.com/erain9/bourse/pkg/otel"
)

// PipelineMetrics counts pipeline events. It is an EventSender so it can be
// chained next to the log and Kafka senders.
type PipelineMetrics struct {
	rejected    metric.Int64Counter
	placed      metric.Int64Counter
	matched     metric.Int64Counter
	corrupt     metric.Int64Counter
	settlements metric.Int64Counter
	settleTime  metric.Float64Histogram
}

// NewPipelineMetrics registers the pipeline instruments on the given meter
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	rejected, err := meter.Int64Counter(
		"bourse.orders.rejected",
		metric.WithDescription("Order lines rejected by the parser"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}

	placed, err := meter.Int64Counter(
		"bourse.orders.placed",
		metric.WithDescription("Orders placed on the book without a match"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}

	matched, err := meter.Int64Counter(
		"bourse.orders.matched",
		metric.WithDescription("Orders matched against a resting order"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}

	corrupt, err := meter.Int64Counter(
		"bourse.book.corrupt_entries",
		metric.WithDescription("Book entries dropped because they could not be parsed"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	settlements, err := meter.Int64Counter(
		"bourse.settlements",
		metric.WithDescription("Completed settlements by status"),
		metric.WithUnit("{settlement}"),
	)
	if err != nil {
		return nil, err
	}

	settleTime, err := meter.Float64Histogram(
		"bourse.settlement.duration",
		metric.WithDescription("Time from match to settlement outcome"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		rejected:    rejected,
		placed:      placed,
		matched:     matched,
		corrupt:     corrupt,
		settlements: settlements,
		settleTime:  settleTime,
	}, nil
}

// NewDefaultPipelineMetrics registers the instruments on the configured meter provider
func NewDefaultPipelineMetrics() (*PipelineMetrics, error) {
	return NewPipelineMetrics(GetMeterProvider().Meter(instrumentationName))
}

// SendEvent implements messaging.EventSender
func (m *PipelineMetrics) SendEvent(ctx context.Context, event *messaging.Event) error {
	switch event.Type {
	case messaging.EventRejected:
		m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", event.Reason)))
	case messaging.EventPlaced:
		m.placed.Add(ctx, 1)
	case messaging.EventMatched:
		m.matched.Add(ctx, 1)
	case messaging.EventCorrupt:
		m.corrupt.Add(ctx, 1)
	case messaging.EventSettled:
		attrs := metric.WithAttributes(attribute.String(AttributeSettleStatus, event.Status))
		m.settlements.Add(ctx, 1, attrs)
		m.settleTime.Record(ctx, event.Duration.Seconds(), attrs)
	}
	return nil
}

var _ messaging.EventSender = (*PipelineMetrics)(nil)
