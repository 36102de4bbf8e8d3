package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Span names
	SpanDispatchOrder = "dispatch_order"
	SpanMatchOrder    = "match_order"
	SpanSettle        = "settle"
	SpanReceiveOrder  = "receive_order"

	// Attribute keys
	AttributeOrderSide     = "order.side"
	AttributeOrderSecurity = "order.security"
	AttributeOrderPrice    = "order.price"
	AttributeOrderQuantity = "order.quantity"
	AttributeOrderCustomer = "order.customer_id"
	AttributeBookKey       = "book.key"
	AttributeMatchOutcome  = "match.outcome"
	AttributeAmountCents   = "settlement.amount_cents"
	AttributeSettleStatus  = "settlement.status"
	AttributeRawOrder      = "order.raw"
)

// StartOrderSpan starts a new span for order processing. The returned span is
// nil when tracing is not configured; AddAttributes and EndSpan accept nil.
func StartOrderSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	t := GetTracer()
	if t == nil {
		return ctx, nil
	}
	return t.Start(ctx, name, trace.WithAttributes(attrs...))
}

// AddAttributes adds attributes to a span
func AddAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.SetAttributes(attrs...)
}

// EndSpan records err on the span, if any, and ends it
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
