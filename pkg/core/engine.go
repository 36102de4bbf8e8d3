package core

import (
	"context"
	"fmt"
	"time"

	"github.com/erain9/bourse/pkg/messaging"
	"github.com/erain9/bourse/pkg/otel"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// OutcomeKind tells what Submit did with an order
type OutcomeKind int

// Match outcomes
const (
	OutcomePlaced OutcomeKind = iota
	OutcomeMatched
)

// String returns outcome name
func (k OutcomeKind) String() string {
	if k == OutcomeMatched {
		return "matched"
	}
	return "placed"
}

// MatchOutcome is the result of submitting one order
type MatchOutcome struct {
	Order      Order
	Kind       OutcomeKind
	Resting    Order
	Settlement *Settlement
}

// Matched reports whether the order found a counter-order
func (m MatchOutcome) Matched() bool {
	return m.Kind == OutcomeMatched
}

// Engine matches incoming orders against resting orders at exactly the same
// security and price, oldest first. The match decision is a single atomic pop
// on the store, so several engines may share one store.
type Engine struct {
	store       LedgerStore
	coordinator *Coordinator
	sender      messaging.EventSender
	logger      zerolog.Logger
}

// NewEngine creates an Engine. A nil sender disables events.
func NewEngine(store LedgerStore, coordinator *Coordinator, sender messaging.EventSender, logger zerolog.Logger) *Engine {
	if sender == nil {
		sender = messaging.NewMockEventSender()
	}
	return &Engine{
		store:       store,
		coordinator: coordinator,
		sender:      sender,
		logger:      logger.With().Str("component", "matching").Logger(),
	}
}

// Submit pops the oldest counter-order at the order's opposite key. On a hit the
// pair is handed to the Coordinator and the returned outcome carries the pending
// Settlement; on a miss the order is appended to its own queue.
//
// A popped entry that does not parse is dropped and ErrBookCorruption is
// returned. The entry is not put back.
func (e *Engine) Submit(ctx context.Context, order Order) (outcome MatchOutcome, err error) {
	ctx, span := otel.StartOrderSpan(ctx, otel.SpanMatchOrder,
		attribute.String(otel.AttributeOrderSide, order.Side().String()),
		attribute.String(otel.AttributeOrderSecurity, order.Security()),
		attribute.String(otel.AttributeOrderPrice, FormatPrice(order.Price())),
		attribute.Int64(otel.AttributeOrderQuantity, order.Quantity()),
		attribute.String(otel.AttributeOrderCustomer, order.CustomerID()),
	)
	defer func() {
		otel.AddAttributes(span, attribute.String(otel.AttributeMatchOutcome, outcome.Kind.String()))
		otel.EndSpan(span, err)
	}()

	outcome = MatchOutcome{Order: order}

	raw, ok, err := e.store.QueuePop(ctx, order.OppositeKey())
	if err != nil {
		return outcome, fmt.Errorf("pop %s: %w", order.OppositeKey(), err)
	}

	if !ok {
		if err := e.store.QueuePush(ctx, order.BookKey(), order.String()); err != nil {
			return outcome, fmt.Errorf("push %s: %w", order.BookKey(), err)
		}
		outcome.Kind = OutcomePlaced
		e.emit(ctx, &messaging.Event{
			Type:     messaging.EventPlaced,
			Incoming: order.String(),
			Key:      order.BookKey(),
		})
		return outcome, nil
	}

	resting, perr := ParseOrder(raw)
	if perr == nil && (resting.Side() != order.Side().Opposite() || resting.OppositeKey() != order.BookKey()) {
		perr = fmt.Errorf("entry %q does not belong to %s", raw, order.OppositeKey())
	}
	if perr != nil {
		e.emit(ctx, &messaging.Event{
			Type:     messaging.EventCorrupt,
			Raw:      raw,
			Key:      order.OppositeKey(),
			Incoming: order.String(),
			Error:    perr.Error(),
		})
		return outcome, fmt.Errorf("%w at %s: %w", ErrBookCorruption, order.OppositeKey(), perr)
	}

	e.emit(ctx, &messaging.Event{
		Type:     messaging.EventMatched,
		Incoming: order.String(),
		Resting:  resting.String(),
		Key:      order.OppositeKey(),
	})

	outcome.Kind = OutcomeMatched
	outcome.Resting = resting
	outcome.Settlement = e.coordinator.Settle(ctx, order, resting)
	return outcome, nil
}

func (e *Engine) emit(ctx context.Context, event *messaging.Event) {
	event.Time = time.Now()
	if err := e.sender.SendEvent(ctx, event); err != nil {
		e.logger.Warn().Err(err).Str("event", string(event.Type)).Msg("Failed to publish event")
	}
}
