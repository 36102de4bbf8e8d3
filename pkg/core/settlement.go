package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erain9/bourse/pkg/messaging"
	"github.com/erain9/bourse/pkg/otel"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// SettlementStatus is the lifecycle state of a Settlement
type SettlementStatus int

// Settlement statuses
const (
	Pending SettlementStatus = iota
	Succeeded
	Failed
)

// String returns status name
func (s SettlementStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case Succeeded:
		return messaging.StatusSucceeded
	case Failed:
		return messaging.StatusFailed
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible
func (s SettlementStatus) Terminal() bool {
	return s == Succeeded || s == Failed
}

// Settlement coordinates the funds transfer for exactly one matched pair.
// Its status moves from Pending to Succeeded or Failed once; later completion
// signals are ignored.
type Settlement struct {
	incoming    Order
	resting     Order
	amountCents int64
	started     time.Time

	mu         sync.Mutex
	status     SettlementStatus
	err        error
	failedLegs []Direction
	done       chan struct{}
}

func newSettlement(incoming, resting Order) *Settlement {
	return &Settlement{
		incoming:    incoming,
		resting:     resting,
		amountCents: incoming.NotionalCents(),
		started:     time.Now(),
		status:      Pending,
		done:        make(chan struct{}),
	}
}

// Incoming returns the order that triggered the match
func (s *Settlement) Incoming() Order {
	return s.incoming
}

// Resting returns the order popped from the book
func (s *Settlement) Resting() Order {
	return s.resting
}

// AmountCents is the transferred amount, taken from the incoming order's notional.
// Quantity differences between the two orders are not reconciled.
func (s *Settlement) AmountCents() int64 {
	return s.amountCents
}

// Buyer returns the bid side of the pair
func (s *Settlement) Buyer() Order {
	if s.incoming.Side() == Bid {
		return s.incoming
	}
	return s.resting
}

// Seller returns the ask side of the pair
func (s *Settlement) Seller() Order {
	if s.incoming.Side() == Ask {
		return s.incoming
	}
	return s.resting
}

// Status returns the current status
func (s *Settlement) Status() SettlementStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the failure cause of a Failed settlement
func (s *Settlement) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// FailedLegs lists the legs whose ledger update did not confirm
func (s *Settlement) FailedLegs() []Direction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Direction, len(s.failedLegs))
	copy(out, s.failedLegs)
	return out
}

// Done is closed once the settlement reaches a terminal status
func (s *Settlement) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the settlement completes or ctx ends
func (s *Settlement) Wait(ctx context.Context) (SettlementStatus, error) {
	select {
	case <-s.done:
		return s.Status(), s.Err()
	case <-ctx.Done():
		return s.Status(), ctx.Err()
	}
}

// complete applies a terminal status. It returns false when the settlement
// was already terminal, in which case nothing changes.
func (s *Settlement) complete(status SettlementStatus, err error, failedLegs []Direction) bool {
	if !status.Terminal() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return false
	}
	s.status = status
	s.err = err
	s.failedLegs = failedLegs
	close(s.done)
	return true
}

// Coordinator applies the ledger side of matched pairs: the seller is credited
// and the buyer debited through two independent counter calls. A failure of one
// leg does not roll back the other.
type Coordinator struct {
	store  LedgerStore
	sender messaging.EventSender
	logger zerolog.Logger
}

// NewCoordinator creates a Coordinator. A nil sender disables events.
func NewCoordinator(store LedgerStore, sender messaging.EventSender, logger zerolog.Logger) *Coordinator {
	if sender == nil {
		sender = messaging.NewMockEventSender()
	}
	return &Coordinator{
		store:  store,
		sender: sender,
		logger: logger.With().Str("component", "settlement").Logger(),
	}
}

// Settle starts the settlement of a matched pair and returns without waiting
// for the ledger. Observe the outcome with Settlement.Done or Settlement.Wait.
func (c *Coordinator) Settle(ctx context.Context, incoming, resting Order) *Settlement {
	s := newSettlement(incoming, resting)
	go c.run(ctx, s)
	return s
}

func (c *Coordinator) run(ctx context.Context, s *Settlement) {
	ctx, span := otel.StartOrderSpan(ctx, otel.SpanSettle,
		attribute.String(otel.AttributeBookKey, s.incoming.BookKey()),
		attribute.Int64(otel.AttributeAmountCents, s.amountCents),
	)

	legs := []Order{s.Seller(), s.Buyer()}
	errs := make([]error, len(legs))

	var wg sync.WaitGroup
	for i, leg := range legs {
		wg.Add(1)
		go func(i int, leg Order) {
			defer wg.Done()
			errs[i] = c.applyLeg(ctx, leg, s.amountCents)
		}(i, leg)
	}
	wg.Wait()

	var failed []Direction
	var legErrs []error
	for i, err := range errs {
		if err != nil {
			failed = append(failed, legs[i].Side().Direction())
			legErrs = append(legErrs, err)
		}
	}

	status := Succeeded
	var err error
	if len(legErrs) > 0 {
		status = Failed
		err = fmt.Errorf("%w: %w", ErrLedgerFailure, errors.Join(legErrs...))
	}

	if !s.complete(status, err, failed) {
		c.logger.Warn().Str("incoming", s.incoming.String()).Msg("Ignoring completion of finished settlement")
	}

	otel.AddAttributes(span, attribute.String(otel.AttributeSettleStatus, status.String()))
	otel.EndSpan(span, err)

	c.publish(ctx, s)
}

// applyLeg moves amount cents on the owner's balance in the direction implied by its side
func (c *Coordinator) applyLeg(ctx context.Context, owner Order, amount int64) error {
	key := BalanceKey(owner.CustomerID())

	var err error
	switch owner.Side().Direction() {
	case Credit:
		_, err = c.store.CounterIncrement(ctx, key, amount)
	case Debit:
		_, err = c.store.CounterDecrement(ctx, key, amount)
	}
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", ErrNoConfirmation, err)
	}
	return fmt.Errorf("%s %s: %w", owner.Side().Direction(), key, err)
}

func (c *Coordinator) publish(ctx context.Context, s *Settlement) {
	event := &messaging.Event{
		Type:        messaging.EventSettled,
		Incoming:    s.incoming.String(),
		Resting:     s.resting.String(),
		Status:      s.Status().String(),
		AmountCents: s.amountCents,
		Buyer:       s.Buyer().CustomerID(),
		Seller:      s.Seller().CustomerID(),
		Duration:    time.Since(s.started),
		Time:        time.Now(),
	}
	for _, leg := range s.FailedLegs() {
		event.FailedLegs = append(event.FailedLegs, leg.String())
	}
	if err := s.Err(); err != nil {
		event.Error = err.Error()
	}

	// The pipeline context may already be gone; events are still worth sending.
	if err := c.sender.SendEvent(context.WithoutCancel(ctx), event); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to publish settlement event")
	}
}
