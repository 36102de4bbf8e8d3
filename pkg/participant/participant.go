package participant

import (
	"math/rand"

	"github.com/erain9/bourse/pkg/core"
	"github.com/google/uuid"
	"github.com/nikolaydubina/fpdecimal"
)

// Action is what a participant decides to do in one period
type Action int

// Participant actions
const (
	GetLong Action = iota
	GetShort
	DoNothing
)

// String returns action name
func (a Action) String() string {
	switch a {
	case GetLong:
		return "get_long"
	case GetShort:
		return "get_short"
	default:
		return "do_nothing"
	}
}

// Pricing controls how far from the mid price participants quote
type Pricing struct {
	// Magnitude bounds the number of steps, exclusive
	Magnitude int
	// Step is the price increment, e.g. 0.25
	Step float64
}

// Participant is one simulated trader. Balance is in cents and mirrors the
// ledger's balance counter.
type Participant struct {
	ID          string
	Balance     int64
	MarginLimit int64
}

// NewParticipant creates a participant with a short random id
func NewParticipant(balance, marginLimit int64) *Participant {
	return &Participant{
		ID:          uuid.NewString()[:7],
		Balance:     balance,
		MarginLimit: marginLimit,
	}
}

// CanTrade reports whether the participant still has buying power
func (p *Participant) CanTrade() bool {
	return p.Balance+p.MarginLimit > 0
}

// Decide picks an action and a security and builds the order, if any
func (p *Participant) Decide(rng *rand.Rand, securities []Security, pricing Pricing, volume int64) (core.Order, Action, error) {
	action := Action(rng.Intn(3))
	security := securities[rng.Intn(len(securities))]

	switch action {
	case GetLong:
		order, err := p.buildOrder(core.Bid, security, p.BidPrice(rng, security, pricing), volume)
		return order, action, err
	case GetShort:
		order, err := p.buildOrder(core.Ask, security, p.AskPrice(rng, security, pricing), volume)
		return order, action, err
	default:
		return core.Order{}, DoNothing, nil
	}
}

// BidPrice quotes below the mid price, never below zero
func (p *Participant) BidPrice(rng *rand.Rand, security Security, pricing Pricing) fpdecimal.Decimal {
	price := security.MidPrice().Float64() - priceDelta(rng, pricing)
	if price < 0 {
		price = 0
	}
	return fpdecimal.FromFloat(price)
}

// AskPrice quotes above the mid price
func (p *Participant) AskPrice(rng *rand.Rand, security Security, pricing Pricing) fpdecimal.Decimal {
	return fpdecimal.FromFloat(security.MidPrice().Float64() + priceDelta(rng, pricing))
}

func (p *Participant) buildOrder(side core.Side, security Security, price fpdecimal.Decimal, volume int64) (core.Order, error) {
	return core.NewOrder(side, security.Symbol, price, volume, p.ID)
}

// priceDelta is a random multiple of the step below the magnitude
func priceDelta(rng *rand.Rand, pricing Pricing) float64 {
	return float64(rng.Intn(pricing.Magnitude)) * pricing.Step
}
