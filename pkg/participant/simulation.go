package participant

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/erain9/bourse/pkg/core"
	"github.com/rs/zerolog"
)

// Stats counts what the simulation did
type Stats struct {
	Periods  uint64
	Orders   uint64
	Idle     uint64
	Skipped  uint64
	Failures uint64
}

// Simulation drives a population of participants against the exchange.
// Every period each participant refreshes its balance from the ledger and,
// while it has buying power, gets long, gets short or does nothing.
type Simulation struct {
	cfg          *Config
	logger       zerolog.Logger
	store        BalanceStore
	writer       OrderWriter
	securities   []Security
	participants []*Participant
	rng          *rand.Rand

	periods, orders, idle, skipped, failures atomic.Uint64
}

// NewSimulation creates the participants. Balances are not written until Seed.
func NewSimulation(cfg *Config, logger zerolog.Logger, store BalanceStore, writer OrderWriter, securities []Security) *Simulation {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	participants := make([]*Participant, cfg.Participants)
	for i := range participants {
		participants[i] = NewParticipant(cfg.StartingBalance, cfg.MarginLimit)
	}

	return &Simulation{
		cfg:          cfg,
		logger:       logger.With().Str("component", "participants").Logger(),
		store:        store,
		writer:       writer,
		securities:   securities,
		participants: participants,
		rng:          rand.New(rand.NewSource(seed)),
	}
}

// SetWriter replaces the order writer. Use before Run.
func (s *Simulation) SetWriter(w OrderWriter) {
	s.writer = w
}

// Participants returns the simulated population
func (s *Simulation) Participants() []*Participant {
	return s.participants
}

// Seed writes every participant's starting balance to the ledger
func (s *Simulation) Seed(ctx context.Context) error {
	for _, p := range s.participants {
		if err := s.store.CounterSet(ctx, core.BalanceKey(p.ID), p.Balance); err != nil {
			return fmt.Errorf("seed balance for %s: %w", p.ID, err)
		}
	}
	s.logger.Info().Int("participants", len(s.participants)).Int64("balance", s.cfg.StartingBalance).Msg("Balances initialised")
	return nil
}

// Run ticks for the configured number of periods, or until ctx ends
func (s *Simulation) Run(ctx context.Context) error {
	s.logger.Info().
		Int("periods", s.cfg.Periods).
		Dur("tick", s.cfg.TickInterval).
		Msg("Starting participants")

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for period := 1; period <= s.cfg.Periods; period++ {
		select {
		case <-ctx.Done():
			s.logger.Info().Int("period", period).Msg("Context cancelled, stopping participants")
			return ctx.Err()
		case <-ticker.C:
		}
		if err := s.Tick(ctx); err != nil {
			return err
		}
	}

	s.logger.Info().Interface("stats", s.Stats()).Msg("Participants finished")
	return nil
}

// Tick lets every participant act once. Per-participant failures are logged
// and counted; only a cancelled context stops the tick.
func (s *Simulation) Tick(ctx context.Context) error {
	s.periods.Add(1)
	pricing := Pricing{Magnitude: s.cfg.PriceMagnitude, Step: s.cfg.PriceStep}

	for _, p := range s.participants {
		if err := ctx.Err(); err != nil {
			return err
		}

		balance, ok, err := s.store.CounterGet(ctx, core.BalanceKey(p.ID))
		if err != nil {
			s.failures.Add(1)
			s.logger.Error().Err(err).Str("participant", p.ID).Msg("Failed to read balance")
			continue
		}
		if ok {
			p.Balance = balance
		}
		if !p.CanTrade() {
			s.skipped.Add(1)
			continue
		}

		order, action, err := p.Decide(s.rng, s.securities, pricing, s.cfg.Volume)
		if err != nil {
			s.failures.Add(1)
			s.logger.Error().Err(err).Str("participant", p.ID).Msg("Failed to build order")
			continue
		}
		if action == DoNothing {
			s.idle.Add(1)
			continue
		}

		line := order.String()
		if err := s.writer.WriteOrder(ctx, line); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.failures.Add(1)
			s.logger.Error().Err(err).Str("order", line).Msg("Failed to place order")
			continue
		}
		s.orders.Add(1)
		s.logger.Debug().Str("order", line).Str("action", action.String()).Msg("Placing order")
	}
	return nil
}

// Stats returns a snapshot of the counters
func (s *Simulation) Stats() Stats {
	return Stats{
		Periods:  s.periods.Load(),
		Orders:   s.orders.Load(),
		Idle:     s.idle.Load(),
		Skipped:  s.skipped.Load(),
		Failures: s.failures.Load(),
	}
}
