package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erain9/bourse/config"
	"github.com/erain9/bourse/pkg/backend"
	"github.com/erain9/bourse/pkg/logging"
	"github.com/erain9/bourse/pkg/participant"
	"github.com/rs/zerolog"
)

func main() {
	appCfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger := logging.Setup(logging.Config{
		Level:   appCfg.Server.LogLevel,
		Format:  appCfg.Server.LogFormat,
		Service: "participants",
	})

	cfg, err := participant.LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load participant configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := backend.Open(ctx, appCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open ledger store")
	}
	defer store.Close()

	sim := participant.NewSimulation(cfg, logger, store, nil, participant.DefaultSecurities())
	if err := sim.Seed(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialise balances")
	}

	// give placement a moment after balances are written
	select {
	case <-ctx.Done():
		return
	case <-time.After(cfg.StartDelay):
	}

	writer, err := participant.DialTCP(ctx, cfg.ReceiverAddr, cfg.DialTimeout, cfg.MaxOrdersPerSecond)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to placement")
	}
	defer writer.Close()
	sim.SetWriter(writer)

	if err := sim.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("Simulation stopped")
	}

	stats := sim.Stats()
	logger.Info().
		Uint64("periods", stats.Periods).
		Uint64("orders", stats.Orders).
		Uint64("skipped", stats.Skipped).
		Msg("Participants done")
}
