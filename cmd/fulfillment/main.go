package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/erain9/bourse/config"
	"github.com/erain9/bourse/pkg/backend"
	"github.com/erain9/bourse/pkg/core"
	"github.com/erain9/bourse/pkg/db/queue"
	"github.com/erain9/bourse/pkg/intake"
	"github.com/erain9/bourse/pkg/logging"
	"github.com/erain9/bourse/pkg/messaging"
	"github.com/erain9/bourse/pkg/messaging/kafka"
	"github.com/erain9/bourse/pkg/otel"
	"github.com/erain9/bourse/pkg/server"
	"github.com/erain9/bourse/pkg/transport/socket"
	"github.com/rs/zerolog"
)

// orderSource is an intake.Source that must be closed
type orderSource interface {
	intake.Source
	Close() error
}

func main() {
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := logging.Setup(logging.Config{
		Level:   cfg.Server.LogLevel,
		Format:  cfg.Server.LogFormat,
		Service: otel.ServiceFulfillment,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cleanup, err := otel.Init(otel.Config{
		ServiceName:      otel.ServiceFulfillment,
		Endpoint:         cfg.Telemetry.Endpoint,
		CollectorEnabled: cfg.Telemetry.Enabled,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize OpenTelemetry")
	}
	defer cleanup()
	if cfg.Telemetry.Enabled {
		if err := otel.StartRuntimeMetrics(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start runtime metrics")
		}
	}

	store, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open ledger store")
	}
	defer store.Close()

	sender, closeSender := buildSender(cfg, logger)
	defer closeSender()

	coordinator := core.NewCoordinator(store, sender, logger)
	engine := core.NewEngine(store, coordinator, sender, logger)
	dispatcher := intake.NewDispatcher(engine, sender, logger, intake.Config{
		Workers:    cfg.Dispatcher.Workers,
		QueueDepth: cfg.Dispatcher.QueueDepth,
	})

	admin := server.NewAdminServer(otel.ServiceFulfillment, logger)
	if p, ok := store.(server.Pinger); ok {
		admin.AddCheck("store", p)
	}
	go func() {
		if err := admin.ListenAndServe(cfg.Server.AdminAddr); err != nil {
			logger.Error().Err(err).Msg("Admin server stopped")
		}
	}()
	go admin.Monitor(ctx, server.DefaultCheckInterval)

	source, err := openSource(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open order source")
	}

	dispatcher.Start(ctx)
	logger.Info().
		Str("store", cfg.Store.Backend).
		Str("transport", cfg.Transport.Kind).
		Int("workers", cfg.Dispatcher.Workers).
		Msg("Fulfillment running")

	runErr := make(chan error, 1)
	go func() { runErr <- dispatcher.Run(ctx, source) }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Received signal, shutting down")
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Order intake stopped")
		}
	}

	_ = source.Close()
	dispatcher.Close()
	admin.Stop()

	stats := dispatcher.Stats()
	logger.Info().
		Uint64("received", stats.Received).
		Uint64("rejected", stats.Rejected).
		Uint64("matched", stats.Matched).
		Uint64("settlements_failed", stats.SettlementsFailed).
		Msg("Shutdown complete")
}

// buildSender fans pipeline events out to the log, metrics and, when
// enabled, a Kafka topic
func buildSender(cfg *config.Config, logger zerolog.Logger) (messaging.EventSender, func()) {
	senders := messaging.MultiSender{messaging.NewLogSender(logger)}
	closers := []func() error{}

	metrics, err := otel.NewDefaultPipelineMetrics()
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to create pipeline metrics")
	} else {
		senders = append(senders, metrics)
	}

	if cfg.Kafka.EventsEnabled {
		ks := kafka.NewEventSender(cfg.Brokers(), cfg.Kafka.EventsTopic)
		senders = append(senders, ks)
		closers = append(closers, ks.Close)
		logger.Info().Str("topic", cfg.Kafka.EventsTopic).Msg("Publishing events to Kafka")
	}

	return senders, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn().Err(err).Msg("Failed to close event sender")
			}
		}
	}
}

func openSource(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (orderSource, error) {
	if cfg.Transport.Kind == config.TransportKafka {
		return queue.NewOrderConsumer(cfg.Brokers(), cfg.Kafka.OrdersTopic, logger)
	}
	return socket.Dial(ctx, cfg.Transport.SocketURL, logger)
}
