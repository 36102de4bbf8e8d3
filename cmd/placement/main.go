package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/erain9/bourse/config"
	"github.com/erain9/bourse/pkg/db/queue"
	"github.com/erain9/bourse/pkg/logging"
	"github.com/erain9/bourse/pkg/otel"
	"github.com/erain9/bourse/pkg/receiver"
	"github.com/erain9/bourse/pkg/server"
	"github.com/erain9/bourse/pkg/transport/socket"
	"github.com/rs/zerolog"
)

// orderPublisher is a receiver.Publisher that must be closed
type orderPublisher interface {
	receiver.Publisher
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
		Service: otel.ServicePlacement,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cleanup, err := otel.Init(otel.Config{
		ServiceName:      otel.ServicePlacement,
		Endpoint:         cfg.Telemetry.Endpoint,
		CollectorEnabled: cfg.Telemetry.Enabled,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize OpenTelemetry")
	}
	defer cleanup()

	publisher, err := openPublisher(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open order transport")
	}
	defer publisher.Close()

	admin := server.NewAdminServer(otel.ServicePlacement, logger)
	go func() {
		if err := admin.ListenAndServe(cfg.Server.AdminAddr); err != nil {
			logger.Error().Err(err).Msg("Admin server stopped")
		}
	}()
	defer admin.Stop()

	rcv := receiver.New(publisher, logger)
	admin.SetServing(true)
	if err := rcv.ListenAndServe(ctx, cfg.Receiver.ListenAddr); err != nil {
		logger.Fatal().Err(err).Msg("Receiver failed")
	}

	stats := rcv.Stats()
	logger.Info().
		Uint64("connections", stats.Connections).
		Uint64("lines", stats.Lines).
		Uint64("publish_errors", stats.PublishErrors).
		Msg("Shutdown complete")
}

func openPublisher(cfg *config.Config, logger zerolog.Logger) (orderPublisher, error) {
	if cfg.Transport.Kind == config.TransportKafka {
		return queue.NewOrderProducer(cfg.Brokers(), cfg.Kafka.OrdersTopic)
	}
	return socket.NewPublisher(cfg.Transport.SocketURL, logger)
}
