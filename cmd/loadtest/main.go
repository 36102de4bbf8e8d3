package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erain9/bourse/config"
	"github.com/erain9/bourse/pkg/core"
	"github.com/erain9/bourse/pkg/logging"
	"github.com/erain9/bourse/pkg/messaging"
	"github.com/erain9/bourse/pkg/messaging/kafka"
	"github.com/erain9/bourse/pkg/participant"
	"github.com/nikolaydubina/fpdecimal"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type options struct {
	addr        string
	workers     int
	orders      int
	rate        float64
	security    string
	price       string
	brokers     string
	eventsTopic string
	drain       time.Duration
}

func parseOptions(args []string) (options, error) {
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	opts := options{}
	fs.StringVar(&opts.addr, "addr", config.GetEnv("RECEIVER_ADDR", "127.0.0.1:9001"), "Order receiver address")
	fs.IntVar(&opts.workers, "workers", 50, "Concurrent connections")
	fs.IntVar(&opts.orders, "orders", 200, "Orders per worker")
	fs.Float64Var(&opts.rate, "rate", 1000, "Total orders per second across all workers")
	fs.StringVar(&opts.security, "security", "LOAD", "Security traded by every order")
	fs.StringVar(&opts.price, "price", "100.0", "Price used by every order")
	fs.StringVar(&opts.brokers, "events-brokers", "", "Kafka brokers carrying pipeline events; enables end-to-end latency")
	fs.StringVar(&opts.eventsTopic, "events-topic", "bourse-events", "Pipeline events topic")
	fs.DurationVar(&opts.drain, "drain", 5*time.Second, "How long to wait for trailing events")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.workers < 1 || opts.orders < 1 || opts.rate <= 0 {
		return options{}, errors.New("workers, orders and rate must be positive")
	}
	price, err := fpdecimal.FromString(opts.price)
	if err != nil {
		return options{}, fmt.Errorf("invalid price %q: %w", opts.price, err)
	}
	// events carry orders in canonical form
	opts.price = core.FormatPrice(price)
	return opts, nil
}

func main() {
	logger := logging.Setup(logging.Config{Level: "info", Format: logging.FormatPretty, Service: "loadtest", Output: os.Stderr})

	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid options")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	tracker := newTracker()

	var consumer *kafka.EventConsumer
	if opts.brokers != "" {
		consumer = kafka.NewEventConsumer(strings.Split(opts.brokers, ","), opts.eventsTopic,
			fmt.Sprintf("loadtest-%d", time.Now().UnixNano()), logger)
		go func() {
			err := consumer.Consume(ctx, func(event messaging.Event) error {
				tracker.Observe(event)
				return nil
			})
			if err != nil {
				logger.Error().Err(err).Msg("Event consumer stopped")
			}
		}()
	}

	limiter := rate.NewLimiter(rate.Limit(opts.rate), max(int(opts.rate), 1))
	runID := fmt.Sprintf("%06x", rand.Intn(1<<24))

	var (
		wg     sync.WaitGroup
		failed atomic.Uint64
	)

	logger.Info().Int("workers", opts.workers).Int("orders_per_worker", opts.orders).Msg("Starting load test")
	start := time.Now()

	for i := 0; i < opts.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			writer, err := participant.DialTCP(ctx, opts.addr, 5*time.Second, 0)
			if err != nil {
				logger.Error().Err(err).Int("worker", workerID).Msg("Failed to connect")
				failed.Add(uint64(opts.orders))
				return
			}
			defer writer.Close()

			for j := 0; j < opts.orders; j++ {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				line := orderLine(workerID*opts.orders+j, runID, opts.security, opts.price)
				sent := time.Now()
				if err := writer.WriteOrder(ctx, line); err != nil {
					failed.Add(1)
					continue
				}
				tracker.Sent(line, sent)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	if consumer != nil {
		select {
		case <-ctx.Done():
		case <-time.After(opts.drain):
		}
		cancel()
		_ = consumer.Close()
	}

	report(logger, tracker, elapsed, failed.Load())
}

// orderLine alternates sides at one price so roughly every pair matches.
// Customer ids are unique per order so events can be traced back to it.
func orderLine(n int, runID, security, price string) string {
	side := "bid"
	if n%2 == 1 {
		side = "ask"
	}
	return fmt.Sprintf("%s:%s:%s:1:lt%s-%d", side, security, price, runID, n)
}

func report(logger zerolog.Logger, t *tracker, elapsed time.Duration, failed uint64) {
	s := t.Snapshot()
	ev := logger.Info().
		Dur("elapsed", elapsed).
		Int64("sent", s.Sent).
		Uint64("failed", failed).
		Float64("orders_per_sec", float64(s.Sent)/elapsed.Seconds()).
		Int64("placed", s.Placed).
		Int64("matched", s.Matched).
		Int64("settled", s.Settled).
		Int64("rejected", s.Rejected)
	if s.Latency.TotalCount() > 0 {
		ev = ev.
			Int64("p50_us", s.Latency.ValueAtQuantile(50)).
			Int64("p99_us", s.Latency.ValueAtQuantile(99)).
			Int64("p999_us", s.Latency.ValueAtQuantile(99.9)).
			Float64("mean_us", s.Latency.Mean()).
			Int64("max_us", s.Latency.Max())
	}
	ev.Msg("Load test completed")
}
