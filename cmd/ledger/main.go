package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/erain9/bourse/config"
	"github.com/erain9/bourse/pkg/backend"
	"github.com/erain9/bourse/pkg/core"
	"github.com/erain9/bourse/pkg/logging"
	"github.com/erain9/bourse/pkg/messaging/kafka"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
)

var errUsage = errors.New("usage")

func main() {
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger := logging.Setup(logging.Config{
		Level:   cfg.Server.LogLevel,
		Format:  logging.FormatPretty,
		Service: "ledger",
		Output:  os.Stderr,
	})

	if len(cfg.Args) == 0 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	if cfg.Args[0] == "events" {
		if err := tailEvents(cfg, logger); err != nil {
			logger.Fatal().Err(err).Msg("Event stream failed")
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open ledger store")
	}
	defer store.Close()

	if err := run(ctx, store, cfg.Args, os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			printUsage(os.Stderr)
			os.Exit(1)
		}
		logger.Fatal().Err(err).Strs("args", cfg.Args).Msg("Command failed")
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: ledger [flags] <command> [args]")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  balance <customer>              show one customer's balance")
	fmt.Fprintln(w, "  balances                        show every balance and the ledger total")
	fmt.Fprintln(w, "  book <side> <security> <price>  show resting orders at one price level")
	fmt.Fprintln(w, "  set-balance <customer> <cents>  overwrite a customer's balance")
	fmt.Fprintln(w, "  events                          follow pipeline events on the Kafka events topic")
}

// tailEvents logs every pipeline event published to Kafka until interrupted
func tailEvents(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	groupID := fmt.Sprintf("bourse-ledger-%d", time.Now().UnixNano())
	consumer := kafka.NewEventConsumer(cfg.Brokers(), cfg.Kafka.EventsTopic, groupID, logger)
	defer consumer.Close()

	logger.Info().Str("topic", cfg.Kafka.EventsTopic).Msg("Following pipeline events")
	return consumer.Consume(ctx, kafka.LogHandler(logger))
}

func run(ctx context.Context, store core.LedgerInspector, args []string, out io.Writer) error {
	switch args[0] {
	case "balance":
		if len(args) != 2 {
			return errUsage
		}
		return showBalance(ctx, store, args[1], out)
	case "balances":
		return showBalances(ctx, store, out)
	case "book":
		if len(args) != 4 {
			return errUsage
		}
		return showBook(ctx, store, args[1], args[2], args[3], out)
	case "set-balance":
		if len(args) != 3 {
			return errUsage
		}
		return setBalance(ctx, store, args[1], args[2], out)
	default:
		return errUsage
	}
}

func showBalance(ctx context.Context, store core.LedgerInspector, customer string, out io.Writer) error {
	cents, ok, err := store.CounterGet(ctx, core.BalanceKey(customer))
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(out, "%s: no balance recorded\n", customer)
		return nil
	}
	fmt.Fprintf(out, "%s: %s\n", customer, formatCents(cents))
	return nil
}

func showBalances(ctx context.Context, store core.LedgerInspector, out io.Writer) error {
	color.NoColor = false
	cyan := color.New(color.FgCyan).SprintfFunc()
	red := color.New(color.FgRed).SprintfFunc()
	green := color.New(color.FgGreen).SprintfFunc()

	prefix := core.BalanceKey("")
	counters, err := store.CounterScan(ctx, prefix)
	if err != nil {
		return err
	}

	customers := make([]string, 0, len(counters))
	for key := range counters {
		customers = append(customers, strings.TrimPrefix(key, prefix))
	}
	sort.Strings(customers)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "%15s|%15s|\n", cyan("Customer"), cyan("Balance"))
	fmt.Fprintf(w, "%15s|%15s|\n", "---------------", "---------------")

	var total int64
	for _, customer := range customers {
		cents := counters[prefix+customer]
		total += cents
		amount := green(formatCents(cents))
		if cents < 0 {
			amount = red(formatCents(cents))
		}
		fmt.Fprintf(w, "%15s|%15s|\n", customer, amount)
	}

	fmt.Fprintf(w, "%15s|%15s|\n", "---------------", "---------------")
	fmt.Fprintf(w, "%15s|%15s|\n", cyan("Total"), formatCents(total))
	return w.Flush()
}

func showBook(ctx context.Context, store core.LedgerInspector, side, security, price string, out io.Writer) error {
	color.NoColor = false
	cyan := color.New(color.FgCyan).SprintfFunc()
	red := color.New(color.FgRed).SprintfFunc()

	key, err := bookKey(side, security, price)
	if err != nil {
		return err
	}
	entries, err := store.QueueRange(ctx, key)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "%5s|%15s|%15s|%15s|\n", cyan("#"), cyan("Customer"), cyan("Quantity"), cyan("Notional"))
	fmt.Fprintf(w, "%5s|%15s|%15s|%15s|\n", "-----", "---------------", "---------------", "---------------")
	for i, entry := range entries {
		order, err := core.ParseOrder(entry)
		if err != nil {
			fmt.Fprintf(w, "%5d|%15s|%15s|%15s|\n", i+1, red("corrupt"), "-", entry)
			continue
		}
		fmt.Fprintf(w, "%5d|%15s|%15d|%15s|\n", i+1, order.CustomerID(), order.Quantity(), formatCents(order.NotionalCents()))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %d resting\n", key, len(entries))
	return nil
}

func setBalance(ctx context.Context, store core.LedgerInspector, customer, cents string, out io.Writer) error {
	value, err := strconv.ParseInt(cents, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid cents %q: %w", cents, err)
	}
	if err := store.CounterSet(ctx, core.BalanceKey(customer), value); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %s\n", customer, formatCents(value))
	return nil
}

// bookKey normalises the price so 600, 600.0 and 600.00 name the same level.
// Prices are validated exactly as incoming orders are.
func bookKey(side, security, price string) (string, error) {
	order, err := core.ParseOrder(strings.Join([]string{side, security, price, "1", "ledger"}, core.KeySeparator))
	if err != nil {
		return "", err
	}
	return order.BookKey(), nil
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
