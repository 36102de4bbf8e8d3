package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/erain9/bourse/pkg/core"
	"github.com/erain9/bourse/pkg/messaging"
	"github.com/erain9/bourse/pkg/otel"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// ErrNotStarted is returned by Dispatch before Start or after Close
var ErrNotStarted = errors.New("dispatcher not started")

// Submitter is the matching side of the pipeline
type Submitter interface {
	Submit(ctx context.Context, order core.Order) (core.MatchOutcome, error)
}

// Config sizes the worker pool
type Config struct {
	// Workers is the number of matching goroutines. Orders of one customer
	// always go to the same worker.
	Workers int
	// QueueDepth is the per-worker buffer; a full buffer blocks Dispatch.
	QueueDepth int
}

// DefaultConfig returns the default dispatcher configuration
func DefaultConfig() Config {
	return Config{
		Workers:    8,
		QueueDepth: 256,
	}
}

// Stats is a snapshot of dispatcher counters
type Stats struct {
	Received          uint64
	Accepted          uint64
	Rejected          uint64
	Placed            uint64
	Matched           uint64
	SubmitErrors      uint64
	Corrupt           uint64
	SettlementsOK     uint64
	SettlementsFailed uint64
}

type stats struct {
	received, accepted, rejected          atomic.Uint64
	placed, matched, submitErrors         atomic.Uint64
	corrupt, settlementsOK, settlementsKO atomic.Uint64
}

type job struct {
	order    core.Order
	received time.Time
}

// OutcomeFunc observes every submission result
type OutcomeFunc func(outcome core.MatchOutcome, err error)

// Dispatcher parses raw order messages and routes accepted orders to the
// matching engine without waiting for them. Rejected messages are counted,
// reported and skipped.
type Dispatcher struct {
	engine    Submitter
	sender    messaging.EventSender
	logger    zerolog.Logger
	cfg       Config
	onOutcome atomic.Pointer[OutcomeFunc]

	mu      sync.RWMutex
	queues  []chan job
	workers sync.WaitGroup
	settles sync.WaitGroup
	stats   stats
}

// NewDispatcher creates a Dispatcher. A nil sender disables events.
func NewDispatcher(engine Submitter, sender messaging.EventSender, logger zerolog.Logger, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueDepth < 0 {
		cfg.QueueDepth = 0
	}
	if sender == nil {
		sender = messaging.NewMockEventSender()
	}
	return &Dispatcher{
		engine: engine,
		sender: sender,
		logger: logger.With().Str("component", "dispatcher").Logger(),
		cfg:    cfg,
	}
}

// OnOutcome registers a hook called from worker goroutines after each submission.
// It may be replaced while workers run.
func (d *Dispatcher) OnOutcome(fn OutcomeFunc) {
	if fn == nil {
		d.onOutcome.Store(nil)
		return
	}
	d.onOutcome.Store(&fn)
}

func (d *Dispatcher) outcomeHook() OutcomeFunc {
	if fn := d.onOutcome.Load(); fn != nil {
		return *fn
	}
	return nil
}

// Start launches the worker pool. Workers use ctx for store calls.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queues != nil {
		return
	}

	d.queues = make([]chan job, d.cfg.Workers)
	for i := range d.queues {
		d.queues[i] = make(chan job, d.cfg.QueueDepth)
		d.workers.Add(1)
		go d.work(ctx, i, d.queues[i])
	}
	d.logger.Info().Int("workers", d.cfg.Workers).Int("queue_depth", d.cfg.QueueDepth).Msg("Dispatcher started")
}

// Run receives messages from src until it is exhausted or ctx ends. The
// workers keep running; call Close to drain them.
func (d *Dispatcher) Run(ctx context.Context, src Source) error {
	for {
		raw, err := src.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receive: %w", err)
		}
		if err := d.Dispatch(ctx, raw); err != nil {
			return err
		}
	}
}

// Dispatch handles one raw message. Parse failures are not errors; only a
// stopped dispatcher or an ended context are.
func (d *Dispatcher) Dispatch(ctx context.Context, raw string) error {
	d.stats.received.Add(1)

	order, err := core.ParseOrder(raw)
	if err != nil {
		d.reject(ctx, raw, err)
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.queues == nil {
		return ErrNotStarted
	}

	q := d.queues[shard(order.CustomerID(), len(d.queues))]
	select {
	case q <- job{order: order, received: time.Now()}:
		d.stats.accepted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting messages, waits for queued orders to be matched and
// for their settlements to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	queues := d.queues
	d.queues = nil
	d.mu.Unlock()

	for _, q := range queues {
		close(q)
	}
	d.workers.Wait()
	d.settles.Wait()
	d.logger.Info().Interface("stats", d.Stats()).Msg("Dispatcher stopped")
}

// Stats returns a snapshot of the counters
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Received:          d.stats.received.Load(),
		Accepted:          d.stats.accepted.Load(),
		Rejected:          d.stats.rejected.Load(),
		Placed:            d.stats.placed.Load(),
		Matched:           d.stats.matched.Load(),
		SubmitErrors:      d.stats.submitErrors.Load(),
		Corrupt:           d.stats.corrupt.Load(),
		SettlementsOK:     d.stats.settlementsOK.Load(),
		SettlementsFailed: d.stats.settlementsKO.Load(),
	}
}

func (d *Dispatcher) reject(ctx context.Context, raw string, err error) {
	d.stats.rejected.Add(1)

	reason := core.ReasonMalformed
	var perr *core.ParseError
	if errors.As(err, &perr) {
		reason = perr.Reason
	}

	event := &messaging.Event{
		Type:   messaging.EventRejected,
		Raw:    raw,
		Reason: reason,
		Time:   time.Now(),
	}
	if serr := d.sender.SendEvent(ctx, event); serr != nil {
		d.logger.Warn().Err(serr).Msg("Failed to publish rejection")
	}
}

func (d *Dispatcher) work(ctx context.Context, id int, q <-chan job) {
	defer d.workers.Done()
	logger := d.logger.With().Int("worker", id).Logger()

	for j := range q {
		jobCtx, span := otel.StartOrderSpan(ctx, otel.SpanDispatchOrder,
			attribute.String(otel.AttributeOrderCustomer, j.order.CustomerID()),
		)
		outcome, err := d.engine.Submit(jobCtx, j.order)
		otel.EndSpan(span, err)

		switch {
		case errors.Is(err, core.ErrBookCorruption):
			d.stats.corrupt.Add(1)
			logger.Error().Err(err).Str("order", j.order.String()).Msg("Dropped match against corrupt book entry")
		case err != nil:
			d.stats.submitErrors.Add(1)
			logger.Error().Err(err).Str("order", j.order.String()).Msg("Failed to submit order")
		case outcome.Matched():
			d.stats.matched.Add(1)
			d.track(outcome.Settlement)
		default:
			d.stats.placed.Add(1)
		}

		if hook := d.outcomeHook(); hook != nil {
			hook(outcome, err)
		}
	}
}

// track counts the settlement once it completes without blocking the worker
func (d *Dispatcher) track(s *core.Settlement) {
	if s == nil {
		return
	}
	d.settles.Add(1)
	go func() {
		defer d.settles.Done()
		<-s.Done()
		if s.Status() == core.Succeeded {
			d.stats.settlementsOK.Add(1)
		} else {
			d.stats.settlementsKO.Add(1)
		}
	}()
}

func shard(customerID string, n int) int {
	return int(xxhash.Sum64String(customerID) % uint64(n))
}
