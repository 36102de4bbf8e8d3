package core_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/erain9/bourse/pkg/backend/memory"
	"github.com/erain9/bourse/pkg/core"
	"github.com/erain9/bourse/pkg/messaging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterCall struct {
	op    string
	key   string
	delta int64
}

// recordingStore wraps a store and remembers every counter call
type recordingStore struct {
	core.LedgerStore
	mu    sync.Mutex
	calls []counterCall
}

func (r *recordingStore) CounterIncrement(ctx context.Context, key string, delta int64) (int64, error) {
	r.record("incr", key, delta)
	return r.LedgerStore.CounterIncrement(ctx, key, delta)
}

func (r *recordingStore) CounterDecrement(ctx context.Context, key string, delta int64) (int64, error) {
	r.record("decr", key, delta)
	return r.LedgerStore.CounterDecrement(ctx, key, delta)
}

func (r *recordingStore) record(op, key string, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, counterCall{op: op, key: key, delta: delta})
}

func (r *recordingStore) Calls() []counterCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]counterCall(nil), r.calls...)
}

type fixture struct {
	backend *memory.MemoryBackend
	store   core.LedgerStore
	events  *messaging.RecordingSender
	engine  *core.Engine
}

func newFixture(t *testing.T, store core.LedgerStore, backend *memory.MemoryBackend) *fixture {
	t.Helper()
	events := messaging.NewRecordingSender()
	logger := zerolog.Nop()
	coordinator := core.NewCoordinator(store, events, logger)
	return &fixture{
		backend: backend,
		store:   store,
		events:  events,
		engine:  core.NewEngine(store, coordinator, events, logger),
	}
}

func newMemoryFixture(t *testing.T) *fixture {
	backend := memory.NewMemoryBackend()
	return newFixture(t, backend, backend)
}

func (f *fixture) submit(t *testing.T, raw string) core.MatchOutcome {
	t.Helper()
	outcome, err := f.engine.Submit(context.Background(), core.MustParseOrder(raw))
	require.NoError(t, err)
	return outcome
}

func waitSettled(t *testing.T, s *core.Settlement) core.SettlementStatus {
	t.Helper()
	require.NotNil(t, s)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	status, err := s.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return status
}

func balance(t *testing.T, b *memory.MemoryBackend, customer string) int64 {
	t.Helper()
	v, _, err := b.CounterGet(context.Background(), core.BalanceKey(customer))
	require.NoError(t, err)
	return v
}

func TestEngine_PlacesWhenOppositeQueueEmpty(t *testing.T) {
	f := newMemoryFixture(t)

	outcome := f.submit(t, "bid:AAPL:600.0:1:cust-A")

	assert.Equal(t, core.OutcomePlaced, outcome.Kind)
	assert.False(t, outcome.Matched())
	assert.Nil(t, outcome.Settlement)

	book, err := f.backend.QueueRange(context.Background(), "bid:AAPL:600.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"bid:AAPL:600.0:1:cust-A"}, book)

	assert.Len(t, f.events.OfType(messaging.EventPlaced), 1)
	assert.Empty(t, f.events.OfType(messaging.EventSettled))
}

func TestEngine_MatchAndSettle(t *testing.T) {
	f := newMemoryFixture(t)

	f.submit(t, "bid:AAPL:600.0:1:cust-A")
	outcome := f.submit(t, "ask:AAPL:600.0:1:cust-B")

	require.True(t, outcome.Matched())
	assert.Equal(t, "bid:AAPL:600.0:1:cust-A", outcome.Resting.String())
	assert.Equal(t, core.Succeeded, waitSettled(t, outcome.Settlement))

	assert.Equal(t, int64(60000), balance(t, f.backend, "cust-B"))
	assert.Equal(t, int64(-60000), balance(t, f.backend, "cust-A"))

	book, err := f.backend.QueueRange(context.Background(), "bid:AAPL:600.0")
	require.NoError(t, err)
	assert.Empty(t, book)

	matched := f.events.OfType(messaging.EventMatched)
	require.Len(t, matched, 1)
	assert.Equal(t, "ask:AAPL:600.0:1:cust-B", matched[0].Incoming)
	assert.Equal(t, "bid:AAPL:600.0:1:cust-A", matched[0].Resting)

	require.Eventually(t, func() bool {
		return len(f.events.OfType(messaging.EventSettled)) == 1
	}, time.Second, 5*time.Millisecond)
	settled := f.events.OfType(messaging.EventSettled)[0]
	assert.Equal(t, messaging.StatusSucceeded, settled.Status)
	assert.Equal(t, int64(60000), settled.AmountCents)
	assert.Equal(t, "cust-A", settled.Buyer)
	assert.Equal(t, "cust-B", settled.Seller)
}

func TestEngine_ExactPriceOnly(t *testing.T) {
	f := newMemoryFixture(t)

	f.submit(t, "bid:AAPL:600.0:1:cust-A")
	outcome := f.submit(t, "ask:AAPL:600.25:1:cust-C")

	assert.Equal(t, core.OutcomePlaced, outcome.Kind)

	ctx := context.Background()
	bids, err := f.backend.QueueRange(ctx, "bid:AAPL:600.0")
	require.NoError(t, err)
	assert.Len(t, bids, 1)

	asks, err := f.backend.QueueRange(ctx, "ask:AAPL:600.25")
	require.NoError(t, err)
	assert.Equal(t, []string{"ask:AAPL:600.25:1:cust-C"}, asks)

	outcome = f.submit(t, "ask:AAPL:599.75:1:cust-D")
	assert.Equal(t, core.OutcomePlaced, outcome.Kind)
}

func TestEngine_DifferentSecurityDoesNotMatch(t *testing.T) {
	f := newMemoryFixture(t)

	f.submit(t, "bid:AAPL:600.0:1:cust-A")
	outcome := f.submit(t, "ask:AMZN:600.0:1:cust-B")

	assert.Equal(t, core.OutcomePlaced, outcome.Kind)
}

func TestEngine_SameSideDoesNotMatch(t *testing.T) {
	f := newMemoryFixture(t)

	f.submit(t, "bid:AAPL:600.0:1:cust-A")
	outcome := f.submit(t, "bid:AAPL:600.0:1:cust-B")

	assert.Equal(t, core.OutcomePlaced, outcome.Kind)
	book, err := f.backend.QueueRange(context.Background(), "bid:AAPL:600.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"bid:AAPL:600.0:1:cust-A", "bid:AAPL:600.0:1:cust-B"}, book)
}

func TestEngine_FIFO(t *testing.T) {
	f := newMemoryFixture(t)

	f.submit(t, "ask:TIF:73.0:1:A1")
	f.submit(t, "ask:TIF:73.0:1:A2")
	f.submit(t, "ask:TIF:73.0:1:A3")

	first := f.submit(t, "bid:TIF:73.0:1:B1")
	require.True(t, first.Matched())
	assert.Equal(t, "A1", first.Resting.CustomerID())

	second := f.submit(t, "bid:TIF:73.0:1:B2")
	require.True(t, second.Matched())
	assert.Equal(t, "A2", second.Resting.CustomerID())

	waitSettled(t, first.Settlement)
	waitSettled(t, second.Settlement)

	rest, err := f.backend.QueueRange(context.Background(), "ask:TIF:73.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"ask:TIF:73.0:1:A3"}, rest)
}

func TestEngine_SettlementUsesIncomingNotional(t *testing.T) {
	backend := memory.NewMemoryBackend()
	store := &recordingStore{LedgerStore: backend}
	f := newFixture(t, store, backend)

	f.submit(t, "ask:SLB:75.0:1:seller")
	outcome := f.submit(t, "bid:SLB:75.0:3:buyer")

	require.True(t, outcome.Matched())
	assert.Equal(t, core.Succeeded, waitSettled(t, outcome.Settlement))
	assert.Equal(t, int64(22500), outcome.Settlement.AmountCents())

	calls := store.Calls()
	require.Len(t, calls, 2)
	assert.ElementsMatch(t, []counterCall{
		{op: "incr", key: "balance:seller", delta: 22500},
		{op: "decr", key: "balance:buyer", delta: 22500},
	}, calls)
}

func TestEngine_NoDoubleMatchUnderConcurrency(t *testing.T) {
	f := newMemoryFixture(t)
	const n = 50

	for i := 0; i < n; i++ {
		f.submit(t, fmt.Sprintf("ask:HD:49.0:1:seller-%d", i))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		resting = make(map[string]int)
		placed  int
	)
	for i := 0; i < 2*n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, err := f.engine.Submit(context.Background(), core.MustParseOrder(fmt.Sprintf("bid:HD:49.0:1:buyer-%d", i)))
			require.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if outcome.Matched() {
				resting[outcome.Resting.CustomerID()]++
			} else {
				placed++
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, resting, n)
	for customer, count := range resting {
		assert.Equal(t, 1, count, "%s matched more than once", customer)
	}
	assert.Equal(t, n, placed)
}

func TestEngine_CorruptBookEntryIsDropped(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	require.NoError(t, f.backend.QueuePush(ctx, "ask:AAPL:600.0", "garbage"))

	_, err := f.engine.Submit(ctx, core.MustParseOrder("bid:AAPL:600.0:1:cust-A"))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrBookCorruption)

	asks, err := f.backend.QueueRange(ctx, "ask:AAPL:600.0")
	require.NoError(t, err)
	assert.Empty(t, asks, "corrupt entry must not be re-enqueued")

	bids, err := f.backend.QueueRange(ctx, "bid:AAPL:600.0")
	require.NoError(t, err)
	assert.Empty(t, bids, "incoming order is not placed after a corrupt match")

	corrupt := f.events.OfType(messaging.EventCorrupt)
	require.Len(t, corrupt, 1)
	assert.Equal(t, "garbage", corrupt[0].Raw)
	assert.Empty(t, f.events.OfType(messaging.EventSettled))
}

func TestEngine_MisfiledBookEntryIsCorrupt(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	require.NoError(t, f.backend.QueuePush(ctx, "ask:AAPL:600.0", "ask:AAPL:601.0:1:x"))

	_, err := f.engine.Submit(ctx, core.MustParseOrder("bid:AAPL:600.0:1:cust-A"))
	assert.ErrorIs(t, err, core.ErrBookCorruption)
}

func TestEngine_StoreErrors(t *testing.T) {
	errDown := errors.New("store down")
	backend := memory.NewMemoryBackend()

	popFail := memory.NewFaultyBackend(backend, memory.Faults{Pop: errDown})
	f := newFixture(t, popFail, backend)
	_, err := f.engine.Submit(context.Background(), core.MustParseOrder("bid:AAPL:600.0:1:a"))
	assert.ErrorIs(t, err, errDown)
	assert.NotErrorIs(t, err, core.ErrBookCorruption)

	pushFail := memory.NewFaultyBackend(backend, memory.Faults{Push: errDown})
	f = newFixture(t, pushFail, backend)
	_, err = f.engine.Submit(context.Background(), core.MustParseOrder("bid:AAPL:600.0:1:a"))
	assert.ErrorIs(t, err, errDown)
}

func TestEngine_CreditFailureReportsFailed(t *testing.T) {
	errDown := errors.New("incrby refused")
	backend := memory.NewMemoryBackend()
	store := memory.NewFaultyBackend(backend, memory.Faults{Increment: errDown})
	f := newFixture(t, store, backend)

	f.submit(t, "bid:AAPL:600.0:1:cust-A")
	outcome := f.submit(t, "ask:AAPL:600.0:1:cust-B")

	require.True(t, outcome.Matched())
	assert.Equal(t, core.Failed, waitSettled(t, outcome.Settlement))
	assert.ErrorIs(t, outcome.Settlement.Err(), core.ErrLedgerFailure)
	assert.ErrorIs(t, outcome.Settlement.Err(), errDown)
	assert.Equal(t, []core.Direction{core.Credit}, outcome.Settlement.FailedLegs())

	// the debit leg is independent and is not rolled back
	assert.Equal(t, int64(-60000), balance(t, backend, "cust-A"))
	assert.Equal(t, int64(0), balance(t, backend, "cust-B"))

	require.Eventually(t, func() bool {
		return len(f.events.OfType(messaging.EventSettled)) == 1
	}, time.Second, 5*time.Millisecond)
	settled := f.events.OfType(messaging.EventSettled)[0]
	assert.Equal(t, messaging.StatusFailed, settled.Status)
	assert.Equal(t, []string{"credit"}, settled.FailedLegs)
	assert.NotEmpty(t, settled.Error)
}

func TestEngine_BothLegsFail(t *testing.T) {
	errDown := errors.New("down")
	backend := memory.NewMemoryBackend()
	store := memory.NewFaultyBackend(backend, memory.Faults{Increment: errDown, Decrement: errDown})
	f := newFixture(t, store, backend)

	f.submit(t, "ask:KYE:27.0:1:s")
	outcome := f.submit(t, "bid:KYE:27.0:1:b")

	assert.Equal(t, core.Failed, waitSettled(t, outcome.Settlement))
	assert.ElementsMatch(t, []core.Direction{core.Credit, core.Debit}, outcome.Settlement.FailedLegs())
}
