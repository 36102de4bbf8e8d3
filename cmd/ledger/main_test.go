package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/erain9/bourse/pkg/backend/memory"
	"github.com/erain9/bourse/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededStore(t *testing.T) *memory.MemoryBackend {
	t.Helper()
	ctx := context.Background()
	store := memory.NewMemoryBackend()
	require.NoError(t, store.CounterSet(ctx, core.BalanceKey("cust-A"), 100000000))
	require.NoError(t, store.CounterSet(ctx, core.BalanceKey("cust-B"), -2550))
	require.NoError(t, store.QueuePush(ctx, "ask:AAPL:600.0", "ask:AAPL:600.0:100:cust-A"))
	require.NoError(t, store.QueuePush(ctx, "ask:AAPL:600.0", "garbage"))
	return store
}

func TestRun_Balance(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), seededStore(t), []string{"balance", "cust-B"}, &out))
	assert.Equal(t, "cust-B: -25.50\n", out.String())

	out.Reset()
	require.NoError(t, run(context.Background(), seededStore(t), []string{"balance", "nobody"}, &out))
	assert.Contains(t, out.String(), "no balance recorded")
}

func TestRun_Balances(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), seededStore(t), []string{"balances"}, &out))

	text := out.String()
	assert.Contains(t, text, "cust-A")
	assert.Contains(t, text, "1000000.00")
	assert.Contains(t, text, "cust-B")
	assert.Contains(t, text, "-25.50")
	assert.Contains(t, text, "999974.50")
	assert.Less(t, bytes.Index(out.Bytes(), []byte("cust-A")), bytes.Index(out.Bytes(), []byte("cust-B")))
}

func TestRun_BookNormalisesPrice(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), seededStore(t), []string{"book", "ASK", "AAPL", "600"}, &out))

	text := out.String()
	assert.Contains(t, text, "cust-A")
	assert.Contains(t, text, "60000.00")
	assert.Contains(t, text, "corrupt")
	assert.Contains(t, text, "ask:AAPL:600.0: 2 resting")
}

func TestRun_SetBalance(t *testing.T) {
	store := seededStore(t)
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), store, []string{"set-balance", "cust-C", "12345"}, &out))

	v, ok, err := store.CounterGet(context.Background(), core.BalanceKey("cust-C"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(12345), v)

	assert.Error(t, run(context.Background(), store, []string{"set-balance", "cust-C", "lots"}, &out))
}

func TestRun_Usage(t *testing.T) {
	store := seededStore(t)
	for _, args := range [][]string{
		{"balance"},
		{"book", "bid", "AAPL"},
		{"withdraw", "cust-A"},
	} {
		assert.ErrorIs(t, run(context.Background(), store, args, &bytes.Buffer{}), errUsage, "%v", args)
	}

	assert.ErrorIs(t, run(context.Background(), store, []string{"book", "buy", "AAPL", "600"}, &bytes.Buffer{}), core.ErrUnknownSide)
	assert.ErrorIs(t, run(context.Background(), store, []string{"book", "bid", "AAPL", "600.2501"}, &bytes.Buffer{}), core.ErrMalformedOrder)
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "0.00", formatCents(0))
	assert.Equal(t, "0.05", formatCents(5))
	assert.Equal(t, "600.00", formatCents(60000))
	assert.Equal(t, "-1.01", formatCents(-101))
}
