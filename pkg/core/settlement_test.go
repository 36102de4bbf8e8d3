package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettlement_CompleteOnce(t *testing.T) {
	s := newSettlement(MustParseOrder("ask:AAPL:600.0:2:s"), MustParseOrder("bid:AAPL:600.0:2:b"))
	assert.Equal(t, Pending, s.Status())
	assert.Equal(t, int64(120000), s.AmountCents())
	assert.Equal(t, "b", s.Buyer().CustomerID())
	assert.Equal(t, "s", s.Seller().CustomerID())

	assert.False(t, s.complete(Pending, nil, nil), "pending is not a terminal status")

	require.True(t, s.complete(Succeeded, nil, nil))
	assert.False(t, s.complete(Failed, errors.New("late"), []Direction{Credit}))

	assert.Equal(t, Succeeded, s.Status())
	assert.NoError(t, s.Err())
	assert.Empty(t, s.FailedLegs())

	select {
	case <-s.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestSettlement_WaitHonoursContext(t *testing.T) {
	s := newSettlement(MustParseOrder("ask:HD:49.0:1:s"), MustParseOrder("bid:HD:49.0:1:b"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	status, err := s.Wait(ctx)
	assert.Equal(t, Pending, status)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSettlementStatus(t *testing.T) {
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "succeeded", Succeeded.String())
	assert.Equal(t, "failed", Failed.String())
	assert.False(t, Pending.Terminal())
	assert.True(t, Succeeded.Terminal())
	assert.True(t, Failed.Terminal())
}
