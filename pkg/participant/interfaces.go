package participant

import (
	"context"
)

// BalanceStore reads and seeds balance counters. core.LedgerInspector
// implementations satisfy it.
type BalanceStore interface {
	CounterGet(ctx context.Context, key string) (int64, bool, error)
	CounterSet(ctx context.Context, key string, value int64) error
}

// OrderWriter delivers order lines to the placement receiver
type OrderWriter interface {
	WriteOrder(ctx context.Context, line string) error
	Close() error
}
