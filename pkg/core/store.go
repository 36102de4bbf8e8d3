package core

import "context"

// LedgerStore is the shared store holding the order book queues and the
// balance counters. Implementations must make QueuePop atomic with respect to
// concurrent callers, and counter updates must not be read-modify-write on the
// caller side.
type LedgerStore interface {
	// QueuePush appends value to the tail of the named FIFO queue, creating it if absent
	QueuePush(ctx context.Context, key, value string) error
	// QueuePop removes and returns the head of the named queue; ok is false when empty
	QueuePop(ctx context.Context, key string) (value string, ok bool, err error)
	// CounterIncrement adds delta to the named counter and returns the new value
	CounterIncrement(ctx context.Context, key string, delta int64) (int64, error)
	// CounterDecrement subtracts delta from the named counter and returns the new value
	CounterDecrement(ctx context.Context, key string, delta int64) (int64, error)
}

// LedgerInspector is the read and seed side of a store, used by the participant
// simulation and operator tooling. The matching pipeline never reads balances.
type LedgerInspector interface {
	// CounterGet returns the counter value; ok is false when it was never set
	CounterGet(ctx context.Context, key string) (value int64, ok bool, err error)
	// CounterSet overwrites the counter value
	CounterSet(ctx context.Context, key string, value int64) error
	// QueueRange returns the queue contents, head first
	QueueRange(ctx context.Context, key string) ([]string, error)
	// CounterScan returns every counter whose key starts with prefix
	CounterScan(ctx context.Context, prefix string) (map[string]int64, error)
}

// Store is a LedgerStore that can also be inspected
type Store interface {
	LedgerStore
	LedgerInspector
	Close() error
}
