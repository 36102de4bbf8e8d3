package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/erain9/bourse/pkg/core"
)

// MemoryBackend is an in-process ledger store. Every operation holds one lock,
// which gives the same atomicity the shared store provides across processes.
type MemoryBackend struct {
	sync.Mutex
	queues   map[string][]string
	counters map[string]int64
}

// NewMemoryBackend creates a new empty MemoryBackend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		queues:   make(map[string][]string),
		counters: make(map[string]int64),
	}
}

// QueuePush appends value to the tail of the queue
func (b *MemoryBackend) QueuePush(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.Lock()
	defer b.Unlock()
	b.queues[key] = append(b.queues[key], value)
	return nil
}

// QueuePop removes and returns the head of the queue
func (b *MemoryBackend) QueuePop(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	b.Lock()
	defer b.Unlock()

	q := b.queues[key]
	if len(q) == 0 {
		return "", false, nil
	}

	head := q[0]
	q[0] = ""
	if len(q) == 1 {
		delete(b.queues, key)
	} else {
		b.queues[key] = q[1:]
	}
	return head, true, nil
}

// CounterIncrement adds delta to the counter
func (b *MemoryBackend) CounterIncrement(ctx context.Context, key string, delta int64) (int64, error) {
	return b.add(ctx, key, delta)
}

// CounterDecrement subtracts delta from the counter
func (b *MemoryBackend) CounterDecrement(ctx context.Context, key string, delta int64) (int64, error) {
	return b.add(ctx, key, -delta)
}

func (b *MemoryBackend) add(ctx context.Context, key string, delta int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	b.Lock()
	defer b.Unlock()
	b.counters[key] += delta
	return b.counters[key], nil
}

// CounterGet returns the counter value
func (b *MemoryBackend) CounterGet(ctx context.Context, key string) (int64, bool, error) {
	b.Lock()
	defer b.Unlock()
	v, ok := b.counters[key]
	return v, ok, nil
}

// CounterSet overwrites the counter value
func (b *MemoryBackend) CounterSet(ctx context.Context, key string, value int64) error {
	b.Lock()
	defer b.Unlock()
	b.counters[key] = value
	return nil
}

// CounterScan returns the counters whose key starts with prefix
func (b *MemoryBackend) CounterScan(ctx context.Context, prefix string) (map[string]int64, error) {
	b.Lock()
	defer b.Unlock()
	out := make(map[string]int64)
	for k, v := range b.counters {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

// QueueRange returns a copy of the queue, head first
func (b *MemoryBackend) QueueRange(ctx context.Context, key string) ([]string, error) {
	b.Lock()
	defer b.Unlock()
	out := make([]string, len(b.queues[key]))
	copy(out, b.queues[key])
	return out, nil
}

// Close does nothing
func (b *MemoryBackend) Close() error {
	return nil
}

var _ core.Store = (*MemoryBackend)(nil)
