package memory

import (
	"context"
	"sync"
)

// Faults lists errors a FaultyBackend returns instead of touching the store.
// Per-key entries take precedence over the operation-wide ones.
type Faults struct {
	Push      error
	Pop       error
	Increment error
	Decrement error
	Keys      map[string]error
}

// FaultyBackend wraps a MemoryBackend and fails chosen operations. It is used
// to exercise partial settlements and store outages.
type FaultyBackend struct {
	*MemoryBackend
	mu     sync.Mutex
	faults Faults
	calls  map[string]int
}

// NewFaultyBackend wraps backend with the given faults
func NewFaultyBackend(backend *MemoryBackend, faults Faults) *FaultyBackend {
	return &FaultyBackend{
		MemoryBackend: backend,
		faults:        faults,
		calls:         make(map[string]int),
	}
}

// SetFaults replaces the active faults
func (f *FaultyBackend) SetFaults(faults Faults) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = faults
}

// Calls returns how many times an operation ("push", "pop", "incr", "decr") was attempted
func (f *FaultyBackend) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FaultyBackend) check(op, key string, opErr func(Faults) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if err, ok := f.faults.Keys[key]; ok && err != nil {
		return err
	}
	return opErr(f.faults)
}

// QueuePush implements core.LedgerStore
func (f *FaultyBackend) QueuePush(ctx context.Context, key, value string) error {
	if err := f.check("push", key, func(x Faults) error { return x.Push }); err != nil {
		return err
	}
	return f.MemoryBackend.QueuePush(ctx, key, value)
}

// QueuePop implements core.LedgerStore
func (f *FaultyBackend) QueuePop(ctx context.Context, key string) (string, bool, error) {
	if err := f.check("pop", key, func(x Faults) error { return x.Pop }); err != nil {
		return "", false, err
	}
	return f.MemoryBackend.QueuePop(ctx, key)
}

// CounterIncrement implements core.LedgerStore
func (f *FaultyBackend) CounterIncrement(ctx context.Context, key string, delta int64) (int64, error) {
	if err := f.check("incr", key, func(x Faults) error { return x.Increment }); err != nil {
		return 0, err
	}
	return f.MemoryBackend.CounterIncrement(ctx, key, delta)
}

// CounterDecrement implements core.LedgerStore
func (f *FaultyBackend) CounterDecrement(ctx context.Context, key string, delta int64) (int64, error) {
	if err := f.check("decr", key, func(x Faults) error { return x.Decrement }); err != nil {
		return 0, err
	}
	return f.MemoryBackend.CounterDecrement(ctx, key, delta)
}
