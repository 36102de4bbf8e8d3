package pebble

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/erain9/bourse/pkg/core"
)

// key layout:
//
//	q:<queue>\x00h           head sequence
//	q:<queue>\x00t           tail sequence
//	q:<queue>\x00i<seq:8>    queue item
//	c:<counter>              int64 counter
const (
	queuePrefix   = "q:"
	counterPrefix = "c:"
	sep           = 0x00
)

// PebbleBackend implements core.Store on an embedded Pebble database. Book and
// ledger survive restarts. Atomicity holds within one process: every mutation
// runs under the backend lock and commits as one synced batch.
type PebbleBackend struct {
	mu sync.Mutex
	db *pebble.DB
}

// Open opens (or creates) a Pebble database at path
func Open(path string) (*PebbleBackend, error) {
	cache := pebble.NewCache(64 << 20)
	defer cache.Unref()

	opts := &pebble.Options{
		Cache:        cache,
		MemTableSize: 32 << 20,
		BytesPerSync: 512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleBackend{db: db}, nil
}

// Close closes the database
func (b *PebbleBackend) Close() error {
	return b.db.Close()
}

func queueKey(queue string, suffix byte) []byte {
	k := make([]byte, 0, len(queuePrefix)+len(queue)+2)
	k = append(k, queuePrefix...)
	k = append(k, queue...)
	return append(k, sep, suffix)
}

func itemKey(queue string, seq uint64) []byte {
	k := queueKey(queue, 'i')
	return binary.BigEndian.AppendUint64(k, seq)
}

func counterKey(name string) []byte {
	return append([]byte(counterPrefix), name...)
}

func (b *PebbleBackend) getUint(key []byte) (uint64, error) {
	val, closer, err := b.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, fmt.Errorf("corrupt sequence at %q", key)
	}
	return binary.BigEndian.Uint64(val), nil
}

func encodeUint(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

// QueuePush appends value to the tail of the queue
func (b *PebbleBackend) QueuePush(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tail, err := b.getUint(queueKey(key, 't'))
	if err != nil {
		return fmt.Errorf("read tail of %s: %w", key, err)
	}

	batch := b.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(itemKey(key, tail), []byte(value), nil); err != nil {
		return err
	}
	if err := batch.Set(queueKey(key, 't'), encodeUint(tail+1), nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("push %s: %w", key, err)
	}
	return nil
}

// QueuePop removes and returns the head of the queue
func (b *PebbleBackend) QueuePop(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	head, err := b.getUint(queueKey(key, 'h'))
	if err != nil {
		return "", false, fmt.Errorf("read head of %s: %w", key, err)
	}
	tail, err := b.getUint(queueKey(key, 't'))
	if err != nil {
		return "", false, fmt.Errorf("read tail of %s: %w", key, err)
	}
	if head >= tail {
		return "", false, nil
	}

	ik := itemKey(key, head)
	val, closer, err := b.db.Get(ik)
	if err != nil {
		return "", false, fmt.Errorf("read head item of %s: %w", key, err)
	}
	value := string(val)
	closer.Close()

	batch := b.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(ik, nil); err != nil {
		return "", false, err
	}
	if err := batch.Set(queueKey(key, 'h'), encodeUint(head+1), nil); err != nil {
		return "", false, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return "", false, fmt.Errorf("pop %s: %w", key, err)
	}
	return value, true, nil
}

// CounterIncrement adds delta to the counter
func (b *PebbleBackend) CounterIncrement(ctx context.Context, key string, delta int64) (int64, error) {
	return b.add(ctx, key, delta)
}

// CounterDecrement subtracts delta from the counter
func (b *PebbleBackend) CounterDecrement(ctx context.Context, key string, delta int64) (int64, error) {
	return b.add(ctx, key, -delta)
}

func (b *PebbleBackend) add(ctx context.Context, key string, delta int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	current, err := b.getUint(counterKey(key))
	if err != nil {
		return 0, fmt.Errorf("read counter %s: %w", key, err)
	}
	next := int64(current) + delta
	if err := b.db.Set(counterKey(key), encodeUint(uint64(next)), pebble.Sync); err != nil {
		return 0, fmt.Errorf("write counter %s: %w", key, err)
	}
	return next, nil
}

// CounterGet returns the counter value
func (b *PebbleBackend) CounterGet(ctx context.Context, key string) (int64, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	val, closer, err := b.db.Get(counterKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, false, fmt.Errorf("corrupt counter %s", key)
	}
	return int64(binary.BigEndian.Uint64(val)), true, nil
}

// CounterSet overwrites the counter value
func (b *PebbleBackend) CounterSet(ctx context.Context, key string, value int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.db.Set(counterKey(key), encodeUint(uint64(value)), pebble.Sync)
}

// CounterScan returns the counters whose key starts with prefix
func (b *PebbleBackend) CounterScan(ctx context.Context, prefix string) (map[string]int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	lower := counterKey(prefix)
	iter, err := b.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixUpperBound(lower),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make(map[string]int64)
	for iter.First(); iter.Valid(); iter.Next() {
		val := iter.Value()
		if len(val) != 8 {
			return nil, fmt.Errorf("corrupt counter %s", iter.Key())
		}
		name := string(iter.Key()[len(counterPrefix):])
		out[name] = int64(binary.BigEndian.Uint64(val))
	}
	return out, iter.Error()
}

// prefixUpperBound returns the smallest key greater than every key with the prefix
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// QueueRange returns the queue contents, head first
func (b *PebbleBackend) QueueRange(ctx context.Context, key string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	lower := queueKey(key, 'i')
	upper := queueKey(key, 'i'+1)
	iter, err := b.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []string
	for iter.First(); iter.Valid(); iter.Next() {
		out = append(out, string(iter.Value()))
	}
	return out, iter.Error()
}

var _ core.Store = (*PebbleBackend)(nil)
