package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/erain9/bourse/pkg/core"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOptions represents configuration options for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

var defaultOptions = &RedisOptions{
	Addr:     "localhost:6379",
	Password: "",
	DB:       0,
}

// SetDefaultRedisOptions sets the default options for Redis connections
func SetDefaultRedisOptions(options *RedisOptions) {
	defaultOptions = options
}

// GetRedisClient creates a new Redis client using the default options
func GetRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     defaultOptions.Addr,
		Password: defaultOptions.Password,
		DB:       defaultOptions.DB,
	})
}

// RedisBackend implements core.Store on Redis. Book queues are lists fed with
// LPUSH and drained with RPOP, so the oldest entry leaves first. Balances are
// integer keys moved with INCRBY and DECRBY. Both are atomic on the server,
// which is what lets several fulfillment processes share one book.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger
}

// NewRedisBackend creates a new instance of RedisBackend. The prefix is
// prepended to every key; an empty prefix uses the bare keys of the wire format.
func NewRedisBackend(client redis.UniversalClient, prefix string, logger *zap.Logger) *RedisBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBackend{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// Ping checks the connection
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// QueuePush appends value to the tail of the queue
func (b *RedisBackend) QueuePush(ctx context.Context, key, value string) error {
	if err := b.client.LPush(ctx, b.key(key), value).Err(); err != nil {
		b.logger.Error("failed to push to queue", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("lpush %s: %w", key, err)
	}
	return nil
}

// QueuePop removes and returns the head of the queue
func (b *RedisBackend) QueuePop(ctx context.Context, key string) (string, bool, error) {
	value, err := b.client.RPop(ctx, b.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		b.logger.Error("failed to pop from queue", zap.String("key", key), zap.Error(err))
		return "", false, fmt.Errorf("rpop %s: %w", key, err)
	}
	return value, true, nil
}

// CounterIncrement adds delta to the counter
func (b *RedisBackend) CounterIncrement(ctx context.Context, key string, delta int64) (int64, error) {
	v, err := b.client.IncrBy(ctx, b.key(key), delta).Result()
	if err != nil {
		b.logger.Error("failed to increment counter", zap.String("key", key), zap.Int64("delta", delta), zap.Error(err))
		return 0, fmt.Errorf("incrby %s: %w", key, err)
	}
	return v, nil
}

// CounterDecrement subtracts delta from the counter
func (b *RedisBackend) CounterDecrement(ctx context.Context, key string, delta int64) (int64, error) {
	v, err := b.client.DecrBy(ctx, b.key(key), delta).Result()
	if err != nil {
		b.logger.Error("failed to decrement counter", zap.String("key", key), zap.Int64("delta", delta), zap.Error(err))
		return 0, fmt.Errorf("decrby %s: %w", key, err)
	}
	return v, nil
}

// CounterGet returns the counter value
func (b *RedisBackend) CounterGet(ctx context.Context, key string) (int64, bool, error) {
	v, err := b.client.Get(ctx, b.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

// CounterSet overwrites the counter value
func (b *RedisBackend) CounterSet(ctx context.Context, key string, value int64) error {
	if err := b.client.Set(ctx, b.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// CounterScan returns the counters whose key starts with prefix. It walks the
// keyspace with SCAN, so it is meant for tooling rather than hot paths.
func (b *RedisBackend) CounterScan(ctx context.Context, prefix string) (map[string]int64, error) {
	out := make(map[string]int64)
	iter := b.client.Scan(ctx, 0, b.key(prefix)+"*", 500).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		v, err := b.client.Get(ctx, full).Int64()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			b.logger.Warn("skipping non-counter key", zap.String("key", full), zap.Error(err))
			continue
		}
		out[full[len(b.prefix):]] = v
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}
	return out, nil
}

// QueueRange returns the queue contents, head first
func (b *RedisBackend) QueueRange(ctx context.Context, key string) ([]string, error) {
	values, err := b.client.LRange(ctx, b.key(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	// LPUSH stores newest first
	for i, j := 0, len(values)-1; i < j; i, j = i+1, j-1 {
		values[i], values[j] = values[j], values[i]
	}
	return values, nil
}

// Close closes the underlying client
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func (b *RedisBackend) key(key string) string {
	return b.prefix + key
}

var _ core.Store = (*RedisBackend)(nil)
