package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/erain9/bourse/pkg/backend/redis"
	"github.com/erain9/bourse/pkg/core"
	"github.com/erain9/bourse/pkg/db/queue"
	"github.com/erain9/bourse/pkg/intake"
	"github.com/erain9/bourse/pkg/messaging"
	"github.com/erain9/bourse/pkg/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// TestPipeline_RedisAndKafka runs fulfillment against a real redis ledger
// fed from a Kafka order topic.
func TestPipeline_RedisAndKafka(t *testing.T) {
	redisAddr, kafkaAddr := testutil.RedisAddr(), testutil.KafkaAddr()
	testutil.SkipIfDependenciesUnavailable(t, redisAddr, kafkaAddr)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	run := time.Now().UnixNano()
	prefix := fmt.Sprintf("test:pipeline:%d:", run)
	topic := fmt.Sprintf("bourse-orders-test-%d", run)

	client := goredis.NewClient(&goredis.Options{Addr: redisAddr})
	defer client.Close()
	store := redis.NewRedisBackend(client, prefix, zaptest.NewLogger(t))

	producer, err := queue.NewOrderProducer([]string{kafkaAddr}, topic)
	require.NoError(t, err)
	defer producer.Close()

	// the first publish creates the topic so the consumer can find its partitions
	require.Eventually(t, func() bool {
		return producer.Publish(ctx, "warmup") == nil
	}, 20*time.Second, 500*time.Millisecond)

	source, err := queue.NewOrderConsumer([]string{kafkaAddr}, topic, zerolog.Nop())
	require.NoError(t, err)
	defer source.Close()

	events := messaging.NewRecordingSender()
	coordinator := core.NewCoordinator(store, events, zerolog.Nop())
	engine := core.NewEngine(store, coordinator, events, zerolog.Nop())
	dispatcher := intake.NewDispatcher(engine, events, zerolog.Nop(), intake.Config{Workers: 2, QueueDepth: 8})
	dispatcher.Start(ctx)
	go func() { _ = dispatcher.Run(ctx, source) }()

	require.NoError(t, producer.Publish(ctx, "bid:TIF:73.0:10:cust-A"))
	require.Eventually(t, func() bool {
		return len(events.OfType(messaging.EventPlaced)) == 1
	}, 20*time.Second, 50*time.Millisecond)
	require.NoError(t, producer.Publish(ctx, "ask:TIF:73:10:cust-B"))

	require.Eventually(t, func() bool {
		return len(events.OfType(messaging.EventSettled)) == 1
	}, 20*time.Second, 50*time.Millisecond)

	seller, _, err := store.CounterGet(ctx, core.BalanceKey("cust-B"))
	require.NoError(t, err)
	buyer, _, err := store.CounterGet(ctx, core.BalanceKey("cust-A"))
	require.NoError(t, err)
	assert.Equal(t, int64(73000), seller)
	assert.Equal(t, int64(-73000), buyer)

	keys, err := client.Keys(context.Background(), prefix+"*").Result()
	require.NoError(t, err)
	if len(keys) > 0 {
		require.NoError(t, client.Del(context.Background(), keys...).Err())
	}
}
