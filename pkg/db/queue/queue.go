package queue

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

const (
	// DefaultTopic carries raw order lines from placement to fulfillment
	DefaultTopic = "bourse-orders"
	maxRetry     = 5
)

// Overridable in tests
var (
	newSyncProducer = sarama.NewSyncProducer
	newConsumer     = sarama.NewConsumer
)

func producerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = maxRetry
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	return cfg
}

// OrderProducer publishes raw order lines to Kafka. Lines are keyed by
// customer id, so one customer's orders land on one partition in order.
type OrderProducer struct {
	producer sarama.SyncProducer
	topic    string
}

// NewOrderProducer connects a synchronous producer to brokers
func NewOrderProducer(brokers []string, topic string) (*OrderProducer, error) {
	producer, err := newSyncProducer(brokers, producerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return &OrderProducer{producer: producer, topic: topic}, nil
}

// Publish sends one order line
func (p *OrderProducer) Publish(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.StringEncoder(line),
	}
	if key := customerKey(line); key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to send order to Kafka: %w", err)
	}
	return nil
}

// Close closes the producer
func (p *OrderProducer) Close() error {
	return p.producer.Close()
}

// customerKey extracts the trailing customer id field. Lines that are not
// shaped like orders get no key; the fulfillment side rejects them.
func customerKey(line string) string {
	parts := strings.SplitN(strings.TrimRight(line, "\r\n"), ":", 5)
	if len(parts) != 5 {
		return ""
	}
	return parts[4]
}

// OrderConsumer reads order lines from every partition of a topic and
// implements intake.Source.
type OrderConsumer struct {
	consumer   sarama.Consumer
	partitions []sarama.PartitionConsumer
	messages   chan string
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
	logger     zerolog.Logger
}

// NewOrderConsumer starts consuming topic from the newest offset
func NewOrderConsumer(brokers []string, topic string, logger zerolog.Logger) (*OrderConsumer, error) {
	consumer, err := newConsumer(brokers, sarama.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}
	c, err := newOrderConsumer(consumer, topic, sarama.OffsetNewest, logger)
	if err != nil {
		_ = consumer.Close()
		return nil, err
	}
	return c, nil
}

func newOrderConsumer(consumer sarama.Consumer, topic string, offset int64, logger zerolog.Logger) (*OrderConsumer, error) {
	ids, err := consumer.Partitions(topic)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions of %s: %w", topic, err)
	}

	c := &OrderConsumer{
		consumer: consumer,
		messages: make(chan string),
		done:     make(chan struct{}),
		logger:   logger.With().Str("component", "order-consumer").Str("topic", topic).Logger(),
	}
	for _, id := range ids {
		pc, err := consumer.ConsumePartition(topic, id, offset)
		if err != nil {
			c.closePartitions()
			return nil, fmt.Errorf("failed to consume partition %d: %w", id, err)
		}
		c.partitions = append(c.partitions, pc)
		c.wg.Add(1)
		go c.pump(id, pc)
	}
	return c, nil
}

func (c *OrderConsumer) pump(id int32, pc sarama.PartitionConsumer) {
	defer c.wg.Done()
	for {
		select {
		case msg, ok := <-pc.Messages():
			if !ok {
				return
			}
			select {
			case c.messages <- string(msg.Value):
			case <-c.done:
				return
			}
		case cerr, ok := <-pc.Errors():
			if !ok {
				return
			}
			c.logger.Error().Err(cerr.Err).Int32("partition", id).Msg("Consumer error")
		case <-c.done:
			return
		}
	}
}

// Receive implements intake.Source. It returns io.EOF after Close.
func (c *OrderConsumer) Receive(ctx context.Context) (string, error) {
	select {
	case msg := <-c.messages:
		return msg, nil
	case <-c.done:
		return "", io.EOF
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close stops all partition consumers and the underlying consumer
func (c *OrderConsumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.closePartitions()
		c.wg.Wait()
		err = c.consumer.Close()
	})
	return err
}

func (c *OrderConsumer) closePartitions() {
	for _, pc := range c.partitions {
		pc.AsyncClose()
	}
}
