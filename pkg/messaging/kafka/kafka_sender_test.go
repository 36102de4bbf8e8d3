package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/erain9/bourse/pkg/messaging"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestEventSender_SendEvent(t *testing.T) {
	w := &fakeWriter{}
	sender := newEventSender(w, "bourse-events")

	event := &messaging.Event{
		Type:        messaging.EventSettled,
		Incoming:    "ask:AAPL:600.0:1:cust-B",
		Resting:     "bid:AAPL:600.0:1:cust-A",
		Status:      messaging.StatusSucceeded,
		AmountCents: 60000,
		Time:        time.Now(),
	}
	require.NoError(t, sender.SendEvent(context.Background(), event))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, event.PartitionKey(), string(msg.Key))
	assert.Equal(t, "type", msg.Headers[0].Key)
	assert.Equal(t, "settled", string(msg.Headers[0].Value))

	decoded, err := DecodeEvent(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, event.Incoming, decoded.Incoming)
	assert.Equal(t, int64(60000), decoded.AmountCents)

	require.NoError(t, sender.Close())
	assert.True(t, w.closed)
}

func TestEventSender_WriteFailure(t *testing.T) {
	w := &fakeWriter{err: errors.New("no leader")}
	sender := newEventSender(w, "bourse-events")

	err := sender.SendEvent(context.Background(), &messaging.Event{Type: messaging.EventPlaced})
	assert.ErrorContains(t, err, "bourse-events")
	assert.ErrorIs(t, err, w.err)
}

func TestDecodeEvent_Rejects(t *testing.T) {
	_, err := DecodeEvent([]byte("{"))
	assert.Error(t, err)

	_, err = DecodeEvent([]byte(`{"raw":"x"}`))
	assert.Error(t, err)
}
