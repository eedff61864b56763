package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/terabox-bot/internal/lib/sl"
)

type ackRecord struct {
	tag     uint64
	ack     bool
	requeue bool
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	records []ackRecord
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, ackRecord{tag: tag, ack: true})
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, ackRecord{tag: tag, requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcknowledger) Records() []ackRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ackRecord(nil), a.records...)
}

type fakeConsumer struct {
	deliveries chan amqp.Delivery
	err        error
}

func (c *fakeConsumer) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return c.deliveries, c.err
}

func TestConsumerMessage_AckAndNack(t *testing.T) {
	acks := &fakeAcknowledger{}
	consumer := &fakeConsumer{deliveries: make(chan amqp.Delivery, 3)}
	for i, body := range []string{"ok", "retry", "drop"} {
		consumer.deliveries <- amqp.Delivery{Acknowledger: acks, DeliveryTag: uint64(i + 1), Body: []byte(body)}
	}

	handler := func(_ context.Context, body []byte) error {
		switch string(body) {
		case "retry":
			return errors.New("temporary failure")
		case "drop":
			return fmt.Errorf("malformed: %w", ErrDrop)
		default:
			return nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ConsumerMessage(ctx, consumer, BroadcastQueue, sl.Discard(), handler) }()

	require.Eventually(t, func() bool { return len(acks.Records()) == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []ackRecord{
		{tag: 1, ack: true},
		{tag: 2, requeue: true},
		{tag: 3, requeue: false},
	}, acks.Records())
}

func TestConsumerMessage_ClosedChannel(t *testing.T) {
	consumer := &fakeConsumer{deliveries: make(chan amqp.Delivery)}
	close(consumer.deliveries)

	err := ConsumerMessage(context.Background(), consumer, BroadcastQueue, sl.Discard(), func(context.Context, []byte) error { return nil })
	require.Error(t, err)
}

func TestConsumerMessage_ConsumeError(t *testing.T) {
	consumer := &fakeConsumer{err: amqp.ErrClosed}

	err := ConsumerMessage(context.Background(), consumer, BroadcastQueue, sl.Discard(), func(context.Context, []byte) error { return nil })
	require.ErrorIs(t, err, amqp.ErrClosed)
}
