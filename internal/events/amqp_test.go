package events

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func confirmStream(cs ...amqp.Confirmation) chan amqp.Confirmation {
	ch := make(chan amqp.Confirmation, len(cs))
	for _, c := range cs {
		ch <- c
	}
	return ch
}

func TestAwaitConfirmSkipsStaleTags(t *testing.T) {
	// tags 1 and 2 were abandoned by callers whose context ended
	ch := confirmStream(
		amqp.Confirmation{DeliveryTag: 1, Ack: false},
		amqp.Confirmation{DeliveryTag: 2, Ack: true},
		amqp.Confirmation{DeliveryTag: 3, Ack: true},
	)
	require.NoError(t, awaitConfirm(context.Background(), ch, 3))
	assert.Empty(t, ch)
}

func TestAwaitConfirmNack(t *testing.T) {
	ch := confirmStream(amqp.Confirmation{DeliveryTag: 4, Ack: false})
	assert.ErrorContains(t, awaitConfirm(context.Background(), ch, 4), "not acknowledged")
}

func TestAwaitConfirmMissedTag(t *testing.T) {
	ch := confirmStream(amqp.Confirmation{DeliveryTag: 6, Ack: true})
	assert.ErrorContains(t, awaitConfirm(context.Background(), ch, 5), "missed")
}

func TestAwaitConfirmClosed(t *testing.T) {
	ch := confirmStream()
	close(ch)
	assert.ErrorContains(t, awaitConfirm(context.Background(), ch, 1), "closed")
}

func TestAwaitConfirmTimeoutThenNextPublish(t *testing.T) {
	ch := make(chan amqp.Confirmation, confirmBuffer)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, awaitConfirm(ctx, ch, 1), context.DeadlineExceeded)

	// the late confirm for tag 1 must not be taken for tag 2's
	ch <- amqp.Confirmation{DeliveryTag: 1, Ack: true}
	ch <- amqp.Confirmation{DeliveryTag: 2, Ack: false}
	assert.ErrorContains(t, awaitConfirm(context.Background(), ch, 2), "not acknowledged")
}
