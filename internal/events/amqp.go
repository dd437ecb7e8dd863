package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/ride-hailing/internal/apperrors"
	"github.com/example/ride-hailing/internal/models"
)

// confirmBuffer leaves room for confirms of publishes whose caller gave up.
const confirmBuffer = 16

// AMQPPublisher publishes ride changes to a durable topic exchange with
// publisher confirms.
type AMQPPublisher struct {
	exchange string

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	confirms chan amqp.Confirmation
}

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(30 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq declare exchange %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq confirm mode: %w", err)
	}
	return &AMQPPublisher{
		exchange: exchange,
		conn:     conn,
		ch:       ch,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, confirmBuffer)),
	}, nil
}

func (a *AMQPPublisher) PublishRideChange(ctx context.Context, ev models.ChangeEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return apperrors.Transport("publish ride change", a.publish(ctx, RoutingKey(ev), body))
}

func (a *AMQPPublisher) publish(ctx context.Context, key string, body []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil || a.conn.IsClosed() {
		return errors.New("rabbitmq: connection is not open")
	}
	tag := a.ch.GetNextPublishSeqNo()
	err := a.ch.PublishWithContext(ctx, a.exchange, key, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return err
	}
	return awaitConfirm(ctx, a.confirms, tag)
}

// awaitConfirm waits for the confirm carrying tag. Confirms for earlier tags
// belong to publishes that timed out and are dropped.
func awaitConfirm(ctx context.Context, confirms <-chan amqp.Confirmation, tag uint64) error {
	for {
		select {
		case c, ok := <-confirms:
			if !ok {
				return errors.New("rabbitmq: confirm channel closed")
			}
			switch {
			case c.DeliveryTag < tag:
				continue
			case c.DeliveryTag > tag:
				return fmt.Errorf("rabbitmq: confirm for tag %d missed, got %d", tag, c.DeliveryTag)
			case !c.Ack:
				return errors.New("rabbitmq: publish not acknowledged")
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *AMQPPublisher) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	_ = a.ch.Close()
	err := a.conn.Close()
	a.conn = nil
	return err
}
