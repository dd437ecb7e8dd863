package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-hailing/internal/apperrors"
	"github.com/example/ride-hailing/internal/models"
)

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes ride changes keyed by ride id and locations keyed by
// driver id, so each entity stays on one partition.
type KafkaPublisher struct {
	rides     MessageWriter
	locations MessageWriter
}

func NewKafkaPublisher(brokers []string, rideTopic, locationTopic string) *KafkaPublisher {
	return &KafkaPublisher{
		rides:     newWriter(brokers, rideTopic),
		locations: newWriter(brokers, locationTopic),
	}
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

func (k *KafkaPublisher) PublishRideChange(ctx context.Context, ev models.ChangeEvent) error {
	r := ev.Record
	if r == nil {
		r = ev.Old
	}
	var key []byte
	if r != nil {
		key = []byte(r.ID)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:     key,
		Value:   b,
		Headers: []kafka.Header{{Key: "routing_key", Value: []byte(RoutingKey(ev))}},
	}
	return apperrors.Transport("publish ride change", k.rides.WriteMessages(ctx, msg))
}

func (k *KafkaPublisher) PublishLocation(ctx context.Context, loc models.DriverLocation) error {
	b, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	return apperrors.Transport("publish location", k.locations.WriteMessages(ctx, kafka.Message{Key: []byte(loc.DriverID), Value: b}))
}

func (k *KafkaPublisher) Close() error {
	var errs []error
	for _, w := range []MessageWriter{k.rides, k.locations} {
		if w != nil {
			errs = append(errs, w.Close())
		}
	}
	return errors.Join(errs...)
}
