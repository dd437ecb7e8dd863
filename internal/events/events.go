// Package events carries ride changes and driver positions out of the API
// process to Kafka or RabbitMQ.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/observability"
	"github.com/example/ride-hailing/internal/storage"
)

const publishTimeout = 2 * time.Second

// Publisher ships ride change events to a broker.
type Publisher interface {
	PublishRideChange(ctx context.Context, ev models.ChangeEvent) error
	Close() error
}

// LocationPublisher ships accepted driver position samples.
type LocationPublisher interface {
	PublishLocation(ctx context.Context, loc models.DriverLocation) error
}

// Subscriber is the part of the ride store the forwarder listens to.
type Subscriber interface {
	Subscribe(ctx context.Context, where models.RideFilter, fn func(models.ChangeEvent)) (storage.Subscription, error)
}

// RoutingKey names the topic a change is published under, ride.<status>.
// Deletes carry the last known status of the row.
func RoutingKey(ev models.ChangeEvent) string {
	r := ev.Record
	if r == nil {
		r = ev.Old
	}
	if r == nil {
		return "ride.unknown"
	}
	return "ride." + string(r.Status)
}

// Forwarder publishes every ride change the store reports.
type Forwarder struct {
	Source    Subscriber
	Publisher Publisher
	Logger    *slog.Logger
}

func NewForwarder(src Subscriber, pub Publisher, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{Source: src, Publisher: pub, Logger: logger}
}

// Run blocks until ctx is done.
func (f *Forwarder) Run(ctx context.Context) error {
	sub, err := f.Source.Subscribe(ctx, models.RideFilter{}, func(ev models.ChangeEvent) {
		f.forward(ctx, ev)
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	f.Logger.Info("ride change forwarder started")
	<-ctx.Done()
	return ctx.Err()
}

func (f *Forwarder) forward(ctx context.Context, ev models.ChangeEvent) {
	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := f.Publisher.PublishRideChange(pctx, ev); err != nil {
		observability.EventsPublished.WithLabelValues("error").Inc()
		f.Logger.Warn("ride change publish failed", "routing_key", RoutingKey(ev), "error", err)
		return
	}
	observability.EventsPublished.WithLabelValues("ok").Inc()
}

// Nop discards everything. It stands in when no broker is configured.
type Nop struct{}

func (Nop) PublishRideChange(context.Context, models.ChangeEvent) error  { return nil }
func (Nop) PublishLocation(context.Context, models.DriverLocation) error { return nil }
func (Nop) Close() error                                                 { return nil }
