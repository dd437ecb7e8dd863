package storage

import (
	"context"
	"log/slog"
	"sync"

	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/observability"
)

const subscriberBuffer = 64

// broker fans change events out to subscribers. Each subscriber gets its own
// goroutine so a slow callback never blocks the writer; when its buffer is
// full the event is dropped and the subscriber relies on its next poll.
type broker struct {
	logger *slog.Logger

	mu   sync.Mutex
	next int
	subs map[int]*subscriber
}

type subscriber struct {
	where models.RideFilter
	ch    chan models.ChangeEvent
	once  sync.Once
	stop  func()
}

func newBroker(logger *slog.Logger) *broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &broker{logger: logger, subs: make(map[int]*subscriber)}
}

func (b *broker) subscribe(ctx context.Context, where models.RideFilter, fn func(models.ChangeEvent)) Subscription {
	s := &subscriber{where: where, ch: make(chan models.ChangeEvent, subscriberBuffer)}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = s
	b.mu.Unlock()
	observability.Subscriptions.Inc()

	done := make(chan struct{})
	s.stop = func() {
		s.once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(done)
			observability.Subscriptions.Dec()
		})
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				s.stop()
				return
			case <-done:
				return
			case ev := <-s.ch:
				fn(ev)
			}
		}
	}()
	return s
}

func (s *subscriber) Unsubscribe() { s.stop() }

func (b *broker) publish(ev models.ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if !ev.Touches(s.where) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			observability.DroppedChangeEvents.Inc()
			b.logger.Warn("change event dropped", "type", ev.Type)
		}
	}
}
