// Package feed keeps a client's view of the ride table fresh. Views are
// rebuilt from a full fetch every time, on a fixed poll interval and on every
// relevant change notification; a notification never patches the view in
// place.
package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/storage"
)

// DefaultPollInterval matches the refresh cadence of the mobile clients.
const DefaultPollInterval = 30 * time.Second

// Source is the read side of the ride lifecycle service.
type Source interface {
	ListPending(ctx context.Context) ([]models.Ride, error)
	ListForRider(ctx context.Context, riderID string) ([]models.Ride, error)
	Subscribe(ctx context.Context, where models.RideFilter, fn func(models.ChangeEvent)) (storage.Subscription, error)
}

// trigger coalesces any number of pending wakeups into one.
type trigger chan struct{}

func newTrigger() trigger { return make(trigger, 1) }

func (t trigger) fire() {
	select {
	case t <- struct{}{}:
	default:
	}
}

// loop is the shared refresh driver: it fetches once up front, then again on
// every tick and every change event matching where. It releases the
// subscription when ctx ends.
type loop struct {
	src      Source
	where    models.RideFilter
	interval time.Duration
	logger   *slog.Logger
	refresh  func(ctx context.Context)
}

func (l *loop) run(ctx context.Context, extra <-chan models.Coord, onExtra func(models.Coord)) error {
	changed := newTrigger()
	sub, err := l.src.Subscribe(ctx, l.where, func(models.ChangeEvent) { changed.fire() })
	if err != nil {
		// polling alone still converges
		l.logger.Warn("ride subscription unavailable, polling only", "error", err)
	} else {
		defer sub.Unsubscribe()
	}

	interval := l.interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.refresh(ctx)
		case <-changed:
			l.refresh(ctx)
		case c := <-extra:
			onExtra(c)
		}
	}
}
