package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-hailing/internal/models"
)

// RiderBoard maintains a rider's own rides, newest first.
type RiderBoard struct {
	Source       Source
	RiderID      string
	PollInterval time.Duration
	Logger       *slog.Logger

	OnUpdate func([]models.Ride)
	OnError  func(error)

	mu    sync.Mutex
	rides []models.Ride
}

func NewRiderBoard(src Source, riderID string, poll time.Duration, logger *slog.Logger) *RiderBoard {
	if logger == nil {
		logger = slog.Default()
	}
	return &RiderBoard{Source: src, RiderID: riderID, PollInterval: poll, Logger: logger}
}

func (b *RiderBoard) Run(ctx context.Context) error {
	l := &loop{
		src:      b.Source,
		where:    models.RideFilter{RiderID: b.RiderID},
		interval: b.PollInterval,
		logger:   b.Logger,
		refresh:  b.refresh,
	}
	return l.run(ctx, nil, nil)
}

func (b *RiderBoard) Rides() []models.Ride {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Ride(nil), b.rides...)
}

func (b *RiderBoard) refresh(ctx context.Context) {
	rides, err := b.Source.ListForRider(ctx, b.RiderID)
	if err != nil {
		b.Logger.Warn("rider rides refresh failed", "rider_id", b.RiderID, "error", err)
		if b.OnError != nil {
			b.OnError(err)
		}
		return
	}
	b.mu.Lock()
	b.rides = rides
	b.mu.Unlock()
	if b.OnUpdate != nil {
		b.OnUpdate(rides)
	}
}
