package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-hailing/internal/geo"
	"github.com/example/ride-hailing/internal/matcher"
	"github.com/example/ride-hailing/internal/models"
)

// DriverBoard maintains the ranked list of pending rides for one driver.
type DriverBoard struct {
	Source       Source
	Matcher      *matcher.Service
	Throttle     *geo.Throttle
	PollInterval time.Duration
	Logger       *slog.Logger
	Now          func() time.Time

	// OnUpdate receives the full ranked list after every fetch or accepted
	// position change.
	OnUpdate func([]matcher.Candidate)
	OnError  func(error)

	positions chan models.Coord

	mu       sync.Mutex
	rides    []models.Ride
	position *models.Coord
}

func NewDriverBoard(src Source, m *matcher.Service, throttle *geo.Throttle, poll time.Duration, logger *slog.Logger) *DriverBoard {
	if logger == nil {
		logger = slog.Default()
	}
	return &DriverBoard{
		Source:       src,
		Matcher:      m,
		Throttle:     throttle,
		PollInterval: poll,
		Logger:       logger,
		Now:          time.Now,
		positions:    make(chan models.Coord, 1),
	}
}

// UpdatePosition hands a location sample to the board. Only the latest
// sample is kept if the board is busy.
func (b *DriverBoard) UpdatePosition(c models.Coord) {
	for {
		select {
		case b.positions <- c:
			return
		default:
		}
		select {
		case <-b.positions:
		default:
		}
	}
}

// Run blocks until ctx is done.
func (b *DriverBoard) Run(ctx context.Context) error {
	l := &loop{
		src:      b.Source,
		where:    models.RideFilter{Status: models.StatusPending},
		interval: b.PollInterval,
		logger:   b.Logger,
		refresh:  b.refresh,
	}
	return l.run(ctx, b.positions, func(c models.Coord) { b.move(ctx, c) })
}

// Candidates returns the current ranked view.
func (b *DriverBoard) Candidates(ctx context.Context) []matcher.Candidate {
	b.mu.Lock()
	rides := b.rides
	pos := b.position
	b.mu.Unlock()
	return b.Matcher.Candidates(ctx, pos, rides)
}

func (b *DriverBoard) refresh(ctx context.Context) {
	rides, err := b.Source.ListPending(ctx)
	if err != nil {
		b.Logger.Warn("pending rides refresh failed", "error", err)
		if b.OnError != nil {
			b.OnError(err)
		}
		return
	}
	b.mu.Lock()
	b.rides = rides
	b.mu.Unlock()
	b.publish(ctx)
}

func (b *DriverBoard) move(ctx context.Context, c models.Coord) {
	if b.Throttle != nil && !b.Throttle.Allow(c, b.Now()) {
		return
	}
	b.mu.Lock()
	b.position = &c
	b.mu.Unlock()
	b.publish(ctx)
}

func (b *DriverBoard) publish(ctx context.Context) {
	if b.OnUpdate != nil {
		b.OnUpdate(b.Candidates(ctx))
	}
}
