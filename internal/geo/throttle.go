package geo

import (
	"sync"
	"time"

	"github.com/example/ride-hailing/internal/models"
)

// Throttle suppresses location samples that moved less than MinDistance
// meters and arrived sooner than MinInterval after the last reported one.
type Throttle struct {
	MinDistance float64
	MinInterval time.Duration

	mu       sync.Mutex
	last     models.Coord
	lastAt   time.Time
	reported bool
}

func NewThrottle(minDistance float64, minInterval time.Duration) *Throttle {
	return &Throttle{MinDistance: minDistance, MinInterval: minInterval}
}

// Allow reports whether the sample should be forwarded and, if so, records it
// as the new reference point.
func (t *Throttle) Allow(c models.Coord, at time.Time) bool {
	if !c.Valid() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reported {
		moved := Haversine(t.last.Lat, t.last.Lon, c.Lat, c.Lon)
		if moved < t.MinDistance && at.Sub(t.lastAt) < t.MinInterval {
			return false
		}
	}
	t.last, t.lastAt, t.reported = c, at, true
	return true
}

// ThrottleSet keeps one Throttle per driver.
type ThrottleSet struct {
	minDistance float64
	minInterval time.Duration

	mu  sync.Mutex
	set map[string]*Throttle
}

func NewThrottleSet(minDistance float64, minInterval time.Duration) *ThrottleSet {
	return &ThrottleSet{minDistance: minDistance, minInterval: minInterval, set: make(map[string]*Throttle)}
}

func (s *ThrottleSet) Allow(loc models.DriverLocation) bool {
	s.mu.Lock()
	t, ok := s.set[loc.DriverID]
	if !ok {
		t = NewThrottle(s.minDistance, s.minInterval)
		s.set[loc.DriverID] = t
	}
	s.mu.Unlock()
	return t.Allow(loc.Loc, loc.At)
}

func (s *ThrottleSet) Forget(driverID string) {
	s.mu.Lock()
	delete(s.set, driverID)
	s.mu.Unlock()
}
