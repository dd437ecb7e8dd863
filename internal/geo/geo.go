package geo

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/example/ride-hailing/internal/models"
)

// EarthRadiusMeters is the mean radius used by every distance in the system.
const EarthRadiusMeters = 6371000.0

// Index keeps the latest known position of each driver.
type Index interface {
	Upsert(ctx context.Context, loc models.DriverLocation) error
	Position(ctx context.Context, driverID string) (models.Coord, bool, error)
}

type MemoryIndex struct {
	mu      sync.RWMutex
	drivers map[string]models.DriverLocation
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{drivers: make(map[string]models.DriverLocation)}
}

func (g *MemoryIndex) Upsert(_ context.Context, loc models.DriverLocation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if loc.At.IsZero() {
		loc.At = time.Now()
	}
	g.drivers[loc.DriverID] = loc
	return nil
}

func (g *MemoryIndex) Position(_ context.Context, driverID string) (models.Coord, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	loc, ok := g.drivers[driverID]
	return loc.Loc, ok, nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = EarthRadiusMeters
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) + math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// Distance returns the great-circle distance between a and b, or false when
// either point is missing or not a valid coordinate.
func Distance(a, b *models.Coord) (float64, bool) {
	if a == nil || b == nil || !a.Valid() || !b.Valid() {
		return 0, false
	}
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon), true
}
