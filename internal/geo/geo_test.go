package geo

import (
	"context"
	"math"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-hailing/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(9.0820, 8.6752, 9.0820, 8.6752)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineOneDegreeOfLongitudeAtEquator(t *testing.T) {
	d := Haversine(0, 0, 0, 1)
	assert.InDelta(t, 111195, d, 50)
}

func TestHaversineSymmetric(t *testing.T) {
	a := Haversine(9.08, 8.67, 9.09, 8.68)
	b := Haversine(9.09, 8.68, 9.08, 8.67)
	assert.Equal(t, a, b)
}

func TestDistanceIndeterminate(t *testing.T) {
	p := &models.Coord{Lat: 1, Lon: 1}
	_, ok := Distance(p, nil)
	assert.False(t, ok)
	_, ok = Distance(p, &models.Coord{Lat: math.NaN(), Lon: 1})
	assert.False(t, ok)
	d, ok := Distance(p, p)
	assert.True(t, ok)
	assert.Zero(t, d)
}

func TestMemoryIndex(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	_, ok, err := idx.Position(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, idx.Upsert(ctx, models.DriverLocation{DriverID: "d1", Loc: models.Coord{Lat: 9, Lon: 8}}))
	pos, ok, err := idx.Position(ctx, "d1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.Coord{Lat: 9, Lon: 8}, pos)
}

func TestThrottle(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	th := NewThrottle(10, 5*time.Second)
	origin := models.Coord{Lat: 0, Lon: 0}

	assert.True(t, th.Allow(origin, start), "first sample always passes")
	// ~1.1 m away, 1 s later
	assert.False(t, th.Allow(models.Coord{Lat: 0, Lon: 0.00001}, start.Add(time.Second)))
	// ~22 m away
	assert.True(t, th.Allow(models.Coord{Lat: 0, Lon: 0.0002}, start.Add(2*time.Second)))
	// same place, but the interval elapsed
	assert.True(t, th.Allow(models.Coord{Lat: 0, Lon: 0.0002}, start.Add(7*time.Second)))
	assert.False(t, th.Allow(models.Coord{Lat: math.NaN(), Lon: 0}, start.Add(time.Minute)))
}

func TestThrottleSetIsPerDriver(t *testing.T) {
	at := time.Now()
	s := NewThrottleSet(10, 5*time.Second)
	loc := models.Coord{Lat: 1, Lon: 1}
	assert.True(t, s.Allow(models.DriverLocation{DriverID: "a", Loc: loc, At: at}))
	assert.True(t, s.Allow(models.DriverLocation{DriverID: "b", Loc: loc, At: at}))
	assert.False(t, s.Allow(models.DriverLocation{DriverID: "a", Loc: loc, At: at}))
	s.Forget("a")
	assert.True(t, s.Allow(models.DriverLocation{DriverID: "a", Loc: loc, At: at}))
}

func TestRedisIndex(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	idx := NewRedisIndex(addr, os.Getenv("REDIS_PASSWORD"), "test_drivers_geo")
	defer idx.Close()

	require.NoError(t, idx.Upsert(ctx, models.DriverLocation{DriverID: "geo-test", Loc: models.Coord{Lat: 9.08, Lon: 8.67}}))
	pos, ok, err := idx.Position(ctx, "geo-test")
	require.NoError(t, err)
	require.True(t, ok)
	// redis stores geohashes, so allow for precision loss
	assert.InDelta(t, 9.08, pos.Lat, 1e-4)
	assert.InDelta(t, 8.67, pos.Lon, 1e-4)
}
