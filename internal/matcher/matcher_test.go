package matcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-hailing/internal/eta"
	"github.com/example/ride-hailing/internal/models"
)

// pickupAt places a pickup roughly m meters east of the origin.
func pickupAt(m float64) *models.Coord {
	return &models.Coord{Lat: 0, Lon: m / 111195.0}
}

func ids(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Ride.ID
	}
	return out
}

func TestRankUnknownLastAndStable(t *testing.T) {
	driver := &models.Coord{Lat: 0, Lon: 0}
	rides := []models.Ride{
		{ID: "d50", Pickup: pickupAt(50)},
		{ID: "na1"},
		{ID: "d10", Pickup: pickupAt(10)},
		{ID: "na2", Pickup: &models.Coord{Lat: 200, Lon: 0}},
		{ID: "d5", Pickup: pickupAt(5)},
	}
	got := Rank(driver, rides)
	assert.Equal(t, []string{"d5", "d10", "d50", "na1", "na2"}, ids(got))
	assert.False(t, got[3].Known)
	assert.False(t, got[4].Known)
	assert.InDelta(t, 5, got[0].DistanceMeters, 0.5)
}

func TestRankWithoutDriverPosition(t *testing.T) {
	rides := []models.Ride{{ID: "a", Pickup: pickupAt(5)}, {ID: "b", Pickup: pickupAt(1)}}
	got := Rank(nil, rides)
	assert.Equal(t, []string{"a", "b"}, ids(got))
}

func TestRankEmpty(t *testing.T) {
	assert.Empty(t, Rank(&models.Coord{}, nil))
}

func TestServiceTopNAndETA(t *testing.T) {
	s := &Service{ETA: &eta.Estimator{SpeedMps: 10}, TopN: 2}
	driver := &models.Coord{Lat: 0, Lon: 0}
	rides := []models.Ride{
		{ID: "far", Pickup: pickupAt(1000)},
		{ID: "near", Pickup: pickupAt(100)},
		{ID: "mid", Pickup: pickupAt(500)},
	}
	got := s.Candidates(context.Background(), driver, rides)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"near", "mid"}, ids(got))
	assert.InDelta(t, 10, got[0].PickupETA, 0.5)
}
