package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" Accepted ")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, s)

	_, err = ParseStatus("matched")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	s, err = ParseStatus("in_progress")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, s)
}

func TestCanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusAccepted, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusAccepted, StatusCompleted, true},
		{StatusAccepted, StatusCancelled, false},
		{StatusAccepted, StatusInProgress, false},
		{StatusCancelled, StatusAccepted, false},
		{StatusCompleted, StatusPending, false},
		{StatusInProgress, StatusCompleted, false},
	}
	for _, c := range cases {
		assert.Equalf(t, c.ok, c.from.CanTransitionTo(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestHasDriver(t *testing.T) {
	assert.False(t, StatusPending.HasDriver())
	assert.False(t, StatusCancelled.HasDriver())
	assert.True(t, StatusAccepted.HasDriver())
	assert.True(t, StatusInProgress.HasDriver())
	assert.True(t, StatusCompleted.HasDriver())
}

func TestCoordValid(t *testing.T) {
	assert.True(t, Coord{Lat: 9.08, Lon: 8.67}.Valid())
	assert.False(t, Coord{Lat: math.NaN(), Lon: 0}.Valid())
	assert.False(t, Coord{Lat: 91, Lon: 0}.Valid())
	assert.False(t, Coord{Lat: 0, Lon: math.Inf(1)}.Valid())
}

func TestPatchAndFilter(t *testing.T) {
	r := Ride{ID: "r1", RiderID: "u1", Status: StatusPending}
	f := RideFilter{ID: "r1", Status: StatusPending}
	require.True(t, f.Matches(r))

	driver := "d1"
	RidePatch{Status: StatusAccepted.Ptr(), DriverID: &driver}.Apply(&r)
	assert.Equal(t, StatusAccepted, r.Status)
	assert.Equal(t, "d1", r.DriverID)
	assert.False(t, f.Matches(r))

	ev := ChangeEvent{Type: ChangeUpdate, Record: &r, Old: &Ride{ID: "r1", RiderID: "u1", Status: StatusPending}}
	assert.True(t, ev.Touches(RideFilter{Status: StatusPending}))
	assert.True(t, ev.Touches(RideFilter{DriverID: "d1"}))
	assert.False(t, ev.Touches(RideFilter{RiderID: "u2"}))
}
