package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-hailing/internal/apperrors"
	"github.com/example/ride-hailing/internal/geo"
	"github.com/example/ride-hailing/internal/models"
)

func TestQuote(t *testing.T) {
	c := NewCalculator(2)
	pickup := &models.Coord{Lat: 9.08, Lon: 8.67}
	dest := &models.Coord{Lat: 9.09, Lon: 8.68}

	q, err := c.Quote(pickup, dest)
	require.NoError(t, err)

	meters := geo.Haversine(9.08, 8.67, 9.09, 8.68)
	assert.Equal(t, int64(math.Round(meters*2)), q.Price)
	assert.Equal(t, meters/1000, q.DistanceKm)
	assert.InDelta(t, 1560, meters, 20)
}

func TestQuoteDefaultsRate(t *testing.T) {
	assert.Equal(t, DefaultRatePerMeter, NewCalculator(0).RatePerMeter)
}

func TestQuoteValidation(t *testing.T) {
	c := NewCalculator(2)
	p := &models.Coord{Lat: 1, Lon: 1}

	_, err := c.Quote(p, nil)
	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "destination", verr.Field)

	_, err = c.Quote(nil, p)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = c.Quote(p, &models.Coord{Lat: 120, Lon: 1})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
