package pricing

import (
	"math"

	"github.com/example/ride-hailing/internal/apperrors"
	"github.com/example/ride-hailing/internal/geo"
	"github.com/example/ride-hailing/internal/models"
)

// DefaultRatePerMeter is the fare charged per meter of great-circle distance.
const DefaultRatePerMeter = 2.0

// Quote is the fare fixed on a ride at creation time.
type Quote struct {
	DistanceMeters float64
	DistanceKm     float64
	Price          int64
}

type Calculator struct {
	RatePerMeter float64
}

func NewCalculator(rate float64) Calculator {
	if rate <= 0 {
		rate = DefaultRatePerMeter
	}
	return Calculator{RatePerMeter: rate}
}

// Quote prices the trip from pickup to destination as
// round(distance_meters * rate).
func (c Calculator) Quote(pickup, destination *models.Coord) (Quote, error) {
	if pickup == nil {
		return Quote{}, apperrors.Validation("pickup", "required")
	}
	if destination == nil {
		return Quote{}, apperrors.Validation("destination", "required")
	}
	if !pickup.Valid() {
		return Quote{}, apperrors.Validation("pickup", "out of range")
	}
	if !destination.Valid() {
		return Quote{}, apperrors.Validation("destination", "out of range")
	}
	meters := geo.Haversine(pickup.Lat, pickup.Lon, destination.Lat, destination.Lon)
	return Quote{
		DistanceMeters: meters,
		DistanceKm:     meters / 1000,
		Price:          int64(math.Round(meters * c.RatePerMeter)),
	}, nil
}
