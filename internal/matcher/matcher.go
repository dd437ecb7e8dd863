package matcher

import (
	"context"
	"sort"

	"github.com/example/ride-hailing/internal/eta"
	"github.com/example/ride-hailing/internal/geo"
	"github.com/example/ride-hailing/internal/models"
)

// Candidate is a pending ride as seen from one driver's position.
type Candidate struct {
	Ride           models.Ride `json:"ride"`
	DistanceMeters float64     `json:"distance_meters"`
	Known          bool        `json:"distance_known"`
	PickupETA      float64     `json:"pickup_eta_seconds,omitempty"`
}

// Rank orders rides by great-circle distance from driver to pickup, nearest
// first. Rides whose distance cannot be computed go last and keep their
// input order.
func Rank(driver *models.Coord, rides []models.Ride) []Candidate {
	out := make([]Candidate, 0, len(rides))
	for _, r := range rides {
		d, ok := geo.Distance(driver, r.Pickup)
		out = append(out, Candidate{Ride: r, DistanceMeters: d, Known: ok})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.Known && b.Known:
			return a.DistanceMeters < b.DistanceMeters
		case a.Known:
			return true
		default:
			return false
		}
	})
	return out
}

// Service ranks candidates and annotates the ones with a known distance with
// a pickup ETA.
type Service struct {
	ETA  *eta.Estimator
	TopN int
}

func (s *Service) Candidates(ctx context.Context, driver *models.Coord, rides []models.Ride) []Candidate {
	ranked := Rank(driver, rides)
	if s.TopN > 0 && len(ranked) > s.TopN {
		ranked = ranked[:s.TopN]
	}
	if s.ETA == nil {
		return ranked
	}
	for i := range ranked {
		if ranked[i].Known {
			ranked[i].PickupETA = s.ETA.Estimate(ctx, *driver, *ranked[i].Ride.Pickup)
		}
	}
	return ranked
}
