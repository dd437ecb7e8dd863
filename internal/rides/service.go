package rides

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-hailing/internal/apperrors"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/observability"
	"github.com/example/ride-hailing/internal/pricing"
	"github.com/example/ride-hailing/internal/storage"
)

// Settler debits a rider's wallet. The reference identifies the ride so a
// retried completion never charges twice.
type Settler interface {
	DecrementBalance(ctx context.Context, accountID string, amount int64, reference string) (int64, error)
}

// Service drives rides through pending -> accepted -> completed and
// pending -> cancelled. Every transition is one conditional write against the
// store; an empty result is reported as apperrors.ErrPreconditionFailed.
type Service struct {
	Store    storage.RideStore
	Accounts Settler
	Pricing  pricing.Calculator
	Logger   *slog.Logger
	Now      func() time.Time
}

func NewService(store storage.RideStore, accounts Settler, calc pricing.Calculator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Store: store, Accounts: accounts, Pricing: calc, Logger: logger, Now: func() time.Time { return time.Now().UTC() }}
}

type CreateRequest struct {
	Pickup             *models.Coord `json:"pickup"`
	Destination        *models.Coord `json:"destination"`
	DestinationAddress string        `json:"destination_address"`
}

// Create records a new pending ride with its price fixed from the
// great-circle distance between pickup and destination.
func (s *Service) Create(ctx context.Context, riderID, riderEmail string, req CreateRequest) (models.Ride, error) {
	ride, err := s.create(ctx, riderID, riderEmail, req)
	record("create", err)
	return ride, err
}

func (s *Service) create(ctx context.Context, riderID, riderEmail string, req CreateRequest) (models.Ride, error) {
	if strings.TrimSpace(riderID) == "" {
		return models.Ride{}, apperrors.Validation("rider_id", "required")
	}
	quote, err := s.Pricing.Quote(req.Pickup, req.Destination)
	if err != nil {
		return models.Ride{}, err
	}
	address := strings.TrimSpace(req.DestinationAddress)
	if address == "" {
		address = "Unknown address"
	}
	pickup, dest := *req.Pickup, *req.Destination
	ride, err := s.Store.Insert(ctx, models.Ride{
		ID:                 uuid.NewString(),
		RiderID:            riderID,
		RiderEmail:         riderEmail,
		Pickup:             &pickup,
		Destination:        &dest,
		DestinationAddress: address,
		DistanceKm:         quote.DistanceKm,
		Price:              quote.Price,
		Status:             models.StatusPending,
		CreatedAt:          s.Now(),
	})
	if err != nil {
		return models.Ride{}, fmt.Errorf("create ride: %w", err)
	}
	s.Logger.Info("ride created", "ride_id", ride.ID, "rider_id", riderID, "price", ride.Price, "distance_km", ride.DistanceKm)
	return ride, nil
}

// Accept claims a pending ride for driverID. When another driver got there
// first, or the rider cancelled, it returns ErrPreconditionFailed and the
// caller should refresh its candidate list.
func (s *Service) Accept(ctx context.Context, rideID, driverID string) (models.Ride, error) {
	ride, err := s.accept(ctx, rideID, driverID)
	record("accept", err)
	return ride, err
}

func (s *Service) accept(ctx context.Context, rideID, driverID string) (models.Ride, error) {
	if err := checkIDs(rideID, "driver_id", driverID); err != nil {
		return models.Ride{}, err
	}
	where, err := guard(models.RideFilter{ID: rideID}, models.StatusPending, models.StatusAccepted)
	if err != nil {
		return models.Ride{}, err
	}
	now := s.Now()
	rows, err := s.Store.Update(ctx,
		models.RidePatch{Status: models.StatusAccepted.Ptr(), DriverID: &driverID, AcceptedAt: &now},
		where)
	if err != nil {
		return models.Ride{}, fmt.Errorf("accept ride %s: %w", rideID, err)
	}
	if len(rows) == 0 {
		return models.Ride{}, fmt.Errorf("accept ride %s: %w", rideID, apperrors.ErrPreconditionFailed)
	}
	s.Logger.Info("ride accepted", "ride_id", rideID, "driver_id", driverID)
	return rows[0], nil
}

// Complete settles the fare from the rider's wallet and then marks the ride
// completed. A failed debit leaves the ride accepted so completion can be
// retried; a debit already applied for this ride is not repeated.
func (s *Service) Complete(ctx context.Context, rideID, driverID string) (models.Ride, error) {
	ride, err := s.complete(ctx, rideID, driverID)
	record("complete", err)
	return ride, err
}

func (s *Service) complete(ctx context.Context, rideID, driverID string) (models.Ride, error) {
	if err := checkIDs(rideID, "driver_id", driverID); err != nil {
		return models.Ride{}, err
	}
	where, err := guard(models.RideFilter{ID: rideID, DriverID: driverID}, models.StatusAccepted, models.StatusCompleted)
	if err != nil {
		return models.Ride{}, err
	}
	current, err := s.Store.Select(ctx, where)
	if err != nil {
		return models.Ride{}, fmt.Errorf("complete ride %s: %w", rideID, err)
	}
	if len(current) == 0 {
		return models.Ride{}, fmt.Errorf("complete ride %s: %w", rideID, apperrors.ErrPreconditionFailed)
	}
	ride := current[0]

	balance, err := s.Accounts.DecrementBalance(ctx, ride.RiderID, ride.Price, ride.ID)
	switch {
	case errors.Is(err, storage.ErrAlreadySettled):
		s.Logger.Info("ride already settled", "ride_id", rideID, "rider_id", ride.RiderID)
	case err != nil:
		observability.SettlementFailures.Inc()
		s.Logger.Error("ride settlement failed", "ride_id", rideID, "rider_id", ride.RiderID, "amount", ride.Price, "error", err)
		return models.Ride{}, &apperrors.SettlementError{AccountID: ride.RiderID, Amount: ride.Price, Err: err}
	default:
		s.Logger.Info("ride settled", "ride_id", rideID, "rider_id", ride.RiderID, "amount", ride.Price, "balance", balance)
	}

	now := s.Now()
	rows, err := s.Store.Update(ctx,
		models.RidePatch{Status: models.StatusCompleted.Ptr(), DriverID: &driverID, CompletedAt: &now},
		where)
	if err != nil {
		return models.Ride{}, fmt.Errorf("complete ride %s: %w", rideID, err)
	}
	if len(rows) == 0 {
		return models.Ride{}, fmt.Errorf("complete ride %s: %w", rideID, apperrors.ErrPreconditionFailed)
	}
	s.Logger.Info("ride completed", "ride_id", rideID, "driver_id", driverID)
	return rows[0], nil
}

// Cancel aborts a ride that is still pending. Only the rider who requested it
// may cancel.
func (s *Service) Cancel(ctx context.Context, rideID, riderID string) (models.Ride, error) {
	ride, err := s.cancel(ctx, rideID, riderID)
	record("cancel", err)
	return ride, err
}

func (s *Service) cancel(ctx context.Context, rideID, riderID string) (models.Ride, error) {
	if err := checkIDs(rideID, "rider_id", riderID); err != nil {
		return models.Ride{}, err
	}
	where, err := guard(models.RideFilter{ID: rideID, RiderID: riderID}, models.StatusPending, models.StatusCancelled)
	if err != nil {
		return models.Ride{}, err
	}
	rows, err := s.Store.Update(ctx, models.RidePatch{Status: models.StatusCancelled.Ptr()}, where)
	if err != nil {
		return models.Ride{}, fmt.Errorf("cancel ride %s: %w", rideID, err)
	}
	if len(rows) == 0 {
		return models.Ride{}, fmt.Errorf("cancel ride %s: %w", rideID, apperrors.ErrPreconditionFailed)
	}
	s.Logger.Info("ride cancelled", "ride_id", rideID, "rider_id", riderID)
	return rows[0], nil
}

func (s *Service) Get(ctx context.Context, rideID string) (models.Ride, error) {
	if _, err := uuid.Parse(rideID); err != nil {
		return models.Ride{}, fmt.Errorf("ride %q: %w", rideID, apperrors.ErrNotFound)
	}
	rows, err := s.Store.Select(ctx, models.RideFilter{ID: rideID})
	if err != nil {
		return models.Ride{}, err
	}
	if len(rows) == 0 {
		return models.Ride{}, fmt.Errorf("ride %s: %w", rideID, apperrors.ErrNotFound)
	}
	return rows[0], nil
}

// ListPending returns every ride waiting for a driver, newest first.
func (s *Service) ListPending(ctx context.Context) ([]models.Ride, error) {
	return s.Store.Select(ctx, models.RideFilter{Status: models.StatusPending})
}

func (s *Service) ListForRider(ctx context.Context, riderID string) ([]models.Ride, error) {
	if riderID == "" {
		return nil, apperrors.Validation("rider_id", "required")
	}
	return s.Store.Select(ctx, models.RideFilter{RiderID: riderID})
}

func (s *Service) ListForDriver(ctx context.Context, driverID string) ([]models.Ride, error) {
	if driverID == "" {
		return nil, apperrors.Validation("driver_id", "required")
	}
	return s.Store.Select(ctx, models.RideFilter{DriverID: driverID})
}

// Subscribe forwards store change events matching where to fn until ctx ends
// or the subscription is released.
func (s *Service) Subscribe(ctx context.Context, where models.RideFilter, fn func(models.ChangeEvent)) (storage.Subscription, error) {
	return s.Store.Subscribe(ctx, where, fn)
}

// guard makes a write conditional on the ride still being in from. Edges
// missing from the status table are refused before the store is touched.
func guard(where models.RideFilter, from, to models.Status) (models.RideFilter, error) {
	if !from.CanTransitionTo(to) {
		return models.RideFilter{}, fmt.Errorf("%s -> %s: %w", from, to, models.ErrIllegalTransition)
	}
	where.Status = from
	return where, nil
}

func checkIDs(rideID, actorField, actorID string) error {
	if strings.TrimSpace(actorID) == "" {
		return apperrors.Validation(actorField, "required")
	}
	// ride ids are uuids; anything else cannot name a ride
	if _, err := uuid.Parse(rideID); err != nil {
		return fmt.Errorf("ride %q: %w", rideID, apperrors.ErrPreconditionFailed)
	}
	return nil
}

func record(transition string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrValidation):
		outcome = "validation"
	case errors.Is(err, apperrors.ErrPreconditionFailed):
		outcome = "precondition_failed"
	case errors.Is(err, apperrors.ErrSettlement):
		outcome = "settlement_failed"
	case errors.Is(err, apperrors.ErrTransport):
		outcome = "transport"
	default:
		outcome = "error"
	}
	observability.Transitions.WithLabelValues(transition, outcome).Inc()
}
