package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-hailing/internal/apperrors"
	"github.com/example/ride-hailing/internal/models"
)

// ErrAlreadySettled is returned by a balance change whose reference was
// already applied to the account.
var ErrAlreadySettled = errors.New("reference already applied")

// RideStore is the single source of truth for rides. Update is a conditional
// write: it applies patch to every row matching where in one atomic step and
// returns the rows it changed. An empty result means the precondition did not
// hold.
type RideStore interface {
	Insert(ctx context.Context, r models.Ride) (models.Ride, error)
	Select(ctx context.Context, where models.RideFilter) ([]models.Ride, error)
	Update(ctx context.Context, patch models.RidePatch, where models.RideFilter) ([]models.Ride, error)
	Delete(ctx context.Context, where models.RideFilter) ([]models.Ride, error)
	Subscribe(ctx context.Context, where models.RideFilter, fn func(models.ChangeEvent)) (Subscription, error)
}

type Subscription interface {
	Unsubscribe()
}

// AccountStore holds wallet balances. Balance changes are applied by the
// store itself, never read-modify-written by the caller. A non-empty
// reference may be applied at most once per account and kind.
type AccountStore interface {
	Account(ctx context.Context, accountID string) (models.Account, error)
	DecrementBalance(ctx context.Context, accountID string, amount int64, reference string) (int64, error)
	IncrementBalance(ctx context.Context, accountID string, amount int64, reference string) (int64, error)
	Transactions(ctx context.Context, accountID string, limit int) ([]models.Transaction, error)
}

// prepareInsert gives a new row the id and creation time every store assigns
// when the caller leaves them empty.
func prepareInsert(r models.Ride) models.Ride {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return r
}

// checkRide enforces the row invariants the rides table declares as CHECK
// constraints: a known status, and a driver exactly when the status has one.
func checkRide(r models.Ride) error {
	if !r.Status.Valid() {
		return apperrors.Validation("status", fmt.Sprintf("unknown status %q", r.Status))
	}
	if r.Status.HasDriver() != (r.DriverID != "") {
		return apperrors.Validation("driver_id", fmt.Sprintf("inconsistent with status %s", r.Status))
	}
	return nil
}
