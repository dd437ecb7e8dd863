package wallet

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/ride-hailing/internal/apperrors"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/storage"
)

const defaultHistoryLimit = 50

// Service exposes a rider's wallet: balance, top-ups and the ledger.
// Ride settlement goes straight to the AccountStore from the rides package.
type Service struct {
	Accounts storage.AccountStore
	Logger   *slog.Logger
}

func NewService(accounts storage.AccountStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Accounts: accounts, Logger: logger}
}

// Balance returns the account, or an empty one for a user who never had a
// balance change.
func (s *Service) Balance(ctx context.Context, accountID string) (models.Account, error) {
	a, err := s.Accounts.Account(ctx, accountID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return models.Account{ID: accountID}, nil
	}
	return a, err
}

// Fund credits amount to the account. A non-empty reference makes the call
// safe to retry: a repeated reference returns the current balance.
func (s *Service) Fund(ctx context.Context, accountID string, amount int64, reference string) (models.Account, error) {
	if amount <= 0 {
		return models.Account{}, apperrors.Validation("amount", "must be positive")
	}
	_, err := s.Accounts.IncrementBalance(ctx, accountID, amount, reference)
	switch {
	case errors.Is(err, storage.ErrAlreadySettled):
		s.Logger.Info("wallet fund replayed", "account_id", accountID, "reference", reference)
	case err != nil:
		return models.Account{}, err
	default:
		s.Logger.Info("wallet funded", "account_id", accountID, "amount", amount)
	}
	return s.Balance(ctx, accountID)
}

func (s *Service) History(ctx context.Context, accountID string, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultHistoryLimit
	}
	return s.Accounts.Transactions(ctx, accountID, limit)
}
