package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-hailing/internal/apperrors"
	"github.com/example/ride-hailing/internal/models"
)

// MemoryRideStore keeps rides in process. Every write runs under one mutex,
// which gives Update the same all-or-nothing semantics as a single SQL
// statement.
type MemoryRideStore struct {
	mu    sync.RWMutex
	rides map[string]models.Ride
	feed  *broker
}

func NewMemoryRideStore(logger *slog.Logger) *MemoryRideStore {
	return &MemoryRideStore{rides: make(map[string]models.Ride), feed: newBroker(logger)}
}

func (m *MemoryRideStore) Insert(_ context.Context, r models.Ride) (models.Ride, error) {
	r = prepareInsert(r)
	if err := checkRide(r); err != nil {
		return models.Ride{}, err
	}
	m.mu.Lock()
	if _, exists := m.rides[r.ID]; exists {
		m.mu.Unlock()
		return models.Ride{}, fmt.Errorf("insert ride %s: duplicate id", r.ID)
	}
	m.rides[r.ID] = cloneRide(r)
	m.mu.Unlock()

	rec := cloneRide(r)
	m.feed.publish(models.ChangeEvent{Type: models.ChangeInsert, Record: &rec, At: time.Now().UTC()})
	return r, nil
}

func (m *MemoryRideStore) Select(_ context.Context, where models.RideFilter) ([]models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Ride, 0)
	for _, r := range m.rides {
		if where.Matches(r) {
			out = append(out, cloneRide(r))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryRideStore) Update(_ context.Context, patch models.RidePatch, where models.RideFilter) ([]models.Ride, error) {
	if patch == (models.RidePatch{}) {
		return nil, apperrors.Validation("patch", "empty")
	}
	now := time.Now().UTC()
	var events []models.ChangeEvent

	m.mu.Lock()
	// patch every match first so a row that would break an invariant leaves
	// the whole update unapplied
	patched := make(map[string]models.Ride)
	for id, r := range m.rides {
		if !where.Matches(r) {
			continue
		}
		next := cloneRide(r)
		patch.Apply(&next)
		if err := checkRide(next); err != nil {
			m.mu.Unlock()
			return nil, fmt.Errorf("update ride %s: %w", id, err)
		}
		patched[id] = next
	}
	out := make([]models.Ride, 0, len(patched))
	for id, next := range patched {
		old := m.rides[id]
		m.rides[id] = next
		rec := cloneRide(next)
		out = append(out, cloneRide(next))
		events = append(events, models.ChangeEvent{Type: models.ChangeUpdate, Record: &rec, Old: &old, At: now})
	}
	m.mu.Unlock()

	for _, ev := range events {
		m.feed.publish(ev)
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryRideStore) Delete(_ context.Context, where models.RideFilter) ([]models.Ride, error) {
	now := time.Now().UTC()
	var events []models.ChangeEvent

	m.mu.Lock()
	out := make([]models.Ride, 0)
	for id, r := range m.rides {
		if !where.Matches(r) {
			continue
		}
		delete(m.rides, id)
		old := cloneRide(r)
		out = append(out, cloneRide(r))
		events = append(events, models.ChangeEvent{Type: models.ChangeDelete, Old: &old, At: now})
	}
	m.mu.Unlock()

	for _, ev := range events {
		m.feed.publish(ev)
	}
	return out, nil
}

func (m *MemoryRideStore) Subscribe(ctx context.Context, where models.RideFilter, fn func(models.ChangeEvent)) (Subscription, error) {
	return m.feed.subscribe(ctx, where, fn), nil
}

func sortNewestFirst(rides []models.Ride) {
	sort.SliceStable(rides, func(i, j int) bool {
		if rides[i].CreatedAt.Equal(rides[j].CreatedAt) {
			return rides[i].ID > rides[j].ID
		}
		return rides[i].CreatedAt.After(rides[j].CreatedAt)
	})
}

// cloneRide copies the pointer fields so callers can't mutate stored rows.
func cloneRide(r models.Ride) models.Ride {
	if r.Pickup != nil {
		p := *r.Pickup
		r.Pickup = &p
	}
	if r.Destination != nil {
		d := *r.Destination
		r.Destination = &d
	}
	if r.AcceptedAt != nil {
		t := *r.AcceptedAt
		r.AcceptedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		r.CompletedAt = &t
	}
	return r
}

// MemoryAccountStore keeps wallets in process.
type MemoryAccountStore struct {
	mu       sync.Mutex
	accounts map[string]models.Account
	ledger   map[string][]models.Transaction
	applied  map[string]struct{}
}

func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{
		accounts: make(map[string]models.Account),
		ledger:   make(map[string][]models.Transaction),
		applied:  make(map[string]struct{}),
	}
}

func (m *MemoryAccountStore) Account(_ context.Context, accountID string) (models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return models.Account{}, fmt.Errorf("account %s: %w", accountID, apperrors.ErrNotFound)
	}
	return a, nil
}

func (m *MemoryAccountStore) DecrementBalance(ctx context.Context, accountID string, amount int64, reference string) (int64, error) {
	return m.apply(accountID, models.TransactionDebit, amount, reference)
}

func (m *MemoryAccountStore) IncrementBalance(ctx context.Context, accountID string, amount int64, reference string) (int64, error) {
	return m.apply(accountID, models.TransactionCredit, amount, reference)
}

func (m *MemoryAccountStore) apply(accountID string, kind models.TransactionKind, amount int64, reference string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := accountID + "|" + string(kind) + "|" + reference
	if reference != "" {
		if _, dup := m.applied[key]; dup {
			return m.accounts[accountID].Balance, ErrAlreadySettled
		}
	}
	a := m.accounts[accountID]
	a.ID = accountID
	if kind == models.TransactionDebit {
		a.Balance -= amount
	} else {
		a.Balance += amount
	}
	a.UpdatedAt = time.Now().UTC()
	m.accounts[accountID] = a
	if reference != "" {
		m.applied[key] = struct{}{}
	}
	m.ledger[accountID] = append(m.ledger[accountID], models.Transaction{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Kind:      kind,
		Amount:    amount,
		Reference: reference,
		Balance:   a.Balance,
		CreatedAt: a.UpdatedAt,
	})
	return a.Balance, nil
}

func (m *MemoryAccountStore) Transactions(_ context.Context, accountID string, limit int) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.ledger[accountID]
	out := make([]models.Transaction, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		out = append(out, src[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
