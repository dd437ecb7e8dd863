package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/example/ride-hailing/internal/apperrors"
	"github.com/example/ride-hailing/internal/models"
)

const rideChangesChannel = "ride_changes"

const rideColumns = `id, rider_id, rider_email, driver_id, pickup_lat, pickup_lng,
	destination_lat, destination_lng, destination_address, distance_km, price, status,
	created_at, accepted_at, completed_at`

func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, apperrors.Transport("postgres ping", err)
	}
	return db, nil
}

// PostgresRideStore keeps rides in the rides table. Change notifications come
// from the rides_notify trigger through LISTEN/NOTIFY.
type PostgresRideStore struct {
	db     *sql.DB
	dsn    string
	logger *slog.Logger
	feed   *broker

	listenOnce sync.Once
	listenErr  error
	listener   *pq.Listener
	stop       chan struct{}
}

func NewPostgresRideStore(db *sql.DB, dsn string, logger *slog.Logger) *PostgresRideStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRideStore{db: db, dsn: dsn, logger: logger, feed: newBroker(logger), stop: make(chan struct{})}
}

func (p *PostgresRideStore) Insert(ctx context.Context, r models.Ride) (models.Ride, error) {
	r = prepareInsert(r)
	if err := checkRide(r); err != nil {
		return models.Ride{}, err
	}
	var pLat, pLng, dLat, dLng sql.NullFloat64
	if r.Pickup != nil {
		pLat = sql.NullFloat64{Float64: r.Pickup.Lat, Valid: true}
		pLng = sql.NullFloat64{Float64: r.Pickup.Lon, Valid: true}
	}
	if r.Destination != nil {
		dLat = sql.NullFloat64{Float64: r.Destination.Lat, Valid: true}
		dLng = sql.NullFloat64{Float64: r.Destination.Lon, Valid: true}
	}
	row := p.db.QueryRowContext(ctx, `INSERT INTO rides (id, rider_id, rider_email, driver_id, pickup_lat, pickup_lng,
		destination_lat, destination_lng, destination_address, distance_km, price, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13) RETURNING `+rideColumns,
		r.ID, r.RiderID, r.RiderEmail, nullString(r.DriverID), pLat, pLng, dLat, dLng,
		r.DestinationAddress, r.DistanceKm, r.Price, string(r.Status), r.CreatedAt)
	out, err := scanRide(row)
	if err != nil {
		return models.Ride{}, apperrors.Transport("insert ride", err)
	}
	return out, nil
}

func (p *PostgresRideStore) Select(ctx context.Context, where models.RideFilter) ([]models.Ride, error) {
	cond, args := whereClause(where, nil)
	rows, err := p.db.QueryContext(ctx, `SELECT `+rideColumns+` FROM rides`+cond+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, apperrors.Transport("select rides", err)
	}
	return collectRides(rows, "select rides")
}

// Update runs the whole precondition and write as one UPDATE ... WHERE ...
// RETURNING statement; the database decides which rows still qualify.
func (p *PostgresRideStore) Update(ctx context.Context, patch models.RidePatch, where models.RideFilter) ([]models.Ride, error) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.DriverID != nil {
		add("driver_id", nullString(*patch.DriverID))
	}
	if patch.AcceptedAt != nil {
		add("accepted_at", *patch.AcceptedAt)
	}
	if patch.CompletedAt != nil {
		add("completed_at", *patch.CompletedAt)
	}
	if len(sets) == 0 {
		return nil, apperrors.Validation("patch", "empty")
	}
	cond, args := whereClause(where, args)
	q := `UPDATE rides SET ` + strings.Join(sets, ", ") + cond + ` RETURNING ` + rideColumns
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperrors.Transport("update rides", err)
	}
	return collectRides(rows, "update rides")
}

func (p *PostgresRideStore) Delete(ctx context.Context, where models.RideFilter) ([]models.Ride, error) {
	cond, args := whereClause(where, nil)
	rows, err := p.db.QueryContext(ctx, `DELETE FROM rides`+cond+` RETURNING `+rideColumns, args...)
	if err != nil {
		return nil, apperrors.Transport("delete rides", err)
	}
	return collectRides(rows, "delete rides")
}

func (p *PostgresRideStore) Subscribe(ctx context.Context, where models.RideFilter, fn func(models.ChangeEvent)) (Subscription, error) {
	p.listenOnce.Do(func() { p.listenErr = p.listen() })
	if p.listenErr != nil {
		return nil, apperrors.Transport("listen "+rideChangesChannel, p.listenErr)
	}
	return p.feed.subscribe(ctx, where, fn), nil
}

func (p *PostgresRideStore) listen() error {
	l := pq.NewListener(p.dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			p.logger.Warn("ride listener event", "event", int(ev), "error", err)
		}
	})
	if err := l.Listen(rideChangesChannel); err != nil {
		_ = l.Close()
		return err
	}
	p.listener = l
	go p.pump(l)
	return nil
}

func (p *PostgresRideStore) pump(l *pq.Listener) {
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-p.stop:
			return
		case n, ok := <-l.Notify:
			if !ok {
				return
			}
			// nil after a reconnect; notifications may have been lost, which
			// subscribers tolerate because they also poll
			if n == nil {
				continue
			}
			ev, err := decodeChange([]byte(n.Extra))
			if err != nil {
				p.logger.Warn("bad ride change payload", "error", err)
				continue
			}
			p.feed.publish(ev)
		case <-ping.C:
			go func() { _ = l.Ping() }()
		}
	}
}

func (p *PostgresRideStore) Close() error {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	if p.listener != nil {
		return p.listener.Close()
	}
	return nil
}

// rowRide mirrors row_to_json(rides) as emitted by the notify trigger.
type rowRide struct {
	ID                 string     `json:"id"`
	RiderID            string     `json:"rider_id"`
	RiderEmail         string     `json:"rider_email"`
	DriverID           *string    `json:"driver_id"`
	PickupLat          *float64   `json:"pickup_lat"`
	PickupLng          *float64   `json:"pickup_lng"`
	DestinationLat     *float64   `json:"destination_lat"`
	DestinationLng     *float64   `json:"destination_lng"`
	DestinationAddress string     `json:"destination_address"`
	DistanceKm         float64    `json:"distance_km"`
	Price              int64      `json:"price"`
	Status             string     `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	AcceptedAt         *time.Time `json:"accepted_at"`
	CompletedAt        *time.Time `json:"completed_at"`
}

func (r *rowRide) ride() (*models.Ride, error) {
	if r == nil {
		return nil, nil
	}
	status, err := models.ParseStatus(r.Status)
	if err != nil {
		return nil, fmt.Errorf("ride %s status %q: %w", r.ID, r.Status, err)
	}
	out := &models.Ride{
		ID:                 r.ID,
		RiderID:            r.RiderID,
		RiderEmail:         r.RiderEmail,
		DestinationAddress: r.DestinationAddress,
		DistanceKm:         r.DistanceKm,
		Price:              r.Price,
		Status:             status,
		CreatedAt:          r.CreatedAt,
		AcceptedAt:         r.AcceptedAt,
		CompletedAt:        r.CompletedAt,
	}
	if r.DriverID != nil {
		out.DriverID = *r.DriverID
	}
	if r.PickupLat != nil && r.PickupLng != nil {
		out.Pickup = &models.Coord{Lat: *r.PickupLat, Lon: *r.PickupLng}
	}
	if r.DestinationLat != nil && r.DestinationLng != nil {
		out.Destination = &models.Coord{Lat: *r.DestinationLat, Lon: *r.DestinationLng}
	}
	return out, nil
}

func decodeChange(payload []byte) (models.ChangeEvent, error) {
	var raw struct {
		Type   string    `json:"type"`
		Record *rowRide  `json:"record"`
		Old    *rowRide  `json:"old"`
		At     time.Time `json:"at"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return models.ChangeEvent{}, err
	}
	ev := models.ChangeEvent{Type: models.ChangeType(raw.Type), At: raw.At}
	switch ev.Type {
	case models.ChangeInsert, models.ChangeUpdate, models.ChangeDelete:
	default:
		return models.ChangeEvent{}, fmt.Errorf("unknown change type %q", raw.Type)
	}
	var err error
	if ev.Record, err = raw.Record.ride(); err != nil {
		return models.ChangeEvent{}, err
	}
	if ev.Old, err = raw.Old.ride(); err != nil {
		return models.ChangeEvent{}, err
	}
	return ev, nil
}

func whereClause(f models.RideFilter, args []any) (string, []any) {
	var conds []string
	add := func(col, v string) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if f.ID != "" {
		add("id", f.ID)
	}
	if f.RiderID != "" {
		add("rider_id", f.RiderID)
	}
	if f.DriverID != "" {
		add("driver_id", f.DriverID)
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(s rowScanner) (models.Ride, error) {
	var (
		r                      models.Ride
		driverID               sql.NullString
		pLat, pLng, dLat, dLng sql.NullFloat64
		status                 string
		acceptedAt, completed  sql.NullTime
	)
	err := s.Scan(&r.ID, &r.RiderID, &r.RiderEmail, &driverID, &pLat, &pLng, &dLat, &dLng,
		&r.DestinationAddress, &r.DistanceKm, &r.Price, &status, &r.CreatedAt, &acceptedAt, &completed)
	if err != nil {
		return models.Ride{}, err
	}
	r.DriverID = driverID.String
	if r.Status, err = models.ParseStatus(status); err != nil {
		return models.Ride{}, fmt.Errorf("ride %s status %q: %w", r.ID, status, err)
	}
	if pLat.Valid && pLng.Valid {
		r.Pickup = &models.Coord{Lat: pLat.Float64, Lon: pLng.Float64}
	}
	if dLat.Valid && dLng.Valid {
		r.Destination = &models.Coord{Lat: dLat.Float64, Lon: dLng.Float64}
	}
	if acceptedAt.Valid {
		t := acceptedAt.Time
		r.AcceptedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		r.CompletedAt = &t
	}
	return r, nil
}

func collectRides(rows *sql.Rows, op string) ([]models.Ride, error) {
	defer rows.Close()
	out := make([]models.Ride, 0)
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, apperrors.Transport(op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Transport(op, err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// PostgresAccountStore keeps wallets in the accounts table with a ledger in
// wallet_transactions. Each balance change is one transaction on the server.
type PostgresAccountStore struct {
	db *sql.DB
}

func NewPostgresAccountStore(db *sql.DB) *PostgresAccountStore {
	return &PostgresAccountStore{db: db}
}

func (p *PostgresAccountStore) Account(ctx context.Context, accountID string) (models.Account, error) {
	var a models.Account
	err := p.db.QueryRowContext(ctx, `SELECT id, balance, updated_at FROM accounts WHERE id = $1`, accountID).
		Scan(&a.ID, &a.Balance, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, fmt.Errorf("account %s: %w", accountID, apperrors.ErrNotFound)
	}
	if err != nil {
		return models.Account{}, apperrors.Transport("select account", err)
	}
	return a, nil
}

func (p *PostgresAccountStore) DecrementBalance(ctx context.Context, accountID string, amount int64, reference string) (int64, error) {
	return p.apply(ctx, accountID, models.TransactionDebit, -amount, amount, reference)
}

func (p *PostgresAccountStore) IncrementBalance(ctx context.Context, accountID string, amount int64, reference string) (int64, error) {
	return p.apply(ctx, accountID, models.TransactionCredit, amount, amount, reference)
}

func (p *PostgresAccountStore) apply(ctx context.Context, accountID string, kind models.TransactionKind, delta, amount int64, reference string) (int64, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.Transport("begin wallet tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, accountID); err != nil {
		return 0, apperrors.Transport("ensure account", err)
	}
	var balance int64
	err = tx.QueryRowContext(ctx,
		`UPDATE accounts SET balance = balance + $2, updated_at = now() WHERE id = $1 RETURNING balance`,
		accountID, delta).Scan(&balance)
	if err != nil {
		return 0, apperrors.Transport("adjust balance", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO wallet_transactions (id, account_id, kind, amount, reference, balance)
		VALUES ($1, $2, $3, $4, $5, $6)`, uuid.NewString(), accountID, string(kind), amount, reference, balance)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return 0, ErrAlreadySettled
		}
		return 0, apperrors.Transport("record transaction", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, apperrors.Transport("commit wallet tx", err)
	}
	return balance, nil
}

func (p *PostgresAccountStore) Transactions(ctx context.Context, accountID string, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id, account_id, kind, amount, reference, balance, created_at
		FROM wallet_transactions WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, apperrors.Transport("select transactions", err)
	}
	defer rows.Close()
	out := make([]models.Transaction, 0)
	for rows.Next() {
		var t models.Transaction
		var kind string
		if err := rows.Scan(&t.ID, &t.AccountID, &kind, &t.Amount, &t.Reference, &t.Balance, &t.CreatedAt); err != nil {
			return nil, apperrors.Transport("scan transaction", err)
		}
		t.Kind = models.TransactionKind(kind)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Transport("select transactions", err)
	}
	return out, nil
}
