package models

import (
	"math"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether c is a finite point on the globe.
func (c Coord) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lon, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// Ride is the single record shared by riders and drivers.
type Ride struct {
	ID                 string     `json:"id"`
	RiderID            string     `json:"rider_id"`
	RiderEmail         string     `json:"rider_email"`
	DriverID           string     `json:"driver_id,omitempty"`
	Pickup             *Coord     `json:"pickup"`
	Destination        *Coord     `json:"destination"`
	DestinationAddress string     `json:"destination_address"`
	DistanceKm         float64    `json:"distance_km"`
	Price              int64      `json:"price"`
	Status             Status     `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	AcceptedAt         *time.Time `json:"accepted_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// RideFilter selects rides by equality on the set fields. Empty fields match anything.
type RideFilter struct {
	ID       string
	RiderID  string
	DriverID string
	Status   Status
}

func (f RideFilter) Matches(r Ride) bool {
	if f.ID != "" && r.ID != f.ID {
		return false
	}
	if f.RiderID != "" && r.RiderID != f.RiderID {
		return false
	}
	if f.DriverID != "" && r.DriverID != f.DriverID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// RidePatch lists the columns a transition may write. Nil fields are left untouched.
type RidePatch struct {
	Status      *Status
	DriverID    *string
	AcceptedAt  *time.Time
	CompletedAt *time.Time
}

func (p RidePatch) Apply(r *Ride) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.DriverID != nil {
		r.DriverID = *p.DriverID
	}
	if p.AcceptedAt != nil {
		t := *p.AcceptedAt
		r.AcceptedAt = &t
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		r.CompletedAt = &t
	}
}

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is pushed to subscribers whenever a ride row changes.
type ChangeEvent struct {
	Type   ChangeType `json:"type"`
	Record *Ride      `json:"record,omitempty"`
	Old    *Ride      `json:"old,omitempty"`
	At     time.Time  `json:"at"`
}

// Touches reports whether the new or the old row of the event matches f.
func (e ChangeEvent) Touches(f RideFilter) bool {
	if e.Record != nil && f.Matches(*e.Record) {
		return true
	}
	return e.Old != nil && f.Matches(*e.Old)
}

type Account struct {
	ID        string    `json:"id"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

type TransactionKind string

const (
	TransactionCredit TransactionKind = "credit"
	TransactionDebit  TransactionKind = "debit"
)

// Transaction is one ledger line of a wallet.
type Transaction struct {
	ID        string          `json:"id"`
	AccountID string          `json:"account_id"`
	Kind      TransactionKind `json:"kind"`
	Amount    int64           `json:"amount"`
	Reference string          `json:"reference,omitempty"`
	Balance   int64           `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

// DriverLocation is a single position sample reported by a driver device.
type DriverLocation struct {
	DriverID string    `json:"driver_id"`
	Loc      Coord     `json:"loc"`
	At       time.Time `json:"at"`
}
