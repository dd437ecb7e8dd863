package models

import (
	"errors"
	"strings"
)

// Status is the lifecycle state of a ride as stored in the rides table.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

var (
	ErrInvalidStatus     = errors.New("invalid ride status")
	ErrIllegalTransition = errors.New("illegal ride transition")
)

func ParseStatus(in string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(in)))
	if s.Valid() {
		return s, nil
	}
	return "", ErrInvalidStatus
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// HasDriver reports whether a ride in this status must carry a driver id.
func (s Status) HasDriver() bool {
	return s == StatusAccepted || s == StatusInProgress || s == StatusCompleted
}

// CanTransitionTo lists the legal edges. in_progress is a known state with no
// incoming edge.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusAccepted || next == StatusCancelled
	case StatusAccepted:
		return next == StatusCompleted
	default:
		return false
	}
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) String() string { return string(s) }

// Ptr is a helper for building patches.
func (s Status) Ptr() *Status { return &s }
