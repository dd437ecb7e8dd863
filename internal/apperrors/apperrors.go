package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation = errors.New("validation failed")
	// ErrPreconditionFailed means a conditional write matched zero rows: the
	// ride was claimed, cancelled or completed by someone else.
	ErrPreconditionFailed = errors.New("ride no longer available")
	ErrTransport          = errors.New("backend unavailable")
	ErrSettlement         = errors.New("settlement failed")
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// TransportError wraps a network or backend failure. The state behind it is
// unchanged from the caller's point of view.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Err: err}
}

// SettlementError is returned by ride completion when the wallet debit failed.
type SettlementError struct {
	AccountID string
	Amount    int64
	Err       error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settle %d from account %s: %v", e.Amount, e.AccountID, e.Err)
}

func (e *SettlementError) Unwrap() []error { return []error{ErrSettlement, e.Err} }

// HTTPStatus maps an error to the response code the API reports for it.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrSettlement):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPreconditionFailed):
		return http.StatusConflict
	case errors.Is(err, ErrTransport):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
