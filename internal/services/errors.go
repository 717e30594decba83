package services

import (
	"errors"
	"fmt"

	"github.com/finovatepay/backend/internal/repositories"
)

// Client-facing error taxonomy. Handlers map these onto HTTP status classes
// with errors.Is; everything unmatched is an internal failure.
var (
	ErrValidation          = errors.New("validation failed")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("state conflict")
	ErrDuplicateRequest    = errors.New("duplicate request")
	ErrLedgerFailure       = errors.New("external ledger failure")
	ErrConfirmationPending = errors.New("ledger confirmation pending")
)

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, repositories.ErrStateConflict),
		errors.Is(err, repositories.ErrDuplicatePending):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}
