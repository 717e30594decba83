package repositories

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Storage-level outcomes the service layer maps onto its error taxonomy.
var (
	ErrNotFound         = errors.New("record not found")
	ErrStateConflict    = errors.New("state conflict")
	ErrDuplicatePending = errors.New("transaction already in flight")
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
