package database

import (
	"database/sql"
	"errors"

	"evalcollab/pkg/apperror"

	"github.com/lib/pq"
)

// uniqueViolation is the postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Classify maps a driver error onto the shared error taxonomy.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperror.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return apperror.ErrDuplicateMembership
	}
	return apperror.Transient(op, err)
}
