package store

import (
	"errors"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert collides with a unique
// constraint, e.g. a username or email that is already taken.
var ErrDuplicate = errors.New("duplicate record")

// ErrForeignKey is returned when an insert references a row that does
// not exist.
var ErrForeignKey = errors.New("invalid reference")

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// translateError maps Postgres constraint violations onto the store's
// sentinel errors. Unique constraints are the backstop for concurrent
// inserts racing past an application-level existence check.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pgUniqueViolation:
			return ErrDuplicate
		case pgForeignKeyViolation:
			return ErrForeignKey
		}
	}
	return err
}
