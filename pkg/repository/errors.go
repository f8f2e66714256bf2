package repository

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgDuplicateKeyCode        = "23505"
	pgSerializationFailure    = "40001"
	pgDeadlockDetected        = "40P01"
	pgForeignKeyViolationCode = "23503"
)

// ErrConflict reports a lost optimistic-concurrency race: the row changed
// between read and conditional write, or Postgres aborted the transaction
// with a serialization failure.
var ErrConflict = errors.New("concurrent modification")

// MapError translates database errors to domain errors.
// It maps sql.ErrNoRows to notFoundErr and PostgreSQL unique violation (23505)
// to duplicateErr. Serialization failures and deadlocks map to ErrConflict.
// Other errors are returned unchanged.
func MapError(err error, notFoundErr, duplicateErr error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return notFoundErr
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgDuplicateKeyCode:
			return duplicateErr
		case pgSerializationFailure, pgDeadlockDetected:
			return ErrConflict
		case pgForeignKeyViolationCode:
			return notFoundErr
		}
	}

	return err
}

