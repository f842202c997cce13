package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error codes checked when classifying write failures.
const (
	uniqueViolationCode     = "23505"
	foreignKeyViolationCode = "23503"
)

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation. Used to detect create races on sellers, trades, and assets
// so callers can re-resolve instead of failing.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// IsForeignKeyViolation reports whether err is a Postgres foreign key
// violation.
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolationCode
}

// describeWriteError attaches the constraint and detail lines of a
// Postgres error, which its default rendering omits. The original error
// stays in the chain.
func describeWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.ConstraintName != "" && pgErr.Detail != "":
		return fmt.Errorf("%w (constraint %s: %s)", err, pgErr.ConstraintName, pgErr.Detail)
	case pgErr.ConstraintName != "":
		return fmt.Errorf("%w (constraint %s)", err, pgErr.ConstraintName)
	case pgErr.Detail != "":
		return fmt.Errorf("%w (%s)", err, pgErr.Detail)
	}
	return err
}
