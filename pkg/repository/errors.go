package repository

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// MapError converts sql.ErrNoRows to notFound and unique violations to
// duplicate, so stores return their own sentinels. Anything else passes
// through untouched.
func MapError(err error, notFound, duplicate error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return notFound
	case IsDuplicate(err):
		return duplicate
	default:
		return err
	}
}

// IsDuplicate reports whether err carries a PostgreSQL unique violation,
// including those raised by partial unique indexes.
func IsDuplicate(err error) bool {
	return pgCode(err) == uniqueViolation
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
