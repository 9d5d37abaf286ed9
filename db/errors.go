package db

import (
	"strings"

	"github.com/inflow-io/inflow/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed
// database, typically during graceful shutdown.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is
// closed. The string matching fallback handles raw driver errors that we
// cannot wrap at the source.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}

	errMsg := err.Error()
	return strings.Contains(errMsg, "database is closed") ||
		strings.Contains(errMsg, "sql: database is closed")
}

// IsUniqueViolation reports whether an error is a SQLite unique constraint
// failure. Used by stores to translate driver errors into ErrConflict.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
