package db

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/inflow-io/inflow/errors"
)

// Open opens a SQLite database at the specified path with optimized settings.
// If logger is provided, logs database operations; otherwise operates silently.
//
// Transactions started with BeginTx acquire the write lock immediately
// (_txlock=immediate), which is what the resolution store relies on to
// serialize concurrent read-modify-write of plan classifications.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger != nil {
		logger.Debugw("Opening database", "path", path)
	}

	// Connection options ride the DSN so the driver applies them to every
	// pooled connection. A PRAGMA issued through db.Exec reaches only the one
	// connection that happened to serve it; busy_timeout in particular must
	// hold everywhere or a concurrent BEGIN IMMEDIATE fails instantly with
	// SQLITE_BUSY instead of waiting for the write lock.
	db, err := sql.Open("sqlite3",
		path+"?_txlock=immediate&_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if logger != nil {
		logger.Infow("Database opened",
			"path", path,
			"wal_mode", true,
			"foreign_keys", true,
		)
	}

	return db, nil
}

// OpenInMemory opens a fresh in-memory database with migrations applied.
// Intended for tests. Each new pool connection to ":memory:" would be its
// own empty database, so the pool is pinned to a single connection.
func OpenInMemory() (*sql.DB, error) {
	db, err := Open(":memory:", nil)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := Migrate(db, nil); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
