package ledger

import (
	"database/sql/driver"
	"errors"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// IsTransient reports whether a ledger error may succeed when retried:
// a busy or locked SQLite database, or a lost PostgreSQL connection.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "08": // connection exception
			return true
		case pqErr.Code == "40001", pqErr.Code == "40P01": // serialization failure, deadlock
			return true
		case pqErr.Code == "57P01": // admin shutdown
			return true
		}
	}
	return false
}
