package ledger

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteLedger is a SQLite-based implementation of the ledger
type SQLiteLedger struct {
	sqlLedger
}

// NewSQLiteLedger opens (or creates) the ledger database at dbPath
func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	// WAL plus a busy timeout so the CLI can read while a run is writing
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer for SQLite to avoid lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	l := &SQLiteLedger{sqlLedger{db: db, bind: questionMark}}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return l, nil
}

func (l *SQLiteLedger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		test_name TEXT NOT NULL DEFAULT '',
		path TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_artifacts_session ON artifacts(session_id);
	CREATE INDEX IF NOT EXISTS idx_artifacts_created ON artifacts(created_at);
	`

	_, err := l.db.Exec(schema)
	return err
}
