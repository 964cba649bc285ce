package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// sqlLedger holds the queries shared by the SQLite and PostgreSQL backends
type sqlLedger struct {
	db *sql.DB

	// bind returns the placeholder for the n-th argument (1-based)
	bind func(n int) string
}

const entryColumns = "id, session_id, kind, test_name, path, outcome, error, created_at"

func questionMark(int) string { return "?" }

func dollar(n int) string { return fmt.Sprintf("$%d", n) }

func (l *sqlLedger) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = l.bind(i + 1)
	}
	return strings.Join(parts, ", ")
}

// Record inserts an entry
func (l *sqlLedger) Record(ctx context.Context, e *Entry) error {
	prepare(e)

	query := fmt.Sprintf("INSERT INTO artifacts (%s) VALUES (%s)", entryColumns, l.placeholders(8))
	_, err := l.db.ExecContext(ctx, query,
		e.ID, e.SessionID, e.Kind, e.TestName, e.Path, string(e.Outcome), e.Error, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record artifact %s: %w", e.ID, err)
	}
	return nil
}

// List returns matching entries ordered by creation time
func (l *sqlLedger) List(ctx context.Context, f Filter) ([]*Entry, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, l.bind(len(args))))
	}

	if f.SessionID != "" {
		add("session_id = %s", f.SessionID)
	}
	if f.Kind != "" {
		add("kind = %s", f.Kind)
	}
	if f.Outcome != "" {
		add("outcome = %s", string(f.Outcome))
	}
	if !f.Before.IsZero() {
		add("created_at < %s", f.Before.UTC())
	}

	query := "SELECT " + entryColumns + " FROM artifacts"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get retrieves an entry by ID
func (l *sqlLedger) Get(ctx context.Context, id string) (*Entry, error) {
	row := l.db.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM artifacts WHERE id = "+l.bind(1), id)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// Delete removes an entry by ID
func (l *sqlLedger) Delete(ctx context.Context, id string) error {
	res, err := l.db.ExecContext(ctx, "DELETE FROM artifacts WHERE id = "+l.bind(1), id)
	if err != nil {
		return fmt.Errorf("failed to delete artifact %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (l *sqlLedger) HealthCheck(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

func (l *sqlLedger) Close() error {
	return l.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e       Entry
		outcome string
	)
	if err := s.Scan(&e.ID, &e.SessionID, &e.Kind, &e.TestName, &e.Path, &outcome, &e.Error, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Outcome = Outcome(outcome)
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}
