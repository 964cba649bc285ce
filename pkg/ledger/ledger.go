// Package ledger keeps a persistent record of finalized artifacts.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Outcome is how a recording ended
type Outcome string

const (
	OutcomeSaved     Outcome = "saved"
	OutcomeDiscarded Outcome = "discarded"
	OutcomeFailed    Outcome = "failed"
)

// Entry is one finalized recording
type Entry struct {
	ID        string    `json:"id" yaml:"id"`
	SessionID string    `json:"session_id" yaml:"session_id"`
	Kind      string    `json:"kind" yaml:"kind"`
	TestName  string    `json:"test_name,omitempty" yaml:"test_name,omitempty"`
	Path      string    `json:"path,omitempty" yaml:"path,omitempty"`
	Outcome   Outcome   `json:"outcome" yaml:"outcome"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	SessionID string
	Kind      string
	Outcome   Outcome
	Before    time.Time
	Limit     int
}

func (f Filter) match(e *Entry) bool {
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if !f.Before.IsZero() && !e.CreatedAt.Before(f.Before) {
		return false
	}
	return true
}

// Ledger defines the interface for artifact bookkeeping.
// Memory, SQLite and PostgreSQL implement it.
type Ledger interface {
	// Record stores e, filling in ID and CreatedAt when empty
	Record(ctx context.Context, e *Entry) error
	// List returns matching entries, oldest first
	List(ctx context.Context, f Filter) ([]*Entry, error)
	Get(ctx context.Context, id string) (*Entry, error)
	Delete(ctx context.Context, id string) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// Config holds ledger configuration
type Config struct {
	Type string `mapstructure:"type" yaml:"type" json:"type"` // "memory", "sqlite" or "postgres"
	DSN  string `mapstructure:"dsn" yaml:"dsn" json:"dsn"`

	// SQLite specific
	Path string `mapstructure:"path" yaml:"path" json:"path"`

	// PostgreSQL specific
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

var (
	ErrUnsupportedLedger = errors.New("unsupported ledger type")
	ErrNotFound          = errors.New("ledger entry not found")
)

// New creates a ledger based on configuration
func New(cfg Config) (Ledger, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryLedger(), nil
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = cfg.DSN
		}
		if path == "" {
			path = "ffrec.db"
		}
		return NewSQLiteLedger(path)
	case "postgres", "postgresql":
		return NewPostgresLedger(cfg)
	default:
		return nil, ErrUnsupportedLedger
	}
}

// prepare fills in the generated fields of a new entry
func prepare(e *Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()
}
