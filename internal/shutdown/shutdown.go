package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/ffrec/pkg/logging"
)

// Func releases one resource
type Func func(context.Context) error

type entry struct {
	name string
	fn   Func
}

// Manager handles graceful shutdown
type Manager struct {
	mu      sync.Mutex
	funcs   []entry
	timeout time.Duration
	logger  *logging.Logger
	once    sync.Once
	err     error
}

// New creates a new shutdown manager
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Manager{timeout: timeout, logger: logger}
}

// Register adds a shutdown function.
// Functions are called in reverse order (LIFO).
func (m *Manager) Register(name string, fn Func) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs = append(m.funcs, entry{name: name, fn: fn})
}

// Shutdown runs every registered function once, sharing one timeout.
// Later calls return the result of the first.
func (m *Manager) Shutdown() error {
	m.once.Do(func() {
		m.mu.Lock()
		funcs := append([]entry(nil), m.funcs...)
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		var errs []error
		for i := len(funcs) - 1; i >= 0; i-- {
			f := funcs[i]
			m.logger.Debug("Shutting down " + f.name)
			if err := f.fn(ctx); err != nil {
				m.logger.Error("Shutdown step failed", map[string]interface{}{"step": f.name, "error": err.Error()})
				errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			}
		}
		m.err = errors.Join(errs...)
		m.logger.Info("Graceful shutdown complete")
	})
	return m.err
}

// NotifyContext returns a context cancelled on SIGINT or SIGTERM
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
}

// StopHTTPServer creates a shutdown function for http.Server
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) Func {
	return func(ctx context.Context) error {
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop HTTP server: %w", err)
		}
		return nil
	}
}

// CloseResource creates a shutdown function for io.Closer
func CloseResource(closer interface{ Close() error }) Func {
	return func(context.Context) error {
		return closer.Close()
	}
}
