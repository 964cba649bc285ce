// Package manager hosts artifact plugins for a test session.
//
// Manager is the artifacts.API recorders talk to: it tracks live
// recordings, runs deferred work on an idle queue and lays out artifact
// paths. It also fans the host's lifecycle events out to every registered
// plugin.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/psantana5/ffrec/internal/idle"
	"github.com/psantana5/ffrec/pkg/artifacts"
	"github.com/psantana5/ffrec/pkg/logging"
	"github.com/psantana5/ffrec/pkg/metrics"
	"github.com/psantana5/ffrec/pkg/pathbuilder"
)

// Config configures a Manager
type Config struct {
	// RootDir is the session directory artifacts are written under
	RootDir string
	Fs      afero.Fs
	Metrics *metrics.Metrics
	Logger  *logging.Logger
}

// Tracked describes a recording the manager is accounting for
type Tracked struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Since     time.Time           `json:"since"`
	Recording artifacts.Recording `json:"-"`
}

// Manager implements artifacts.API and fans lifecycle events out to plugins
type Manager struct {
	fs      afero.Fs
	paths   *pathbuilder.Builder
	queue   *idle.Queue
	metrics *metrics.Metrics
	logger  *logging.Logger

	mu      sync.Mutex
	tracked map[artifacts.Recording]*Tracked
	plugins []artifacts.Lifecycle
	errs    []error
}

var (
	_ artifacts.API       = (*Manager)(nil)
	_ artifacts.Lifecycle = (*Manager)(nil)
)

// New creates a manager and starts its idle queue
func New(cfg Config) *Manager {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}

	m := &Manager{
		fs:      cfg.Fs,
		paths:   pathbuilder.New(cfg.RootDir),
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		tracked: make(map[artifacts.Recording]*Tracked),
	}
	m.queue = idle.New(m.onTaskError, cfg.Logger.WithField("component", "idle"))
	return m
}

// Root returns the session directory
func (m *Manager) Root() string {
	return m.paths.Root()
}

// RegisterPlugin adds a plugin. Events reach plugins in registration order.
func (m *Manager) RegisterPlugin(p artifacts.Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plugins = append(m.plugins, p)
}

func (m *Manager) TrackArtifact(r artifacts.Recording) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tracked[r]; ok {
		return
	}
	t := &Tracked{
		ID:        uuid.NewString(),
		Name:      fmt.Sprint(r),
		Since:     time.Now(),
		Recording: r,
	}
	m.tracked[r] = t
	m.metrics.SetTracked(len(m.tracked))
	m.logger.Debug("Tracking artifact", map[string]interface{}{"artifact": t.ID, "name": t.Name})
}

func (m *Manager) UntrackArtifact(r artifacts.Recording) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.tracked[r]; ok {
		delete(m.tracked, r)
		m.metrics.SetTracked(len(m.tracked))
		m.logger.Debug("Untracked artifact", map[string]interface{}{"artifact": t.ID})
	}
}

// Tracked returns the recordings currently tracked, oldest first
func (m *Manager) Tracked() []Tracked {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Tracked, 0, len(m.tracked))
	for _, t := range m.tracked {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}

func (m *Manager) RequestIdleCallback(task artifacts.IdleTask) {
	m.queue.Enqueue(func(ctx context.Context) error {
		err := task(ctx)
		m.metrics.IdleTaskDone(err)
		return err
	})
}

func (m *Manager) PreparePathForArtifact(_ context.Context, name string, summary *artifacts.TestSummary) (string, error) {
	path := m.paths.BuildPathForTestArtifact(name, summary)
	if err := pathbuilder.Prepare(m.fs, path); err != nil {
		return "", err
	}
	return path, nil
}

// PendingTasks returns the number of deferred tasks not yet run
func (m *Manager) PendingTasks() int {
	return m.queue.Len()
}

// QueueStats returns counters of the idle queue
func (m *Manager) QueueStats() idle.Stats {
	return m.queue.Stats()
}

// Errors returns the deferred task failures observed so far
func (m *Manager) Errors() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]error(nil), m.errs...)
}

func (m *Manager) onTaskError(err error) {
	m.logger.Error("Artifact task failed", map[string]interface{}{"error": err.Error()})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
}

func (m *Manager) snapshot() []artifacts.Lifecycle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]artifacts.Lifecycle(nil), m.plugins...)
}

// each calls fn for every plugin; one failing plugin never stops the rest
func (m *Manager) each(event string, fn func(artifacts.Lifecycle) error) error {
	var errs []error
	for _, p := range m.snapshot() {
		if err := fn(p); err != nil {
			m.logger.Warn("Plugin hook failed", map[string]interface{}{
				"event":  event,
				"plugin": fmt.Sprintf("%T", p),
				"error":  err.Error(),
			})
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) OnReadyToRecord(ctx context.Context) error {
	return m.each("readyToRecord", func(p artifacts.Lifecycle) error {
		return p.OnReadyToRecord(ctx)
	})
}

func (m *Manager) OnBeforeEach(ctx context.Context, summary *artifacts.TestSummary) error {
	return m.each("beforeEach", func(p artifacts.Lifecycle) error {
		return p.OnBeforeEach(ctx, summary)
	})
}

func (m *Manager) OnAfterEach(ctx context.Context, summary *artifacts.TestSummary) error {
	return m.each("afterEach", func(p artifacts.Lifecycle) error {
		return p.OnAfterEach(ctx, summary)
	})
}

// OnAfterAll notifies plugins and then waits for the deferred work they scheduled
func (m *Manager) OnAfterAll(ctx context.Context) error {
	err := m.each("afterAll", func(p artifacts.Lifecycle) error {
		return p.OnAfterAll(ctx)
	})

	if drainErr := m.queue.Drain(ctx); drainErr != nil {
		err = errors.Join(err, drainErr)
	}
	return err
}

// Terminate abandons the session: pending work is dropped and every
// recording still tracked is stopped and discarded.
func (m *Manager) Terminate(ctx context.Context) error {
	m.queue.Close()

	var errs []error
	for _, t := range m.Tracked() {
		m.logger.Warn("Discarding unfinished artifact", map[string]interface{}{"artifact": t.ID, "name": t.Name})

		if err := t.Recording.Stop(ctx); err != nil {
			m.logger.Warn("Failed to stop artifact", map[string]interface{}{"artifact": t.ID, "error": err.Error()})
		}
		if err := t.Recording.Discard(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to discard %s: %w", t.Name, err))
		}
		m.UntrackArtifact(t.Recording)
	}
	return errors.Join(errs...)
}

// Close stops the idle queue, dropping pending tasks
func (m *Manager) Close() {
	m.queue.Close()
}
