// Package retention prunes old artifacts and their ledger entries.
package retention

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/psantana5/ffrec/pkg/ledger"
	"github.com/psantana5/ffrec/pkg/logging"
)

// Config defines the retention policy
type Config struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	MaxAge  time.Duration `mapstructure:"max_age" yaml:"max_age" json:"max_age"`
	// Interval between background prunes
	Interval time.Duration `mapstructure:"interval" yaml:"interval" json:"interval"`
	// DeletesPerSecond throttles deletions so a large prune does not starve a running session
	DeletesPerSecond float64 `mapstructure:"deletes_per_second" yaml:"deletes_per_second" json:"deletes_per_second"`
}

// DefaultConfig keeps artifacts for a week
func DefaultConfig() Config {
	return Config{
		Enabled:          false,
		MaxAge:           7 * 24 * time.Hour,
		Interval:         time.Hour,
		DeletesPerSecond: 50,
	}
}

// Result describes one prune
type Result struct {
	EntriesDeleted int           `json:"entries_deleted"`
	FilesRemoved   int           `json:"files_removed"`
	Duration       time.Duration `json:"duration"`
	Errors         []string      `json:"errors,omitempty"`
}

// Pruner deletes ledger entries older than MaxAge along with saved files
type Pruner struct {
	config  Config
	ledger  ledger.Ledger
	fs      afero.Fs
	logger  *logging.Logger
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	last Result
}

// New creates a pruner. fs may be nil for the OS file system.
func New(config Config, l ledger.Ledger, fs afero.Fs, logger *logging.Logger) *Pruner {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	limit := rate.Inf
	if config.DeletesPerSecond > 0 {
		limit = rate.Limit(config.DeletesPerSecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pruner{
		config:  config,
		ledger:  l,
		fs:      fs,
		logger:  logger,
		limiter: rate.NewLimiter(limit, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start prunes periodically until Stop is called
func (p *Pruner) Start() {
	if !p.config.Enabled || p.config.Interval <= 0 {
		p.logger.Debug("Retention disabled")
		return
	}

	p.logger.Info("Starting retention", map[string]interface{}{
		"max_age":  p.config.MaxAge.String(),
		"interval": p.config.Interval.String(),
	})

	p.wg.Add(1)
	go p.loop()
}

// Stop waits for a running prune to finish
func (p *Pruner) Stop() {
	p.cancel()
	p.wg.Wait()
}

// Last returns the result of the most recent prune
func (p *Pruner) Last() Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *Pruner) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.Prune(p.ctx, time.Now(), false); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("Retention prune failed", map[string]interface{}{"error": err.Error()})
		}

		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Prune removes entries created before now-MaxAge. With dryRun nothing is
// deleted and the result reports what would have been.
func (p *Pruner) Prune(ctx context.Context, now time.Time, dryRun bool) (Result, error) {
	start := time.Now()
	result := Result{}

	entries, err := p.ledger.List(ctx, ledger.Filter{Before: now.Add(-p.config.MaxAge)})
	if err != nil {
		return result, fmt.Errorf("failed to list expired artifacts: %w", err)
	}

	for _, e := range entries {
		if dryRun {
			result.EntriesDeleted++
			if e.Outcome == ledger.OutcomeSaved && e.Path != "" {
				result.FilesRemoved++
			}
			continue
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return result, err
		}

		if e.Outcome == ledger.OutcomeSaved && e.Path != "" {
			removed, err := p.removeFile(e.Path)
			if err != nil {
				result.Errors = append(result.Errors, err.Error())
				continue
			}
			if removed {
				result.FilesRemoved++
			}
		}

		if err := p.ledger.Delete(ctx, e.ID); err != nil && !errors.Is(err, ledger.ErrNotFound) {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to delete entry %s: %v", e.ID, err))
			continue
		}
		result.EntriesDeleted++
	}

	result.Duration = time.Since(start)

	p.mu.Lock()
	p.last = result
	p.mu.Unlock()

	p.logger.Info("Retention prune complete", map[string]interface{}{
		"entries": result.EntriesDeleted,
		"files":   result.FilesRemoved,
		"dry_run": dryRun,
	})
	return result, nil
}

// removeFile deletes path and its directory once empty
func (p *Pruner) removeFile(path string) (bool, error) {
	if err := p.fs.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to remove %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if empty, err := afero.IsEmpty(p.fs, dir); err == nil && empty {
		_ = p.fs.Remove(dir)
	}
	return true, nil
}
