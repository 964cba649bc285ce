// Package retry re-runs operations that fail with transient errors.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxRetries     int           // Maximum number of retry attempts
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration
	Multiplier     float64       // Backoff multiplier (exponential)
	// Retryable decides whether an error is worth another attempt. Nil retries every error.
	Retryable func(error) bool
}

// DefaultConfig suits local databases: a few quick attempts
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2.0,
	}
}

// Do executes fn with exponential backoff retries. Errors that are not
// retryable are returned unwrapped on the first attempt.
func Do(ctx context.Context, config Config, fn func(ctx context.Context) error) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if config.Retryable != nil && !config.Retryable(err) {
			return err
		}
		lastErr = err

		if attempt == config.MaxRetries {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * config.Multiplier)
		if config.MaxBackoff > 0 && backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", config.MaxRetries, lastErr)
}
