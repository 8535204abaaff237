package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type Config struct {
	// MaxAttempts <= 0 retries until ctx is done.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Do runs fn until it succeeds, the attempts are used up or ctx is done,
// sleeping with exponential backoff between attempts.
func Do(ctx context.Context, cfg Config, logger *slog.Logger, operation string, fn func() error) error {
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; cfg.MaxAttempts <= 0 || attempt <= cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("%s cancelled: %w", operation, ctx.Err())
		}

		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info("operation succeeded after retry", "operation", operation, "attempt", attempt)
			}
			return nil
		}

		lastErr = err
		logger.Warn("operation failed", "operation", operation, "attempt", attempt, "error", err)

		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s cancelled during retry: %w", operation, ctx.Err())
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, cfg.MaxAttempts, lastErr)
}
