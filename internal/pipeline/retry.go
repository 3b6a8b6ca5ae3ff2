package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/skypro1111/stream-transcriber/internal/errs"
)

// Backoff controls how StartWithRetry spaces out start attempts
type Backoff struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultBackoff retries three times after 1s, 2s and 4s
func DefaultBackoff() Backoff {
	return Backoff{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// Delay returns the wait before the given retry (1-based)
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	delay := time.Duration(math.Pow(2, float64(attempt-1))) * b.BaseDelay
	if b.MaxDelay > 0 && (delay > b.MaxDelay || delay <= 0) {
		delay = b.MaxDelay
	}
	return delay
}

// StartWithRetry starts a session, retrying only when the backend could not
// be reached. Capture failures and misuse are returned immediately.
func StartWithRetry(ctx context.Context, c *Controller, b Backoff) error {
	var lastErr error

	for attempt := 0; attempt <= b.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := b.Delay(attempt)
			c.logger.Warn("Retrying session start",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", delay),
				slog.String("error", lastErr.Error()))

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		c.metrics.RecordConnectAttempt()
		err := c.StartSession(ctx)
		if err == nil {
			return nil
		}
		if !errs.IsConnect(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("session start failed after %d attempts: %w", b.MaxRetries+1, lastErr)
}
