package network

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/wheelibin/sunlamp/internal/faults"
)

// withRetry runs fn up to MaxAttempts times. Each attempt gets its own
// timeout and the waits between attempts double from BaseDelay. There is no
// wait after the final attempt.
func (c *Client) withRetry(ctx context.Context, op string, timeout time.Duration, fn func(ctx context.Context) error) error {
	delays := &backoff.ExponentialBackOff{
		InitialInterval:     c.cfg.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         c.cfg.BaseDelay << c.cfg.MaxAttempts,
	}
	delays.Reset()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		lastErr = runAttempt(ctx, timeout, fn)
		if lastErr == nil {
			return nil
		}
		c.logger.Warn("Network call failed", "op", op, "attempt", attempt, "of", c.cfg.MaxAttempts, "err", lastErr)

		if attempt == c.cfg.MaxAttempts {
			break
		}

		delay := delays.NextBackOff()
		c.logger.Debug("Retrying", "op", op, "in", delay)
		if err := c.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s abandoned: %w: %w", op, faults.ErrTransientNetwork, err)
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w: %w", op, c.cfg.MaxAttempts, faults.ErrTransientNetwork, lastErr)
}

func runAttempt(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
