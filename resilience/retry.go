package resilience

import (
	"context"
	"time"
)

// BackoffConfig controls exponential retry delays
type BackoffConfig struct {
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultBackoff matches the scheduler's retry defaults
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Delay returns the backoff before retry attempt n (first retry is n=1)
func (c BackoffConfig) Delay(n int) time.Duration {
	if n < 1 {
		return 0
	}
	d := float64(c.BaseDelay)
	for i := 1; i < n; i++ {
		d *= c.BackoffFactor
	}
	delay := time.Duration(d)
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// Sleep waits for the attempt's backoff or until the context ends
func (c BackoffConfig) Sleep(ctx context.Context, attempt int) error {
	delay := c.Delay(attempt)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
