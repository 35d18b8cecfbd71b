package resilience

import (
	"context"
	"testing"
	"time"
)

func TestBackoffDelays(t *testing.T) {
	c := BackoffConfig{
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
		{10, 30 * time.Second}, // capped
	}
	for _, tt := range tests {
		if got := c.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestSleepHonorsCancellation(t *testing.T) {
	c := BackoffConfig{BaseDelay: 10 * time.Second, MaxDelay: 10 * time.Second, BackoffFactor: 2.0}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := c.Sleep(ctx, 1)
	if err == nil {
		t.Fatal("expected context error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Sleep blocked %v after cancellation", elapsed)
	}
}

func TestSleepZeroAttempt(t *testing.T) {
	c := DefaultBackoff()
	if err := c.Sleep(context.Background(), 0); err != nil {
		t.Fatalf("Sleep(0) = %v", err)
	}
}
