// Package resilience provides the circuit breaker and retry backoff used
// by the request scheduler.
package resilience

import (
	"sync"
	"time"

	"github.com/routecc/rcc/core"
)

// BreakerState is the circuit state machine position
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

const (
	// DefaultFailureThreshold trips the breaker after this many consecutive
	// qualifying failures
	DefaultFailureThreshold = 5
	// DefaultOpenDuration is how long an open breaker blocks traffic before
	// permitting a trial request
	DefaultOpenDuration = 5 * time.Minute
)

// Breaker is a per-pipeline circuit breaker. Only classifications that
// indicate the target itself is unhealthy count toward tripping it; caller
// mistakes like bad_request never do.
type Breaker struct {
	mu sync.Mutex

	state            BreakerState
	consecutiveFails int
	openedAt         time.Time
	lastTransition   time.Time

	failureThreshold int
	openDuration     time.Duration

	clock func() time.Time
}

// BreakerView is a read-only snapshot for status surfaces
type BreakerView struct {
	State            BreakerState `json:"state"`
	ConsecutiveFails int          `json:"consecutive_failures"`
	LastTransition   time.Time    `json:"last_transition,omitempty"`
}

// NewBreaker creates a closed breaker with default thresholds
func NewBreaker() *Breaker {
	return &Breaker{
		state:            StateClosed,
		failureThreshold: DefaultFailureThreshold,
		openDuration:     DefaultOpenDuration,
		clock:            time.Now,
	}
}

// Allow reports whether a request may pass. An open breaker whose cooldown
// has elapsed transitions to half_open and admits exactly the caller's
// request as the trial.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		return true
	case StateOpen:
		if b.clock().Sub(b.openedAt) >= b.openDuration {
			b.transitionLocked(StateHalfOpen)
			return true
		}
		return false
	}
	return false
}

// Record applies a request outcome to the state machine
func (b *Breaker) Record(outcome core.Classification) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if outcome == core.ClassSuccess {
		b.consecutiveFails = 0
		if b.state != StateClosed {
			b.transitionLocked(StateClosed)
		}
		return
	}

	if !outcome.CountsTowardBreaker() {
		return
	}

	switch b.state {
	case StateClosed:
		b.consecutiveFails++
		if b.consecutiveFails >= b.failureThreshold {
			b.openedAt = b.clock()
			b.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		// Trial failed; back to open for a full cooldown
		b.consecutiveFails++
		b.openedAt = b.clock()
		b.transitionLocked(StateOpen)
	}
}

// ForceHalfOpen moves an open breaker directly to half_open. Health probes
// use this to shorten recovery when a target looks healthy again.
func (b *Breaker) ForceHalfOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen {
		b.transitionLocked(StateHalfOpen)
	}
}

// State returns the current state, applying the open->half_open timeout
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.clock().Sub(b.openedAt) >= b.openDuration {
		b.transitionLocked(StateHalfOpen)
	}
	return b.state
}

// Snapshot returns a read-only view
func (b *Breaker) Snapshot() BreakerView {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerView{
		State:            b.state,
		ConsecutiveFails: b.consecutiveFails,
		LastTransition:   b.lastTransition,
	}
}

func (b *Breaker) transitionLocked(to BreakerState) {
	b.state = to
	b.lastTransition = b.clock()
	if to == StateClosed {
		b.consecutiveFails = 0
	}
}
