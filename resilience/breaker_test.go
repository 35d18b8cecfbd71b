package resilience

import (
	"testing"
	"time"

	"github.com/routecc/rcc/core"
)

// fakeClock lets tests move breaker time forward
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker() (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	b := NewBreaker()
	b.clock = func() time.Time { return clock.now }
	return b, clock
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker()

	for i := 0; i < DefaultFailureThreshold-1; i++ {
		b.Record(core.ClassServerError)
		if b.State() != StateClosed {
			t.Fatalf("breaker opened after only %d failures", i+1)
		}
	}
	b.Record(core.ClassServerError)

	if b.State() != StateOpen {
		t.Fatalf("state = %s after %d failures, want open", b.State(), DefaultFailureThreshold)
	}
	if b.Allow() {
		t.Error("open breaker must not admit traffic")
	}
}

func TestBreakerIgnoresNonQualifyingOutcomes(t *testing.T) {
	b, _ := newTestBreaker()

	for i := 0; i < DefaultFailureThreshold*2; i++ {
		b.Record(core.ClassBadRequest)
		b.Record(core.ClassTokenLimit)
		b.Record(core.ClassRateLimited)
		b.Record(core.ClassMalformed)
	}
	if b.State() != StateClosed {
		t.Errorf("request-level outcomes must not open the breaker, state = %s", b.State())
	}
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	b, _ := newTestBreaker()

	for i := 0; i < DefaultFailureThreshold-1; i++ {
		b.Record(core.ClassTimeout)
	}
	b.Record(core.ClassSuccess)
	for i := 0; i < DefaultFailureThreshold-1; i++ {
		b.Record(core.ClassTimeout)
	}

	if b.State() != StateClosed {
		t.Errorf("streak should reset on success, state = %s", b.State())
	}
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	b, clock := newTestBreaker()

	for i := 0; i < DefaultFailureThreshold; i++ {
		b.Record(core.ClassNetworkError)
	}
	if b.Allow() {
		t.Fatal("breaker should be open")
	}

	clock.advance(DefaultOpenDuration - time.Second)
	if b.Allow() {
		t.Fatal("cooldown has not elapsed yet")
	}

	clock.advance(2 * time.Second)
	if !b.Allow() {
		t.Fatal("elapsed cooldown should admit a trial request")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half_open", b.State())
	}
}

func TestBreakerHalfOpenClosesOnSuccess(t *testing.T) {
	b, clock := newTestBreaker()

	for i := 0; i < DefaultFailureThreshold; i++ {
		b.Record(core.ClassServerError)
	}
	clock.advance(DefaultOpenDuration + time.Second)
	if !b.Allow() {
		t.Fatal("trial request should be admitted")
	}

	b.Record(core.ClassSuccess)
	if b.State() != StateClosed {
		t.Fatalf("one success in half_open should close, state = %s", b.State())
	}
}

func TestBreakerHalfOpenReopensOnFailure(t *testing.T) {
	b, clock := newTestBreaker()

	for i := 0; i < DefaultFailureThreshold; i++ {
		b.Record(core.ClassServerError)
	}
	clock.advance(DefaultOpenDuration + time.Second)
	b.Allow()

	b.Record(core.ClassTimeout)
	if b.State() != StateOpen {
		t.Fatalf("trial failure should reopen, state = %s", b.State())
	}

	// A full fresh cooldown applies
	clock.advance(DefaultOpenDuration / 2)
	if b.Allow() {
		t.Error("reopened breaker should hold for a full cooldown")
	}
}

func TestForceHalfOpen(t *testing.T) {
	b, _ := newTestBreaker()

	b.ForceHalfOpen()
	if b.State() != StateClosed {
		t.Error("ForceHalfOpen on a closed breaker must be a no-op")
	}

	for i := 0; i < DefaultFailureThreshold; i++ {
		b.Record(core.ClassServerError)
	}
	b.ForceHalfOpen()
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half_open", b.State())
	}
	if !b.Allow() {
		t.Error("half_open breaker should admit a trial")
	}
}
