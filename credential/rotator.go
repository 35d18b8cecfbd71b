// Package credential implements per-provider API key rotation.
//
// A Rotator owns the credential slots of one provider. Slot state (status,
// quota counters, in-flight counts) is mutated only inside the rotator's
// critical section; callers interact through Acquire/Lease.Report and
// administrative Blacklist/Restore transitions.
package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/routecc/rcc/config"
	"github.com/routecc/rcc/core"
	"github.com/routecc/rcc/telemetry"
)

// Status is the single authoritative state of one credential slot
type Status string

const (
	StatusActive      Status = "active"
	StatusCooling     Status = "cooling"
	StatusBlacklisted Status = "blacklisted"
	StatusDisabled    Status = "disabled"
)

// Cooldown schedule for auth-failure streaks
const (
	// DefaultFailureThreshold is the consecutive auth failures before a
	// slot starts cooling
	DefaultFailureThreshold = 3
	// BaseCooldown is the first cooldown period; it doubles on each
	// subsequent trip
	BaseCooldown = 60 * time.Second
	// MaxCooldown caps the exponential growth
	MaxCooldown = time.Hour
)

// slot is the internal state of one credential. All fields are guarded by
// the rotator's mutex.
type slot struct {
	name   string
	secret string
	weight int

	status          Status
	blacklistReason string

	inFlight        int
	consecutiveFail int
	lastFailure     time.Time
	coolingUntil    time.Time
	cooldown        time.Duration

	// RPM token bucket
	rpmLimit  int
	rpmTokens float64
	rpmLast   time.Time

	// RPD rolling daily counter
	rpdLimit int
	rpdCount int
	rpdDay   string
}

// SlotView is a read-only copy of slot state for status surfaces
type SlotView struct {
	Name            string    `json:"name"`
	Weight          int       `json:"weight"`
	Status          Status    `json:"status"`
	BlacklistReason string    `json:"blacklist_reason,omitempty"`
	InFlight        int       `json:"in_flight"`
	ConsecutiveFail int       `json:"consecutive_failures"`
	LastFailure     time.Time `json:"last_failure,omitempty"`
	RequestsToday   int       `json:"requests_today"`
}

// Rotator manages the credential slots of one provider
type Rotator struct {
	mu       sync.Mutex
	cond     *sync.Cond
	provider string
	policy   config.Strategy
	slots    []*slot
	rrIndex  int

	failureThreshold int
	logger           core.Logger
	tel              core.Telemetry
}

// NewRotator builds a rotator from normalized credential configs.
// Deduplication of identical secret material happens at config load; the
// rotator trusts its input.
func NewRotator(provider string, policy config.Strategy, creds []config.CredentialConfig, logger core.Logger) *Rotator {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if policy == "" {
		policy = config.StrategyRoundRobin
	}

	r := &Rotator{
		provider:         provider,
		policy:           policy,
		failureThreshold: DefaultFailureThreshold,
		logger:           logger,
		tel:              &core.NoOpTelemetry{},
	}
	r.cond = sync.NewCond(&r.mu)

	now := time.Now()
	for _, c := range creds {
		weight := c.Weight
		if weight <= 0 {
			weight = 1
		}
		r.slots = append(r.slots, &slot{
			name:      c.Name,
			secret:    c.Secret,
			weight:    weight,
			status:    StatusActive,
			cooldown:  BaseCooldown,
			rpmLimit:  c.RPM,
			rpmTokens: float64(c.RPM),
			rpmLast:   now,
			rpdLimit:  c.RPD,
		})
	}
	return r
}

// SetTelemetry installs the metric sink. Call before the rotator starts
// serving leases.
func (r *Rotator) SetTelemetry(tel core.Telemetry) {
	if tel == nil {
		return
	}
	r.mu.Lock()
	r.tel = tel
	r.mu.Unlock()
}

// Lease is the release handle returned by Acquire. Report must be called
// exactly once with the request's final classification.
type Lease struct {
	r    *Rotator
	slot *slot
	done bool
}

// Name returns the slot name for trace records
func (l *Lease) Name() string { return l.slot.name }

// Secret returns the opaque secret material
func (l *Lease) Secret() string { return l.slot.secret }

// Report records the request outcome and releases the slot
func (l *Lease) Report(outcome core.Classification) {
	l.r.report(l, outcome)
}

// Acquire chooses an eligible slot by the configured policy and increments
// its in-flight counter. When wait is false it returns ErrNoCredentials
// immediately if nothing is eligible; when wait is true it blocks until a
// slot frees up or the context ends.
func (r *Rotator) Acquire(ctx context.Context, wait bool) (*Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if s := r.pickLocked(); s != nil {
			s.inFlight++
			r.consumeQuotaLocked(s)
			return &Lease{r: r, slot: s}, nil
		}

		if !r.anyRecoverableLocked() {
			return nil, fmt.Errorf("provider %s: %w", r.provider, core.ErrAuthExhausted)
		}
		if !wait {
			return nil, fmt.Errorf("provider %s: %w", r.provider, core.ErrNoCredentials)
		}
		if err := r.waitLocked(ctx); err != nil {
			return nil, err
		}
	}
}

// AcquireNamed acquires a specific slot by name, for targets pinned to one
// credential. It never waits.
func (r *Rotator) AcquireNamed(ctx context.Context, name string) (*Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.eligibleLocked() {
		if s.name == name {
			s.inFlight++
			r.consumeQuotaLocked(s)
			return &Lease{r: r, slot: s}, nil
		}
	}
	return nil, fmt.Errorf("provider %s: credential %q: %w", r.provider, name, core.ErrNoCredentials)
}

// waitLocked blocks on the condition variable, waking on context end.
// Caller holds the lock.
func (r *Rotator) waitLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	woke := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			r.cond.Broadcast()
		case <-woke:
		}
	}()
	r.cond.Wait()
	close(woke)

	return ctx.Err()
}

// pickLocked applies the rotation policy over eligible slots
func (r *Rotator) pickLocked() *slot {
	eligible := r.eligibleLocked()
	if len(eligible) == 0 {
		return nil
	}

	switch r.policy {
	case config.StrategyWeighted:
		return r.pickWeightedLocked(eligible)
	case config.StrategyFailover:
		best := eligible[0]
		for _, s := range eligible[1:] {
			if s.weight > best.weight {
				best = s
			}
		}
		return best
	default: // round-robin
		s := eligible[r.rrIndex%len(eligible)]
		r.rrIndex++
		return s
	}
}

// pickWeightedLocked rotates deterministically in proportion to weight
// using the round-robin counter over an expanded index space
func (r *Rotator) pickWeightedLocked(eligible []*slot) *slot {
	total := 0
	for _, s := range eligible {
		total += s.weight
	}
	if total == 0 {
		return eligible[0]
	}
	n := r.rrIndex % total
	r.rrIndex++
	for _, s := range eligible {
		if n < s.weight {
			return s
		}
		n -= s.weight
	}
	return eligible[len(eligible)-1]
}

// eligibleLocked returns slots that may serve a request right now,
// expiring cooldowns and refilling quota buckets as a side effect
func (r *Rotator) eligibleLocked() []*slot {
	now := time.Now()
	var eligible []*slot
	for _, s := range r.slots {
		if s.status == StatusCooling && now.After(s.coolingUntil) {
			s.status = StatusActive
			r.logger.Info("Credential cooldown expired", map[string]interface{}{
				"operation": "credential_restore",
				"provider":  r.provider,
				"slot":      s.name,
			})
		}
		if s.status != StatusActive {
			continue
		}
		if !r.quotaAvailableLocked(s, now) {
			continue
		}
		eligible = append(eligible, s)
	}
	return eligible
}

// anyRecoverableLocked reports whether some slot could become eligible
// later (cooling or quota-exhausted, as opposed to blacklisted/disabled)
func (r *Rotator) anyRecoverableLocked() bool {
	for _, s := range r.slots {
		if s.status == StatusActive || s.status == StatusCooling {
			return true
		}
	}
	return false
}

// quotaAvailableLocked refills the RPM bucket and rolls the RPD window,
// then reports whether the slot has quota for one more request
func (r *Rotator) quotaAvailableLocked(s *slot, now time.Time) bool {
	if s.rpmLimit > 0 {
		elapsed := now.Sub(s.rpmLast)
		s.rpmTokens += elapsed.Minutes() * float64(s.rpmLimit)
		if s.rpmTokens > float64(s.rpmLimit) {
			s.rpmTokens = float64(s.rpmLimit)
		}
		s.rpmLast = now
		if s.rpmTokens < 1 {
			return false
		}
	}
	if s.rpdLimit > 0 {
		day := now.Format("2006-01-02")
		if s.rpdDay != day {
			s.rpdDay = day
			s.rpdCount = 0
		}
		if s.rpdCount >= s.rpdLimit {
			return false
		}
	}
	return true
}

func (r *Rotator) consumeQuotaLocked(s *slot) {
	if s.rpmLimit > 0 {
		s.rpmTokens--
	}
	if s.rpdLimit > 0 {
		s.rpdCount++
	}
}

// report applies the outcome to slot state under the critical section
func (r *Rotator) report(l *Lease, outcome core.Classification) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l.done {
		return
	}
	l.done = true

	s := l.slot
	if s.inFlight > 0 {
		s.inFlight--
	}

	switch outcome {
	case core.ClassSuccess:
		s.consecutiveFail = 0
		s.cooldown = BaseCooldown
		if s.status == StatusCooling {
			s.status = StatusActive
		}

	case core.ClassAuthFailure:
		s.consecutiveFail++
		s.lastFailure = time.Now()
		if s.consecutiveFail >= r.failureThreshold && s.status == StatusActive {
			s.status = StatusCooling
			s.coolingUntil = time.Now().Add(s.cooldown)
			r.logger.Warn("Credential cooling after repeated auth failures", map[string]interface{}{
				"operation":   "credential_cooldown",
				"provider":    r.provider,
				"slot":        s.name,
				"failures":    s.consecutiveFail,
				"cooldown_ms": s.cooldown.Milliseconds(),
			})
			s.cooldown *= 2
			if s.cooldown > MaxCooldown {
				s.cooldown = MaxCooldown
			}
			r.tel.RecordMetric(telemetry.MetricCredentialCools, 1, map[string]string{
				"provider": r.provider,
				"slot":     s.name,
			})
		}
	}

	r.cond.Broadcast()
}

// Blacklist marks a slot unusable until Restore is called
func (r *Rotator) Blacklist(name, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.slots {
		if s.name == name {
			s.status = StatusBlacklisted
			s.blacklistReason = reason
			r.logger.Warn("Credential blacklisted", map[string]interface{}{
				"operation": "credential_blacklist",
				"provider":  r.provider,
				"slot":      name,
				"reason":    reason,
			})
			return
		}
	}
}

// Restore returns a blacklisted or disabled slot to active service
func (r *Rotator) Restore(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.slots {
		if s.name == name {
			s.status = StatusActive
			s.blacklistReason = ""
			s.consecutiveFail = 0
			s.cooldown = BaseCooldown
			r.cond.Broadcast()
			return
		}
	}
}

// Provider returns the provider id this rotator serves
func (r *Rotator) Provider() string { return r.provider }

// InFlight returns the sum of in-flight counters across slots
func (r *Rotator) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, s := range r.slots {
		total += s.inFlight
	}
	return total
}

// Snapshot returns read-only copies of slot state
func (r *Rotator) Snapshot() []SlotView {
	r.mu.Lock()
	defer r.mu.Unlock()
	views := make([]SlotView, 0, len(r.slots))
	for _, s := range r.slots {
		views = append(views, SlotView{
			Name:            s.name,
			Weight:          s.weight,
			Status:          s.status,
			BlacklistReason: s.blacklistReason,
			InFlight:        s.inFlight,
			ConsecutiveFail: s.consecutiveFail,
			LastFailure:     s.lastFailure,
			RequestsToday:   s.rpdCount,
		})
	}
	return views
}
