// Package scheduler routes requests across a virtual model's pipelines.
//
// Each virtual model gets one Scheduler owning the pool's selection
// strategy, retry policy, circuit-breaker gating, concurrency cap, and
// health probing. The Manager (manager.go) holds the registry of
// schedulers keyed by virtual model id.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/routecc/rcc/config"
	"github.com/routecc/rcc/core"
	"github.com/routecc/rcc/pipeline"
	"github.com/routecc/rcc/resilience"
	"github.com/routecc/rcc/telemetry"
)

// probeInterval is how often open pipelines are health checked
const probeInterval = 60 * time.Second

// Scheduler routes requests for one virtual model
type Scheduler struct {
	virtualModel string
	strategy     config.Strategy
	maxAttempts  int
	backoff      resilience.BackoffConfig
	maxInFlight  int64
	waitOnBusy   bool

	pipelines []*pipeline.Pipeline

	mu      sync.Mutex
	cond    *sync.Cond
	rrIndex int

	inFlight atomic.Int64
	draining atomic.Bool

	tracker   *telemetry.Tracker
	logger    core.Logger
	telemetry core.Telemetry

	probeStop chan struct{}
	probeDone chan struct{}
}

// NewScheduler builds a scheduler from an assembled pool
func NewScheduler(pool *pipeline.Pool, tracker *telemetry.Tracker, logger core.Logger, tel core.Telemetry) *Scheduler {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if tel == nil {
		tel = &core.NoOpTelemetry{}
	}

	maxAttempts := pool.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = config.DefaultMaxAttempts
	}
	maxInFlight := int64(pool.MaxInFlight)
	if maxInFlight <= 0 {
		maxInFlight = config.DefaultMaxInFlight
	}

	backoff := resilience.DefaultBackoff()
	if pool.Retry.BaseDelay > 0 {
		backoff.BaseDelay = pool.Retry.BaseDelay
	}
	if pool.Retry.MaxDelay > 0 {
		backoff.MaxDelay = pool.Retry.MaxDelay
	}
	if pool.Retry.BackoffFactor > 0 {
		backoff.BackoffFactor = pool.Retry.BackoffFactor
	}

	s := &Scheduler{
		virtualModel: pool.VirtualModel,
		strategy:     pool.Strategy,
		maxAttempts:  maxAttempts,
		backoff:      backoff,
		maxInFlight:  maxInFlight,
		waitOnBusy:   pool.WaitOnBusy,
		pipelines:    pool.Pipelines,
		tracker:      tracker,
		logger:       logger,
		telemetry:    tel,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start launches the health probe loop
func (s *Scheduler) Start() {
	if s.probeStop != nil {
		return
	}
	s.probeStop = make(chan struct{})
	s.probeDone = make(chan struct{})
	go s.probeLoop()
}

// Stop halts background probing. In-flight requests continue.
func (s *Scheduler) Stop() {
	if s.probeStop == nil {
		return
	}
	close(s.probeStop)
	<-s.probeDone
	s.probeStop = nil
}

// Drain marks the scheduler as refusing new work
func (s *Scheduler) Drain() {
	s.draining.Store(true)
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

// InFlight returns the number of requests currently executing
func (s *Scheduler) InFlight() int64 {
	return s.inFlight.Load()
}

// VirtualModel returns the pool's virtual model id
func (s *Scheduler) VirtualModel() string {
	return s.virtualModel
}

// Execute routes one request, retrying retryable failures on different
// pipelines up to the attempt cap. The returned error, when non-nil, wraps
// one of the core sentinel errors.
func (s *Scheduler) Execute(ctx context.Context, rc *core.RequestContext) (*core.ChatResponse, error) {
	if s.draining.Load() {
		return nil, s.wrap(rc, "scheduler.Execute", core.ErrDraining, "pool is draining")
	}
	if err := s.admit(ctx, rc); err != nil {
		return nil, err
	}
	defer func() {
		s.inFlight.Add(-1)
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	}()

	ctx, span := s.telemetry.StartSpan(ctx, "scheduler.execute")
	defer span.End()
	span.SetAttribute("virtual_model", s.virtualModel)
	span.SetAttribute("request_id", rc.RequestID)

	record := &telemetry.TraceRecord{
		RequestID:    rc.RequestID,
		VirtualModel: s.virtualModel,
		Stream:       rc.Callback != nil,
		StartedAt:    time.Now(),
	}

	var lastResult *pipeline.Result
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			err := s.interrupted(ctx, rc, record)
			s.close(ctx, record)
			return nil, err
		}

		p := s.selectPipeline(rc)
		if p == nil {
			break
		}
		rc.MarkTried(p.ID)

		if attempt > 0 {
			s.telemetry.RecordMetric(telemetry.MetricRetriesTotal, 1,
				map[string]string{"virtual_model": s.virtualModel})
			if err := s.backoff.Sleep(ctx, attempt); err != nil {
				err = s.interrupted(ctx, rc, record)
				s.close(ctx, record)
				return nil, err
			}
		}

		res := p.Execute(ctx, rc)
		lastResult = res
		record.Attempts = append(record.Attempts, attemptFromResult(p, res))
		s.telemetry.RecordMetric(telemetry.MetricAttemptsTotal, 1, map[string]string{
			"pipeline":       p.ID,
			"classification": string(res.Classification),
		})
		if res.Classification.CountsTowardBreaker() && p.Breaker().State() == resilience.StateOpen {
			s.telemetry.RecordMetric(telemetry.MetricBreakerOpens, 1,
				map[string]string{"pipeline": p.ID})
		}

		s.logger.Debug("Pipeline attempt completed", map[string]interface{}{
			"operation":      "schedule",
			"request_id":     rc.RequestID,
			"pipeline":       p.ID,
			"attempt":        attempt + 1,
			"classification": string(res.Classification),
			"duration_ms":    res.Duration.Milliseconds(),
		})

		if res.Classification == core.ClassSuccess {
			record.Final = core.ClassSuccess
			s.close(ctx, record)
			return res.Response, nil
		}
		if ctx.Err() != nil {
			err := s.interrupted(ctx, rc, record)
			s.close(ctx, record)
			return nil, err
		}
		if !res.Classification.Retryable() {
			record.Final = res.Classification
			s.close(ctx, record)
			return nil, s.terminalError(rc, res)
		}
	}

	if lastResult == nil {
		record.Final = core.ClassServerError
		s.close(ctx, record)
		return nil, s.wrap(rc, "scheduler.Execute", core.ErrNoAvailableTargets,
			"no pipeline available for "+s.virtualModel)
	}

	record.Final = lastResult.Classification
	s.close(ctx, record)
	return nil, s.wrap(rc, "scheduler.Execute", core.ErrAllTargetsFailed,
		fmt.Sprintf("all %d attempts failed, last: %s", rc.Attempts(), lastResult.Classification))
}

// admit enforces the pool's concurrency cap
func (s *Scheduler) admit(ctx context.Context, rc *core.RequestContext) error {
	for {
		n := s.inFlight.Load()
		if n < s.maxInFlight {
			if s.inFlight.CompareAndSwap(n, n+1) {
				return nil
			}
			continue
		}
		if !s.waitOnBusy {
			return s.wrap(rc, "scheduler.admit", core.ErrOverloaded,
				fmt.Sprintf("pool at capacity (%d in flight)", n))
		}

		s.mu.Lock()
		woke := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				s.cond.Broadcast()
			case <-woke:
			}
		}()
		s.cond.Wait()
		close(woke)
		s.mu.Unlock()

		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return s.wrap(rc, "scheduler.admit", core.ErrUpstreamTimeout, "deadline exceeded while waiting for capacity")
			}
			return s.wrap(rc, "scheduler.admit", core.ErrRequestCancelled, "cancelled while waiting for capacity")
		}
		if s.draining.Load() {
			return s.wrap(rc, "scheduler.admit", core.ErrDraining, "pool is draining")
		}
	}
}

// selectPipeline picks an untried pipeline whose breaker admits traffic,
// by the pool's strategy. Returns nil when no candidate remains.
func (s *Scheduler) selectPipeline(rc *core.RequestContext) *pipeline.Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*pipeline.Pipeline
	for _, p := range s.pipelines {
		if rc.Tried(p.ID) {
			continue
		}
		if !p.Breaker().Allow() {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return nil
	}

	switch s.strategy {
	case config.StrategyWeighted:
		return s.pickWeightedLocked(candidates)
	case config.StrategyLeastLoaded:
		best := candidates[0]
		for _, p := range candidates[1:] {
			if p.InFlight() < best.InFlight() {
				best = p
			}
		}
		return best
	case config.StrategyFailover:
		// Declared order is priority order
		return candidates[0]
	default: // round-robin
		p := candidates[s.rrIndex%len(candidates)]
		s.rrIndex++
		return p
	}
}

// pickWeightedLocked chooses in proportion to configured weight scaled by
// observed health, so a degraded pipeline sheds load before its breaker
// opens
func (s *Scheduler) pickWeightedLocked(candidates []*pipeline.Pipeline) *pipeline.Pipeline {
	scores := make([]float64, len(candidates))
	total := 0.0
	for i, p := range candidates {
		score := float64(p.Weight) * p.Health()
		if score < 0.01 {
			score = 0.01
		}
		scores[i] = score
		total += score
	}

	// Deterministic rotation over the cumulative score space
	s.rrIndex++
	point := float64(s.rrIndex%1000) / 1000.0 * total
	for i, p := range candidates {
		if point < scores[i] {
			return p
		}
		point -= scores[i]
	}
	return candidates[len(candidates)-1]
}

// terminalError maps a non-retryable attempt outcome to a sentinel error
func (s *Scheduler) terminalError(rc *core.RequestContext, res *pipeline.Result) error {
	switch res.Classification {
	case core.ClassAuthFailure:
		if core.IsCredentialError(res.Err) {
			return s.wrap(rc, "scheduler.Execute", core.ErrAuthExhausted, "no usable credentials")
		}
		return s.wrap(rc, "scheduler.Execute", core.ErrAllTargetsFailed, "upstream rejected credentials")
	case core.ClassTokenLimit:
		return s.wrap(rc, "scheduler.Execute", core.ErrTokenLimitExceeded, "prompt exceeds model context window")
	case core.ClassBadRequest:
		if res.Err != nil && errors.Is(res.Err, core.ErrTokenLimitExceeded) {
			return s.wrap(rc, "scheduler.Execute", core.ErrTokenLimitExceeded, "prompt exceeds model context window")
		}
		return s.wrap(rc, "scheduler.Execute", core.ErrBadRequest, "upstream rejected request")
	case core.ClassCancelled:
		return s.wrap(rc, "scheduler.Execute", core.ErrRequestCancelled, "request cancelled")
	case core.ClassMalformed:
		return s.wrap(rc, "scheduler.Execute", core.ErrMalformedResponse, "provider returned malformed response")
	default:
		return s.wrap(rc, "scheduler.Execute", core.ErrAllTargetsFailed, string(res.Classification))
	}
}

// interrupted maps a finished context onto the client-facing error. A
// deadline expiry is an upstream timeout, not a client cancellation; the
// two carry different trace outcomes and status codes.
func (s *Scheduler) interrupted(ctx context.Context, rc *core.RequestContext, record *telemetry.TraceRecord) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		record.Final = core.ClassTimeout
		return s.wrap(rc, "scheduler.Execute", core.ErrUpstreamTimeout, "request deadline exceeded")
	}
	record.Final = core.ClassCancelled
	return s.wrap(rc, "scheduler.Execute", core.ErrRequestCancelled, "request cancelled")
}

func (s *Scheduler) wrap(rc *core.RequestContext, op string, sentinel error, msg string) error {
	return &core.GatewayError{
		Op:        op,
		Kind:      "routing",
		RequestID: rc.RequestID,
		Message:   msg,
		Err:       sentinel,
	}
}

// close finalizes and records the trace
func (s *Scheduler) close(ctx context.Context, record *telemetry.TraceRecord) {
	record.CompletedAt = time.Now()
	if s.tracker != nil {
		s.tracker.Record(ctx, record)
	}
	s.telemetry.RecordMetric(telemetry.MetricRequestsTotal, 1, map[string]string{
		"virtual_model": s.virtualModel,
		"outcome":       string(record.Final),
	})
	s.telemetry.RecordMetric(telemetry.MetricRequestDuration,
		float64(record.Duration().Milliseconds()),
		map[string]string{"virtual_model": s.virtualModel})
}

func attemptFromResult(p *pipeline.Pipeline, res *pipeline.Result) telemetry.Attempt {
	a := telemetry.Attempt{
		PipelineID:     p.ID,
		Provider:       p.Provider,
		Model:          p.Model,
		Credential:     res.CredentialName,
		Classification: res.Classification,
		DurationMs:     res.Duration.Milliseconds(),
		At:             time.Now(),
	}
	if res.Err != nil {
		a.Error = res.Err.Error()
	}
	return a
}

// Snapshot returns per-pipeline views for the status surface
func (s *Scheduler) Snapshot() []pipeline.View {
	views := make([]pipeline.View, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		views = append(views, p.Snapshot())
	}
	return views
}

// probeLoop periodically checks open pipelines so a recovered target is
// readmitted before the full breaker cooldown elapses
func (s *Scheduler) probeLoop() {
	defer close(s.probeDone)
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.probeStop:
			return
		case <-ticker.C:
			s.probeOnce()
		}
	}
}

func (s *Scheduler) probeOnce() {
	for _, p := range s.pipelines {
		if p.Breaker().State() != resilience.StateOpen {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := s.probePipeline(ctx, p)
		cancel()

		if err == nil {
			p.Breaker().ForceHalfOpen()
			s.logger.Info("Health probe succeeded, readmitting pipeline", map[string]interface{}{
				"operation": "health_probe",
				"pipeline":  p.ID,
			})
		} else {
			s.logger.Debug("Health probe failed", map[string]interface{}{
				"operation": "health_probe",
				"pipeline":  p.ID,
				"error":     err.Error(),
			})
		}
	}
}

// probePipeline makes a lightweight call against the pipeline's provider:
// a model listing when the protocol has one, a one-token completion
// otherwise
func (s *Scheduler) probePipeline(ctx context.Context, p *pipeline.Pipeline) error {
	lease, err := p.Rotator().Acquire(ctx, false)
	if err != nil {
		return err
	}
	_, err = p.Adapter().DetectCapabilities(ctx, lease.Secret())
	if errors.Is(err, core.ErrUnsupported) {
		err = s.chatProbe(ctx, p, lease.Secret())
	}
	if err == nil {
		lease.Report(core.ClassSuccess)
		return nil
	}
	lease.Report(core.ClassNetworkError)
	return err
}

// chatProbe sends a minimal one-token completion and reports healthy only
// on a successful classification
func (s *Scheduler) chatProbe(ctx context.Context, p *pipeline.Pipeline, secret string) error {
	req := &core.ChatRequest{
		Model:     p.Model,
		Messages:  []core.Message{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	}
	wire, err := p.Adapter().Prepare(req, secret, p.Model)
	if err != nil {
		return err
	}
	_, classification, err := p.Adapter().Invoke(ctx, wire)
	if classification == core.ClassSuccess {
		return nil
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("probe request classified as %s", classification)
}
