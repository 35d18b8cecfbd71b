// Package pipeline builds and executes routing pipelines.
//
// A pipeline is an ordered list of request transforms ending in exactly one
// provider adapter invocation. Pipelines are immutable after assembly; all
// mutable routing state (breaker, health, in-flight) lives in dedicated
// synchronized fields.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/routecc/rcc/core"
	"github.com/routecc/rcc/credential"
	"github.com/routecc/rcc/providers"
	"github.com/routecc/rcc/resilience"
)

// healthAlpha is the EWMA smoothing factor for a window of roughly 20
// observations (2 / (N+1))
const healthAlpha = 2.0 / 21.0

// Step transforms a request before it reaches the provider adapter.
// Steps must not retain or mutate the input; they return a new request
// when they change anything.
type Step interface {
	Name() string
	Apply(ctx context.Context, rc *core.RequestContext, req *core.ChatRequest) (*core.ChatRequest, error)
}

// Pipeline is one executable (virtual model, provider, model) route
type Pipeline struct {
	ID           string
	VirtualModel string
	Provider     string
	Model        string
	Weight       int

	steps      []Step
	adapter    providers.Adapter
	rotator    *credential.Rotator
	credential string // pinned slot name, empty means any
	models     *providers.ModelTable

	breaker *resilience.Breaker

	inFlight atomic.Int64

	mu          sync.Mutex
	health      float64
	lastSuccess time.Time
	lastFailure time.Time
}

// Result is the outcome of one pipeline execution
type Result struct {
	Response       *core.ChatResponse
	Classification core.Classification
	CredentialName string
	Duration       time.Duration
	Err            error
}

// New builds an immutable pipeline
func New(id, virtualModel, provider, model string, weight int, steps []Step,
	adapter providers.Adapter, rotator *credential.Rotator, pinnedCredential string,
	models *providers.ModelTable) *Pipeline {
	if weight <= 0 {
		weight = 1
	}
	p := &Pipeline{
		ID:           id,
		VirtualModel: virtualModel,
		Provider:     provider,
		Model:        model,
		Weight:       weight,
		steps:        steps,
		adapter:      adapter,
		rotator:      rotator,
		credential:   pinnedCredential,
		models:       models,
		breaker:      resilience.NewBreaker(),
		health:       1.0,
	}
	return p
}

// Breaker exposes the pipeline's circuit breaker to the scheduler
func (p *Pipeline) Breaker() *resilience.Breaker { return p.breaker }

// InFlight returns the number of requests currently executing
func (p *Pipeline) InFlight() int64 { return p.inFlight.Load() }

// Health returns the smoothed outcome score in [0, 1]
func (p *Pipeline) Health() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.health
}

// LastSuccess returns when the pipeline last completed a request
func (p *Pipeline) LastSuccess() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSuccess
}

// Adapter returns the terminal provider adapter
func (p *Pipeline) Adapter() providers.Adapter { return p.adapter }

// Rotator returns the credential rotator this pipeline draws from
func (p *Pipeline) Rotator() *credential.Rotator { return p.rotator }

// Execute runs the request through the step chain and the provider
// adapter. It records the outcome on the breaker and the health score,
// and releases the credential lease before returning.
func (p *Pipeline) Execute(ctx context.Context, rc *core.RequestContext) *Result {
	start := time.Now()
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	req := rc.Request
	for _, step := range p.steps {
		next, err := step.Apply(ctx, rc, req)
		if err != nil {
			return p.finish(&Result{
				Classification: core.ClassBadRequest,
				Duration:       time.Since(start),
				Err: &core.GatewayError{
					Op:        "pipeline." + step.Name(),
					Kind:      "bad_request",
					RequestID: rc.RequestID,
					Message:   "request transform rejected",
					Err:       err,
				},
			})
		}
		if next != nil {
			req = next
		}
	}

	// A lease failure means no upstream call happened; it must not trip the
	// breaker, so it bypasses finish.
	lease, err := p.acquireLease(ctx)
	if err != nil {
		return &Result{
			Classification: core.ClassAuthFailure,
			Duration:       time.Since(start),
			Err:            err,
		}
	}

	wire, err := p.adapter.Prepare(req, lease.Secret(), p.Model)
	if err != nil {
		lease.Report(core.ClassBadRequest)
		return p.finish(&Result{
			Classification: core.ClassBadRequest,
			CredentialName: lease.Name(),
			Duration:       time.Since(start),
			Err:            err,
		})
	}

	resp, classification, err := p.adapter.Invoke(ctx, wire)
	lease.Report(classification)

	if classification == core.ClassTokenLimit && resp != nil && resp.TokenLimit > 0 {
		p.models.SetDetectedLimit(p.Model, resp.TokenLimit, providers.VerificationVerified)
	}

	if err != nil {
		return p.finish(&Result{
			Classification: classification,
			CredentialName: lease.Name(),
			Duration:       time.Since(start),
			Err:            err,
		})
	}

	normalized, err := p.normalize(ctx, rc, resp)
	if err != nil {
		return p.finish(&Result{
			Classification: core.ClassMalformed,
			CredentialName: lease.Name(),
			Duration:       time.Since(start),
			Err:            err,
		})
	}
	normalized.Provider = p.Provider

	return p.finish(&Result{
		Response:       normalized,
		Classification: core.ClassSuccess,
		CredentialName: lease.Name(),
		Duration:       time.Since(start),
	})
}

func (p *Pipeline) acquireLease(ctx context.Context) (*credential.Lease, error) {
	if p.credential != "" {
		return p.rotator.AcquireNamed(ctx, p.credential)
	}
	return p.rotator.Acquire(ctx, false)
}

// normalize dispatches to the streaming or buffered response path
func (p *Pipeline) normalize(ctx context.Context, rc *core.RequestContext, resp *providers.WireResponse) (*core.ChatResponse, error) {
	if resp.Stream != nil {
		defer resp.Stream.Close()
		if rc.Callback != nil && p.adapter.SupportsStreaming() {
			return p.adapter.NormalizeStream(ctx, resp, rc.Callback)
		}
		// Streaming response but no consumer for chunks; drain into a
		// buffered response.
		return p.adapter.NormalizeStream(ctx, resp, func(core.StreamChunk) error { return nil })
	}
	normalized, err := p.adapter.Normalize(resp)
	if err != nil {
		return nil, err
	}
	if rc.Callback != nil {
		// Client asked for a stream from a buffering adapter; replay the
		// full response as a single chunk.
		if err := rc.Callback(core.StreamChunk{
			Content:      normalized.Content,
			Model:        normalized.Model,
			FinishReason: normalized.FinishReason,
			Usage:        &normalized.Usage,
		}); err != nil {
			return normalized, err
		}
	}
	return normalized, nil
}

// finish applies the outcome to breaker and health state
func (p *Pipeline) finish(res *Result) *Result {
	p.breaker.Record(res.Classification)

	score := 0.0
	switch {
	case res.Classification == core.ClassSuccess:
		score = 1.0
	case res.Classification.Retryable():
		score = 0.3
	}

	p.mu.Lock()
	p.health = p.health*(1-healthAlpha) + score*healthAlpha
	now := time.Now()
	if res.Classification == core.ClassSuccess {
		p.lastSuccess = now
	} else {
		p.lastFailure = now
	}
	p.mu.Unlock()

	return res
}

// View is a read-only pipeline snapshot for status surfaces
type View struct {
	ID           string                 `json:"id"`
	VirtualModel string                 `json:"virtual_model"`
	Provider     string                 `json:"provider"`
	Model        string                 `json:"model"`
	Weight       int                    `json:"weight"`
	Health       float64                `json:"health"`
	InFlight     int64                  `json:"in_flight"`
	Breaker      resilience.BreakerView `json:"breaker"`
	LastSuccess  time.Time              `json:"last_success,omitempty"`
	LastFailure  time.Time              `json:"last_failure,omitempty"`
}

// Snapshot returns a read-only view of the pipeline
func (p *Pipeline) Snapshot() View {
	p.mu.Lock()
	health := p.health
	lastSuccess := p.lastSuccess
	lastFailure := p.lastFailure
	p.mu.Unlock()

	return View{
		ID:           p.ID,
		VirtualModel: p.VirtualModel,
		Provider:     p.Provider,
		Model:        p.Model,
		Weight:       p.Weight,
		Health:       health,
		InFlight:     p.inFlight.Load(),
		Breaker:      p.breaker.Snapshot(),
		LastSuccess:  lastSuccess,
		LastFailure:  lastFailure,
	}
}

// String identifies the pipeline in logs
func (p *Pipeline) String() string {
	return fmt.Sprintf("%s -> %s/%s", p.VirtualModel, p.Provider, p.Model)
}
