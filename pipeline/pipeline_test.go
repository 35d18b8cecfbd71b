package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/routecc/rcc/config"
	"github.com/routecc/rcc/core"
	"github.com/routecc/rcc/credential"
	"github.com/routecc/rcc/providers"
	"github.com/routecc/rcc/resilience"
)

// scriptedAdapter returns canned outcomes in order, then repeats the last
type scriptedAdapter struct {
	mu       sync.Mutex
	name     string
	outcomes []scriptedOutcome
	calls    int
}

type scriptedOutcome struct {
	classification core.Classification
	response       *core.ChatResponse
	tokenLimit     int
	err            error
}

func (f *scriptedAdapter) Name() string     { return f.name }
func (f *scriptedAdapter) Protocol() string { return "openai" }

func (f *scriptedAdapter) Prepare(req *core.ChatRequest, secret, model string) (*providers.WireRequest, error) {
	return &providers.WireRequest{Method: "POST", URL: "https://fake/" + model}, nil
}

func (f *scriptedAdapter) Invoke(ctx context.Context, wire *providers.WireRequest) (*providers.WireResponse, core.Classification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.outcomes) {
		idx = len(f.outcomes) - 1
	}
	f.calls++
	o := f.outcomes[idx]
	resp := &providers.WireResponse{StatusCode: 200, Body: []byte(`{}`), TokenLimit: o.tokenLimit}
	return resp, o.classification, o.err
}

func (f *scriptedAdapter) Normalize(wire *providers.WireResponse) (*core.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls - 1
	if idx < 0 || idx >= len(f.outcomes) {
		idx = len(f.outcomes) - 1
	}
	return f.outcomes[idx].response, nil
}

func (f *scriptedAdapter) NormalizeStream(ctx context.Context, wire *providers.WireResponse, callback core.StreamCallback) (*core.ChatResponse, error) {
	return nil, core.ErrUnsupported
}

func (f *scriptedAdapter) SupportsStreaming() bool { return false }

func (f *scriptedAdapter) DetectCapabilities(ctx context.Context, secret string) ([]string, error) {
	return []string{"m"}, nil
}

func (f *scriptedAdapter) invocations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func successAdapter(content string) *scriptedAdapter {
	return &scriptedAdapter{
		name: "fake",
		outcomes: []scriptedOutcome{
			{classification: core.ClassSuccess, response: &core.ChatResponse{Content: content}},
		},
	}
}

func failingAdapter(classification core.Classification) *scriptedAdapter {
	return &scriptedAdapter{
		name: "fake",
		outcomes: []scriptedOutcome{
			{classification: classification, err: errors.New("upstream failure")},
		},
	}
}

func testRotator() *credential.Rotator {
	return credential.NewRotator("fake", config.StrategyRoundRobin,
		[]config.CredentialConfig{{Name: "k1", Secret: "s1"}}, nil)
}

func testModels() *providers.ModelTable {
	return providers.NewModelTable([]providers.Model{{ID: "m", DeclaredMaxTokens: 8192}})
}

func testPipeline(adapter providers.Adapter) *Pipeline {
	models := testModels()
	steps := []Step{
		&BlacklistGuardStep{Models: models, Model: "m"},
		&TokenGuardStep{Models: models, Model: "m"},
		&ModelRewriteStep{NativeModel: "m"},
	}
	return New("vm/fake/m", "vm", "fake", "m", 1, steps, adapter, testRotator(), "", models)
}

func testRequest() *core.RequestContext {
	return core.NewRequestContext("vm", &core.ChatRequest{
		Model:    "vm",
		Messages: []core.Message{{Role: "user", Content: "hello"}},
	})
}

func TestExecuteSuccess(t *testing.T) {
	adapter := successAdapter("answer")
	p := testPipeline(adapter)

	res := p.Execute(context.Background(), testRequest())
	if res.Err != nil {
		t.Fatalf("Execute: %v", res.Err)
	}
	if res.Classification != core.ClassSuccess {
		t.Fatalf("classification = %s", res.Classification)
	}
	if res.Response.Content != "answer" {
		t.Errorf("content = %q", res.Response.Content)
	}
	if res.Response.Provider != "fake" {
		t.Errorf("provider = %q", res.Response.Provider)
	}
	if res.CredentialName != "k1" {
		t.Errorf("credential = %q", res.CredentialName)
	}
	if p.InFlight() != 0 {
		t.Errorf("in-flight = %d after completion", p.InFlight())
	}
}

func TestExecuteRecordsBreakerAndHealth(t *testing.T) {
	adapter := failingAdapter(core.ClassServerError)
	p := testPipeline(adapter)

	startHealth := p.Health()
	for i := 0; i < resilience.DefaultFailureThreshold; i++ {
		res := p.Execute(context.Background(), testRequest())
		if res.Classification != core.ClassServerError {
			t.Fatalf("classification = %s", res.Classification)
		}
	}

	if p.Breaker().State() != resilience.StateOpen {
		t.Errorf("breaker = %s after %d server errors, want open",
			p.Breaker().State(), resilience.DefaultFailureThreshold)
	}
	if p.Health() >= startHealth {
		t.Errorf("health should degrade, start %f now %f", startHealth, p.Health())
	}
}

func TestExecuteTokenLimitUpdatesModelTable(t *testing.T) {
	adapter := &scriptedAdapter{
		name: "fake",
		outcomes: []scriptedOutcome{
			{classification: core.ClassTokenLimit, tokenLimit: 4096, err: errors.New("context too long")},
		},
	}
	p := testPipeline(adapter)

	res := p.Execute(context.Background(), testRequest())
	if res.Classification != core.ClassTokenLimit {
		t.Fatalf("classification = %s", res.Classification)
	}

	m, _ := p.models.Get("m")
	if m.DetectedMaxTokens != 4096 || m.Verification != providers.VerificationVerified {
		t.Errorf("model table not updated: %+v", m)
	}
	if p.Breaker().State() != resilience.StateClosed {
		t.Error("token limit must not count toward the breaker")
	}
}

func TestExecuteStepRejection(t *testing.T) {
	adapter := successAdapter("never reached")
	p := testPipeline(adapter)
	p.models.Blacklist("m", "taken out of service")

	res := p.Execute(context.Background(), testRequest())
	if res.Classification != core.ClassBadRequest {
		t.Fatalf("classification = %s", res.Classification)
	}
	if adapter.invocations() != 0 {
		t.Error("blacklisted model must not reach the adapter")
	}
}

func TestTokenGuardStep(t *testing.T) {
	models := providers.NewModelTable([]providers.Model{{ID: "m", DeclaredMaxTokens: 1000}})
	step := &TokenGuardStep{Models: models, Model: "m"}

	small := &core.ChatRequest{Messages: []core.Message{{Role: "user", Content: "hi"}}}
	if _, err := step.Apply(context.Background(), nil, small); err != nil {
		t.Fatalf("small request rejected: %v", err)
	}

	huge := &core.ChatRequest{Messages: []core.Message{
		{Role: "user", Content: string(make([]byte, 1000*4+100))},
	}}
	_, err := step.Apply(context.Background(), nil, huge)
	if !errors.Is(err, core.ErrTokenLimitExceeded) {
		t.Fatalf("err = %v, want ErrTokenLimitExceeded", err)
	}

	// Detected limits take precedence over declared ones
	models.SetDetectedLimit("m", 10000, providers.VerificationVerified)
	if _, err := step.Apply(context.Background(), nil, huge); err != nil {
		t.Errorf("raised detected limit should admit the request: %v", err)
	}
}

func TestModelRewriteStep(t *testing.T) {
	step := &ModelRewriteStep{NativeModel: "gpt-4o"}
	req := &core.ChatRequest{Model: "fast", Messages: []core.Message{{Role: "user", Content: "x"}}}

	out, err := step.Apply(context.Background(), nil, req)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Model != "gpt-4o" {
		t.Errorf("rewritten model = %q", out.Model)
	}
	if req.Model != "fast" {
		t.Error("input request must not be mutated")
	}
}
