package pipeline

import (
	"strings"
	"testing"

	"github.com/routecc/rcc/config"

	_ "github.com/routecc/rcc/providers/anthropic"
	_ "github.com/routecc/rcc/providers/openai"
)

func assemblerConfig() *config.Config {
	enabled := false
	return &config.Config{
		Providers: []config.ProviderConfig{
			{
				ID:       "openai-main",
				Protocol: config.ProtocolOpenAI,
				BaseURL:  "https://api.openai.com/v1",
				Credentials: []config.CredentialConfig{
					{Name: "k1", Secret: "sk-1", Weight: 1},
				},
				Models: []config.ModelConfig{{ID: "gpt-4o", MaxInputTokens: 128000}},
			},
			{
				ID:       "anthropic-main",
				Protocol: config.ProtocolAnthropic,
				BaseURL:  "https://api.anthropic.com/v1",
				Credentials: []config.CredentialConfig{
					{Name: "k1", Secret: "sk-ant", Weight: 1},
				},
				Models: []config.ModelConfig{{ID: "claude-sonnet"}},
			},
		},
		VirtualModels: []config.VirtualModelConfig{
			{
				ID:       "smart",
				Strategy: config.StrategyRoundRobin,
				Targets: []config.TargetConfig{
					{Provider: "openai-main", Model: "gpt-4o"},
					{Provider: "anthropic-main", Model: "claude-sonnet"},
				},
			},
			{
				ID:       "broken",
				Strategy: config.StrategyRoundRobin,
				Targets: []config.TargetConfig{
					{Provider: "no-such-provider", Model: "m"},
					{Provider: "openai-main", Model: "no-such-model"},
				},
			},
			{
				ID:       "disabled",
				Enabled:  &enabled,
				Strategy: config.StrategyRoundRobin,
				Targets: []config.TargetConfig{
					{Provider: "openai-main", Model: "gpt-4o"},
				},
			},
		},
	}
}

func TestAssemble(t *testing.T) {
	asm, err := NewAssembler(nil, nil).Assemble(assemblerConfig())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	if !asm.Success {
		t.Fatal("assembly with one good pool should succeed")
	}

	pool, ok := asm.Pools["smart"]
	if !ok {
		t.Fatal("pool smart missing")
	}
	if len(pool.Pipelines) != 2 {
		t.Fatalf("pipelines = %d, want 2", len(pool.Pipelines))
	}
	if pool.Pipelines[0].ID != "smart/openai-main/gpt-4o" {
		t.Errorf("pipeline id = %s", pool.Pipelines[0].ID)
	}

	if _, ok := asm.Pools["broken"]; ok {
		t.Error("pool with zero usable targets must be dropped")
	}
	if _, ok := asm.Pools["disabled"]; ok {
		t.Error("disabled virtual model must not produce a pool")
	}

	// Diagnostics name every skipped target
	joined := strings.Join(asm.Diagnostics, "\n")
	for _, want := range []string{"no-such-provider", "no-such-model", "disabled"} {
		if !strings.Contains(joined, want) {
			t.Errorf("diagnostics missing %q:\n%s", want, joined)
		}
	}

	if len(asm.Adapters) != 2 || len(asm.Rotators) != 2 {
		t.Errorf("adapters = %d rotators = %d, want 2 each", len(asm.Adapters), len(asm.Rotators))
	}
	table := asm.ModelTables["openai-main"]
	m, _ := table.Get("gpt-4o")
	if m.DeclaredMaxTokens != 128000 {
		t.Errorf("declared limit not carried into model table: %+v", m)
	}
}

func TestAssembleDeterministicOrder(t *testing.T) {
	first, err := NewAssembler(nil, nil).Assemble(assemblerConfig())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	second, err := NewAssembler(nil, nil).Assemble(assemblerConfig())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	a := first.Pools["smart"].Pipelines
	b := second.Pools["smart"].Pipelines
	if len(a) != len(b) {
		t.Fatalf("pipeline counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Errorf("order differs at %d: %s vs %s", i, a[i].ID, b[i].ID)
		}
	}
}

func TestAssembleNoUsablePools(t *testing.T) {
	cfg := &config.Config{
		Providers: []config.ProviderConfig{},
		VirtualModels: []config.VirtualModelConfig{
			{ID: "vm", Strategy: config.StrategyRoundRobin,
				Targets: []config.TargetConfig{{Provider: "ghost", Model: "m"}}},
		},
	}

	asm, err := NewAssembler(nil, nil).Assemble(cfg)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if asm.Success {
		t.Error("assembly with no pipelines must not report success")
	}
	if len(asm.Diagnostics) == 0 {
		t.Error("expected diagnostics explaining the failure")
	}
}

func TestAssembleDisabledTargetSkipped(t *testing.T) {
	cfg := assemblerConfig()
	disabled := false
	cfg.VirtualModels[0].Targets[1].Enabled = &disabled

	asm, err := NewAssembler(nil, nil).Assemble(cfg)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if got := len(asm.Pools["smart"].Pipelines); got != 1 {
		t.Errorf("pipelines = %d, want 1 after disabling a target", got)
	}
}
