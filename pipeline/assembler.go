package pipeline

import (
	"fmt"

	"github.com/routecc/rcc/config"
	"github.com/routecc/rcc/core"
	"github.com/routecc/rcc/credential"
	"github.com/routecc/rcc/providers"
)

// Pool groups the pipelines of one virtual model together with its
// scheduling policy
type Pool struct {
	VirtualModel string
	Strategy     config.Strategy
	Retry        config.RetryConfig
	MaxInFlight  int
	WaitOnBusy   bool
	Pipelines    []*Pipeline
}

// Assembly is the result of turning configuration into runnable pools.
// Success is true when at least one pool has at least one pipeline; a
// degraded assembly still reports every skipped target in Diagnostics.
type Assembly struct {
	Pools       map[string]*Pool
	Adapters    map[string]providers.Adapter
	Rotators    map[string]*credential.Rotator
	ModelTables map[string]*providers.ModelTable
	Diagnostics []string
	Success     bool
}

// Assembler turns validated configuration into pipeline pools
type Assembler struct {
	logger    core.Logger
	telemetry core.Telemetry
}

// NewAssembler creates an assembler
func NewAssembler(logger core.Logger, telemetry core.Telemetry) *Assembler {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Assembler{logger: logger, telemetry: telemetry}
}

// Assemble builds adapters, rotators, model tables, and pools from
// configuration. It is deterministic: the same config always yields pools
// with pipelines in the same order.
func (a *Assembler) Assemble(cfg *config.Config) (*Assembly, error) {
	asm := &Assembly{
		Pools:       make(map[string]*Pool),
		Adapters:    make(map[string]providers.Adapter),
		Rotators:    make(map[string]*credential.Rotator),
		ModelTables: make(map[string]*providers.ModelTable),
		Diagnostics: append([]string(nil), cfg.Warnings()...),
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]

		factory, ok := providers.GetFactory(string(p.Protocol))
		if !ok {
			asm.Diagnostics = append(asm.Diagnostics,
				fmt.Sprintf("provider %q: no factory for protocol %q", p.ID, p.Protocol))
			continue
		}
		adapter, err := factory.Create(p, a.logger, a.telemetry)
		if err != nil {
			asm.Diagnostics = append(asm.Diagnostics,
				fmt.Sprintf("provider %q: adapter creation failed: %v", p.ID, err))
			continue
		}
		asm.Adapters[p.ID] = adapter
		rotator := credential.NewRotator(p.ID, p.CredentialPolicy, p.Credentials, a.logger)
		rotator.SetTelemetry(a.telemetry)
		asm.Rotators[p.ID] = rotator
		asm.ModelTables[p.ID] = buildModelTable(p)
	}

	for i := range cfg.VirtualModels {
		vm := &cfg.VirtualModels[i]
		if !vm.IsEnabled() {
			asm.Diagnostics = append(asm.Diagnostics,
				fmt.Sprintf("virtual model %q: disabled", vm.ID))
			continue
		}

		pool := &Pool{
			VirtualModel: vm.ID,
			Strategy:     vm.Strategy,
			Retry:        vm.Retry,
			MaxInFlight:  vm.MaxInFlight,
			WaitOnBusy:   vm.WaitOnBusy,
		}

		for j := range vm.Targets {
			t := &vm.Targets[j]
			if !t.IsEnabled() {
				continue
			}
			p, err := a.buildPipeline(asm, vm, t)
			if err != nil {
				asm.Diagnostics = append(asm.Diagnostics,
					fmt.Sprintf("virtual model %q target %d: %v", vm.ID, j, err))
				continue
			}
			pool.Pipelines = append(pool.Pipelines, p)
		}

		if len(pool.Pipelines) == 0 {
			asm.Diagnostics = append(asm.Diagnostics,
				fmt.Sprintf("virtual model %q: no usable targets", vm.ID))
			continue
		}
		asm.Pools[vm.ID] = pool
	}

	for id, pool := range asm.Pools {
		if len(pool.Pipelines) > 0 {
			asm.Success = true
		}
		a.logger.Info("Pool assembled", map[string]interface{}{
			"operation":     "assemble",
			"virtual_model": id,
			"pipelines":     len(pool.Pipelines),
			"strategy":      string(pool.Strategy),
		})
	}

	if !asm.Success {
		a.logger.Error("Assembly produced no usable pools", map[string]interface{}{
			"operation":   "assemble",
			"diagnostics": len(asm.Diagnostics),
		})
	}
	return asm, nil
}

func (a *Assembler) buildPipeline(asm *Assembly, vm *config.VirtualModelConfig, t *config.TargetConfig) (*Pipeline, error) {
	adapter, ok := asm.Adapters[t.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", t.Provider)
	}
	rotator := asm.Rotators[t.Provider]
	models := asm.ModelTables[t.Provider]

	if _, ok := models.Get(t.Model); !ok {
		return nil, fmt.Errorf("provider %q does not declare model %q", t.Provider, t.Model)
	}

	steps := []Step{
		&BlacklistGuardStep{Models: models, Model: t.Model},
		&TokenGuardStep{Models: models, Model: t.Model},
		&ModelRewriteStep{NativeModel: t.Model},
	}

	id := fmt.Sprintf("%s/%s/%s", vm.ID, t.Provider, t.Model)
	return New(id, vm.ID, t.Provider, t.Model, t.Weight, steps,
		adapter, rotator, t.Credential, models), nil
}

// buildModelTable seeds a provider's model table from declared config
func buildModelTable(p *config.ProviderConfig) *providers.ModelTable {
	models := make([]providers.Model, 0, len(p.Models))
	for _, m := range p.Models {
		models = append(models, providers.Model{
			ID:                m.ID,
			DeclaredMaxTokens: m.MaxInputTokens,
			Blacklisted:       m.Blacklisted,
			BlacklistReason:   m.BlacklistedFor,
		})
	}
	return providers.NewModelTable(models)
}
