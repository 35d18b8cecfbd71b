// Package prober empirically discovers model context windows.
//
// Declared token limits in provider documentation are frequently stale.
// The prober sends minimal-content requests asking for max_tokens equal to
// each rung of a descending size ladder and reads the limit out of the
// provider's rejection, falling back to the largest rung the model
// accepts. Request bodies stay tiny; only the max_tokens parameter grows.
package prober

import (
	"context"
	"time"

	"github.com/routecc/rcc/config"
	"github.com/routecc/rcc/core"
	"github.com/routecc/rcc/credential"
	"github.com/routecc/rcc/providers"
)

// Ladder is the descending sequence of probe sizes in tokens
var Ladder = []int{524288, 262144, 131072, 65536, 32768, 16384, 8192, 4096}

// Prober walks provider models and records detected context windows in
// their model tables
type Prober struct {
	adapters map[string]providers.Adapter
	rotators map[string]*credential.Rotator
	tables   map[string]*providers.ModelTable

	ceiling  int
	interval time.Duration
	skip     map[string]bool

	logger core.Logger
}

// New builds a prober over assembled providers
func New(cfg config.ProberConfig, adapters map[string]providers.Adapter,
	rotators map[string]*credential.Rotator, tables map[string]*providers.ModelTable,
	logger core.Logger) *Prober {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	ceiling := cfg.Ceiling
	if ceiling <= 0 {
		ceiling = config.DefaultProbeCeiling
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = config.DefaultProbeInterval
	}

	skip := make(map[string]bool, len(cfg.SkipProviders))
	for _, id := range cfg.SkipProviders {
		skip[id] = true
	}

	return &Prober{
		adapters: adapters,
		rotators: rotators,
		tables:   tables,
		ceiling:  ceiling,
		interval: interval,
		skip:     skip,
		logger:   logger,
	}
}

// Run probes every unverified model of every eligible provider. Probes are
// spaced by the configured interval so providers never see a burst.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for providerID, table := range p.tables {
		if p.skipProvider(providerID) {
			p.logger.Info("Skipping provider with unreliable limit errors", map[string]interface{}{
				"operation": "probe",
				"provider":  providerID,
			})
			continue
		}

		for _, m := range table.List() {
			if m.Blacklisted || m.Verification == providers.VerificationVerified {
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
			p.probeModel(ctx, providerID, m.ID, ticker)
		}
	}
	return nil
}

// skipProvider checks the configured skip list and the provider host
// family. iFlow-hosted endpoints report limits in an error shape the
// extractor cannot trust, so they are always skipped.
func (p *Prober) skipProvider(providerID string) bool {
	if p.skip[providerID] {
		return true
	}
	adapter := p.adapters[providerID]
	if base, ok := adapter.(interface{ Host() string }); ok {
		return providers.IsIFlowHost(base.Host())
	}
	return false
}

// probeModel walks the ladder for one model, pacing each rung by the
// shared ticker
func (p *Prober) probeModel(ctx context.Context, providerID, modelID string, ticker *time.Ticker) {
	adapter := p.adapters[providerID]
	rotator := p.rotators[providerID]
	table := p.tables[providerID]

	first := true
	for _, size := range Ladder {
		if size > p.ceiling {
			continue
		}
		if !first {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
		first = false

		limit, classification, err := p.probeOnce(ctx, adapter, rotator, modelID, size)
		if err != nil && classification != core.ClassTokenLimit {
			p.logger.Warn("Probe attempt failed", map[string]interface{}{
				"operation": "probe",
				"provider":  providerID,
				"model":     modelID,
				"size":      size,
				"error":     err.Error(),
			})
			if !classification.Retryable() {
				table.SetDetectedLimit(modelID, 0, providers.VerificationFailed)
				return
			}
			continue
		}

		switch {
		case limit > 0:
			// The rejection named the real limit
			table.SetDetectedLimit(modelID, limit, providers.VerificationVerified)
			p.logger.Info("Detected model token limit", map[string]interface{}{
				"operation": "probe",
				"provider":  providerID,
				"model":     modelID,
				"limit":     limit,
			})
			return
		case classification == core.ClassSuccess:
			// The model swallowed this rung; its window is at least this
			// size
			table.SetDetectedLimit(modelID, size, providers.VerificationVerified)
			p.logger.Info("Model accepted probe size", map[string]interface{}{
				"operation": "probe",
				"provider":  providerID,
				"model":     modelID,
				"limit":     size,
			})
			return
		}
		// token_limit_exceeded without an extractable number: descend
	}

	table.SetDetectedLimit(modelID, 0, providers.VerificationFailed)
}

// probeOnce asks for size output tokens against a minimal prompt and
// interprets the outcome
func (p *Prober) probeOnce(ctx context.Context, adapter providers.Adapter,
	rotator *credential.Rotator, modelID string, size int) (int, core.Classification, error) {
	lease, err := rotator.Acquire(ctx, false)
	if err != nil {
		return 0, core.ClassAuthFailure, err
	}

	req := &core.ChatRequest{
		Model:     modelID,
		Messages:  []core.Message{{Role: "user", Content: "Reply with the single word ok."}},
		MaxTokens: size,
	}
	wire, err := adapter.Prepare(req, lease.Secret(), modelID)
	if err != nil {
		lease.Report(core.ClassBadRequest)
		return 0, core.ClassBadRequest, err
	}

	resp, classification, err := adapter.Invoke(ctx, wire)
	lease.Report(classification)

	if classification == core.ClassTokenLimit && resp != nil {
		return resp.TokenLimit, classification, err
	}
	return 0, classification, err
}
