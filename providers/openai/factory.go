package openai

import (
	"github.com/routecc/rcc/config"
	"github.com/routecc/rcc/core"
	"github.com/routecc/rcc/providers"
)

func init() {
	providers.MustRegister(&Factory{})
}

// Factory creates OpenAI-compatible adapters
type Factory struct{}

// Protocol returns the wire protocol name
func (f *Factory) Protocol() string {
	return "openai"
}

// Description returns a human-readable description
func (f *Factory) Description() string {
	return "OpenAI-compatible chat completions API (OpenAI, iFlow, Qwen, LM Studio)"
}

// Create builds an adapter bound to one configured provider
func (f *Factory) Create(cfg *config.ProviderConfig, logger core.Logger, telemetry core.Telemetry) (providers.Adapter, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	adapter := NewAdapter(cfg.ID, cfg.BaseURL, cfg.Headers, logger)
	if telemetry != nil {
		adapter.Telemetry = telemetry
	}

	logger.Info("Provider adapter initialized", map[string]interface{}{
		"operation": "provider_init",
		"provider":  cfg.ID,
		"protocol":  "openai",
		"base_url":  adapter.BaseURL,
		"models":    len(cfg.Models),
	})

	return adapter, nil
}
