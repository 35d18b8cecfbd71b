// Package config defines the gateway's configuration data model and loader.
//
// Configuration follows a three-layer priority:
//  1. Default values (lowest priority)
//  2. Configuration file (YAML or JSON)
//  3. Environment variables (highest priority)
//
// Credential entries may be inline secrets or filesystem references; see
// credentials.go for the resolution rules.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Protocol identifies a provider's wire protocol variant
type Protocol string

const (
	ProtocolOpenAI    Protocol = "openai"
	ProtocolAnthropic Protocol = "anthropic"
	ProtocolGemini    Protocol = "gemini"
)

// Strategy names the load-balancing policy of a pipeline pool or
// credential rotation
type Strategy string

const (
	StrategyRoundRobin  Strategy = "round-robin"
	StrategyWeighted    Strategy = "weighted"
	StrategyLeastLoaded Strategy = "least-loaded"
	StrategyFailover    Strategy = "failover"
)

// Config is the root configuration consumed by the gateway core
type Config struct {
	Server        ServerConfig         `yaml:"server" json:"server"`
	Providers     []ProviderConfig     `yaml:"providers" json:"providers"`
	VirtualModels []VirtualModelConfig `yaml:"virtualModels" json:"virtualModels"`
	Trace         TraceConfig          `yaml:"trace" json:"trace"`
	Prober        ProberConfig         `yaml:"prober" json:"prober"`

	// warnings collects non-fatal diagnostics from Normalize
	warnings []string
}

// ServerConfig configures the northbound HTTP listener
type ServerConfig struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port"`
	AuthToken       string        `yaml:"auth_token" json:"auth_token"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// ProviderConfig declares one upstream provider
type ProviderConfig struct {
	ID       string            `yaml:"id" json:"id"`
	Protocol Protocol          `yaml:"protocol" json:"protocol"`
	BaseURL  string            `yaml:"base_url" json:"base_url"`
	Headers  map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// APIKey accepts a single string or a list; entries that look like
	// filesystem paths are read at load time.
	APIKey CredentialList `yaml:"api_key" json:"api_key"`

	// CredentialPolicy selects how keys rotate: round-robin (default),
	// weighted, or failover.
	CredentialPolicy Strategy           `yaml:"credential_policy,omitempty" json:"credential_policy,omitempty"`
	Credentials      []CredentialConfig `yaml:"credentials,omitempty" json:"credentials,omitempty"`

	Models []ModelConfig `yaml:"models" json:"models"`
}

// CredentialConfig declares one named credential slot with a weight.
// Inline api_key entries become anonymous weight-1 slots.
type CredentialConfig struct {
	Name   string `yaml:"name" json:"name"`
	Secret string `yaml:"secret" json:"secret"`
	Weight int    `yaml:"weight,omitempty" json:"weight,omitempty"`
	// RPM and RPD bound requests per minute and per day; zero means
	// unlimited.
	RPM int `yaml:"rpm,omitempty" json:"rpm,omitempty"`
	RPD int `yaml:"rpd,omitempty" json:"rpd,omitempty"`
}

// ModelConfig declares one provider-native model
type ModelConfig struct {
	ID             string `yaml:"id" json:"id"`
	MaxInputTokens int    `yaml:"max_input_tokens,omitempty" json:"max_input_tokens,omitempty"`
	Blacklisted    bool   `yaml:"blacklisted,omitempty" json:"blacklisted,omitempty"`
	BlacklistedFor string `yaml:"blacklist_reason,omitempty" json:"blacklist_reason,omitempty"`
}

// VirtualModelConfig declares one client-facing routing alias
type VirtualModelConfig struct {
	ID           string         `yaml:"id" json:"id"`
	Enabled      *bool          `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Capabilities []string       `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	Strategy     Strategy       `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	Retry        RetryConfig    `yaml:"retry,omitempty" json:"retry,omitempty"`
	MaxInFlight  int            `yaml:"max_in_flight,omitempty" json:"max_in_flight,omitempty"`
	WaitOnBusy   bool           `yaml:"wait_on_busy,omitempty" json:"wait_on_busy,omitempty"`
	Targets      []TargetConfig `yaml:"targets" json:"targets"`
}

// IsEnabled reports whether the virtual model accepts traffic.
// An absent flag means enabled.
func (v *VirtualModelConfig) IsEnabled() bool {
	return v.Enabled == nil || *v.Enabled
}

// TargetConfig references one (provider, model, credential) triple
type TargetConfig struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	// Credential selects a named slot; empty means any active slot.
	Credential string `yaml:"credential,omitempty" json:"credential,omitempty"`
	Weight     int    `yaml:"weight,omitempty" json:"weight,omitempty"`
	Enabled    *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled reports whether the target participates in routing
func (t *TargetConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// RetryConfig configures the scheduler's retry policy
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	BaseDelay     time.Duration `yaml:"base_delay,omitempty" json:"base_delay,omitempty"`
	MaxDelay      time.Duration `yaml:"max_delay,omitempty" json:"max_delay,omitempty"`
	BackoffFactor float64       `yaml:"backoff_factor,omitempty" json:"backoff_factor,omitempty"`
}

// TraceConfig selects the trace store backend
type TraceConfig struct {
	// Backend: "memory" (default), "file", or "redis"
	Backend  string `yaml:"backend,omitempty" json:"backend,omitempty"`
	FilePath string `yaml:"file_path,omitempty" json:"file_path,omitempty"`
	RedisURL string `yaml:"redis_url,omitempty" json:"redis_url,omitempty"`
	// Retention bounds how long closed records are kept (redis backend)
	Retention time.Duration `yaml:"retention,omitempty" json:"retention,omitempty"`
}

// ProberConfig configures the token-limit prober
type ProberConfig struct {
	Enabled  bool          `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Ceiling  int           `yaml:"ceiling,omitempty" json:"ceiling,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty" json:"interval,omitempty"`
	// SkipProviders lists provider families whose error messages are known
	// to be unreliable for limit inference.
	SkipProviders []string `yaml:"skip_providers,omitempty" json:"skip_providers,omitempty"`
}

// Default values applied before file and environment layers
const (
	DefaultPort            = 3456
	DefaultReadTimeout     = 5 * time.Minute
	DefaultWriteTimeout    = 10 * time.Minute
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxAttempts     = 3
	DefaultBaseDelay       = 500 * time.Millisecond
	DefaultMaxDelay        = 30 * time.Second
	DefaultBackoffFactor   = 2.0
	DefaultMaxInFlight     = 50
	DefaultProbeCeiling    = 524288
	DefaultProbeInterval   = time.Second
)

// Load reads, parses, normalizes, and validates a configuration file.
// YAML parsing accepts JSON input as well.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.applyEnvironment()

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Trace.Backend == "" {
		c.Trace.Backend = "memory"
	}
	if c.Prober.Ceiling == 0 {
		c.Prober.Ceiling = DefaultProbeCeiling
	}
	if c.Prober.Interval == 0 {
		c.Prober.Interval = DefaultProbeInterval
	}

	for i := range c.VirtualModels {
		vm := &c.VirtualModels[i]
		if vm.Strategy == "" {
			vm.Strategy = StrategyRoundRobin
		}
		if vm.MaxInFlight == 0 {
			vm.MaxInFlight = DefaultMaxInFlight
		}
		if vm.Retry.MaxAttempts == 0 {
			vm.Retry.MaxAttempts = DefaultMaxAttempts
		}
		if vm.Retry.BaseDelay == 0 {
			vm.Retry.BaseDelay = DefaultBaseDelay
		}
		if vm.Retry.MaxDelay == 0 {
			vm.Retry.MaxDelay = DefaultMaxDelay
		}
		if vm.Retry.BackoffFactor == 0 {
			vm.Retry.BackoffFactor = DefaultBackoffFactor
		}
	}

	for i := range c.Providers {
		p := &c.Providers[i]
		if p.CredentialPolicy == "" {
			p.CredentialPolicy = StrategyRoundRobin
		}
	}
}

func (c *Config) applyEnvironment() {
	if v := os.Getenv("RCC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port < 65536 {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("RCC_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("RCC_AUTH_TOKEN"); v != "" {
		c.Server.AuthToken = v
	}
	if v := os.Getenv("RCC_REDIS_URL"); v != "" {
		c.Trace.RedisURL = v
		c.Trace.Backend = "redis"
	}
}

// Validate checks structural invariants the assembler relies on
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.ID == "" {
			return fmt.Errorf("provider at index %d: %w: id is required", i, errInvalid())
		}
		if seen[p.ID] {
			return fmt.Errorf("provider %q: %w: duplicate provider id", p.ID, errInvalid())
		}
		seen[p.ID] = true

		switch p.Protocol {
		case ProtocolOpenAI, ProtocolAnthropic, ProtocolGemini:
		default:
			return fmt.Errorf("provider %q: %w: unknown protocol %q", p.ID, errInvalid(), p.Protocol)
		}

		if !strings.HasPrefix(p.BaseURL, "http://") && !strings.HasPrefix(p.BaseURL, "https://") {
			return fmt.Errorf("provider %q: %w: base_url must be absolute HTTP(S)", p.ID, errInvalid())
		}
		if len(p.Credentials) == 0 {
			return fmt.Errorf("provider %q: %w: at least one credential is required", p.ID, errInvalid())
		}
	}

	if len(c.VirtualModels) == 0 {
		return fmt.Errorf("%w: at least one virtual model is required", errInvalid())
	}
	vmSeen := make(map[string]bool)
	for i := range c.VirtualModels {
		vm := &c.VirtualModels[i]
		if vm.ID == "" {
			return fmt.Errorf("virtual model at index %d: %w: id is required", i, errInvalid())
		}
		if vmSeen[vm.ID] {
			return fmt.Errorf("virtual model %q: %w: duplicate id", vm.ID, errInvalid())
		}
		vmSeen[vm.ID] = true

		switch vm.Strategy {
		case StrategyRoundRobin, StrategyWeighted, StrategyLeastLoaded, StrategyFailover:
		default:
			return fmt.Errorf("virtual model %q: %w: unknown strategy %q", vm.ID, errInvalid(), vm.Strategy)
		}
	}

	return nil
}

// Provider returns the provider config with the given id
func (c *Config) Provider(id string) (*ProviderConfig, bool) {
	for i := range c.Providers {
		if c.Providers[i].ID == id {
			return &c.Providers[i], true
		}
	}
	return nil, false
}
