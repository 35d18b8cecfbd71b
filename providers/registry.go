package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/routecc/rcc/config"
	"github.com/routecc/rcc/core"
)

// Factory builds adapters for one wire protocol. Protocol subpackages
// register a Factory from init().
type Factory interface {
	// Protocol returns the wire protocol this factory serves
	Protocol() string

	// Description returns a human-readable description
	Description() string

	// Create builds an adapter bound to one configured provider
	Create(cfg *config.ProviderConfig, logger core.Logger, telemetry core.Telemetry) (Adapter, error)
}

// factoryRegistry manages registered protocol factories
type factoryRegistry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

var registry = &factoryRegistry{
	factories: make(map[string]Factory),
}

// Register registers a protocol factory.
// Typically called from init() functions in protocol subpackages.
func Register(factory Factory) error {
	if factory == nil {
		return fmt.Errorf("factory cannot be nil")
	}

	protocol := factory.Protocol()
	if protocol == "" {
		return fmt.Errorf("factory.Protocol() cannot be empty")
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	if _, exists := registry.factories[protocol]; exists {
		return fmt.Errorf("protocol %q already registered", protocol)
	}

	registry.factories[protocol] = factory
	return nil
}

// MustRegister registers a factory and panics on error.
// Use this in init() functions where errors cannot be handled.
func MustRegister(factory Factory) {
	if err := Register(factory); err != nil {
		panic(fmt.Sprintf("failed to register provider factory: %v", err))
	}
}

// GetFactory retrieves a registered factory by protocol
func GetFactory(protocol string) (Factory, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	factory, exists := registry.factories[protocol]
	return factory, exists
}

// ListProtocols returns all registered protocol names, sorted
func ListProtocols() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	names := make([]string, 0, len(registry.factories))
	for name := range registry.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
