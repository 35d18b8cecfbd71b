package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/routecc/rcc/core"
	"github.com/routecc/rcc/credential"
	"github.com/routecc/rcc/pipeline"
	"github.com/routecc/rcc/telemetry"
)

// drainPollInterval is how often a drain waits between in-flight checks
const drainPollInterval = 50 * time.Millisecond

// Manager owns the registry of schedulers keyed by virtual model id and
// supports atomic pool replacement for configuration reloads.
type Manager struct {
	mu         sync.RWMutex
	schedulers map[string]*Scheduler
	rotators   map[string]*credential.Rotator

	tracker   *telemetry.Tracker
	logger    core.Logger
	telemetry core.Telemetry
}

// NewManager creates an empty manager
func NewManager(tracker *telemetry.Tracker, logger core.Logger, tel core.Telemetry) *Manager {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if tel == nil {
		tel = &core.NoOpTelemetry{}
	}
	return &Manager{
		schedulers: make(map[string]*Scheduler),
		rotators:   make(map[string]*credential.Rotator),
		tracker:    tracker,
		logger:     logger,
		telemetry:  tel,
	}
}

// InstallPools swaps in a new assembly. Old schedulers drain in the
// background; requests already executing on them run to completion while
// new requests route through the replacement pools.
func (m *Manager) InstallPools(asm *pipeline.Assembly) {
	next := make(map[string]*Scheduler, len(asm.Pools))
	for id, pool := range asm.Pools {
		s := NewScheduler(pool, m.tracker, m.logger, m.telemetry)
		s.Start()
		next[id] = s
	}

	m.mu.Lock()
	old := m.schedulers
	m.schedulers = next
	m.rotators = asm.Rotators
	m.mu.Unlock()

	for _, s := range old {
		go m.retire(s)
	}

	m.logger.Info("Pools installed", map[string]interface{}{
		"operation": "install_pools",
		"pools":     len(next),
		"replaced":  len(old),
	})
}

// retire drains one retired scheduler with a bounded wait
func (m *Manager) retire(s *Scheduler) {
	s.Drain()
	deadline := time.Now().Add(30 * time.Second)
	for s.InFlight() > 0 && time.Now().Before(deadline) {
		time.Sleep(drainPollInterval)
	}
	s.Stop()
	if n := s.InFlight(); n > 0 {
		m.logger.Warn("Retired pool still had in-flight requests at deadline", map[string]interface{}{
			"operation":     "retire_pool",
			"virtual_model": s.VirtualModel(),
			"in_flight":     n,
		})
	}
}

// Route executes a request against the virtual model named in the request
// context
func (m *Manager) Route(ctx context.Context, rc *core.RequestContext) (*core.ChatResponse, error) {
	m.mu.RLock()
	s, ok := m.schedulers[rc.VirtualModel]
	m.mu.RUnlock()

	if !ok {
		return nil, &core.GatewayError{
			Op:        "manager.Route",
			Kind:      "routing",
			RequestID: rc.RequestID,
			Message:   "virtual model " + rc.VirtualModel + " is not configured",
			Err:       core.ErrUnknownVirtualModel,
		}
	}
	return s.Execute(ctx, rc)
}

// ListVirtualModels returns the routable virtual model ids, sorted
func (m *Manager) ListVirtualModels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.schedulers))
	for id := range m.schedulers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PoolStatus is the status view of one virtual model's pool
type PoolStatus struct {
	VirtualModel string          `json:"virtual_model"`
	InFlight     int64           `json:"in_flight"`
	Pipelines    []pipeline.View `json:"pipelines"`
}

// ProviderStatus is the status view of one provider's credentials
type ProviderStatus struct {
	Provider    string                `json:"provider"`
	Credentials []credential.SlotView `json:"credentials"`
}

// Status returns the full routing status for the status endpoint
func (m *Manager) Status() ([]PoolStatus, []ProviderStatus) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pools := make([]PoolStatus, 0, len(m.schedulers))
	for id, s := range m.schedulers {
		pools = append(pools, PoolStatus{
			VirtualModel: id,
			InFlight:     s.InFlight(),
			Pipelines:    s.Snapshot(),
		})
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].VirtualModel < pools[j].VirtualModel })

	providers := make([]ProviderStatus, 0, len(m.rotators))
	for id, r := range m.rotators {
		providers = append(providers, ProviderStatus{
			Provider:    id,
			Credentials: r.Snapshot(),
		})
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i].Provider < providers[j].Provider })

	return pools, providers
}

// Shutdown drains every scheduler, bounded by the context deadline. It
// returns the number of requests still in flight when the deadline hit.
func (m *Manager) Shutdown(ctx context.Context) int {
	m.mu.Lock()
	schedulers := m.schedulers
	m.schedulers = make(map[string]*Scheduler)
	m.mu.Unlock()

	for _, s := range schedulers {
		s.Drain()
	}

	for {
		remaining := int64(0)
		for _, s := range schedulers {
			remaining += s.InFlight()
		}
		if remaining == 0 {
			break
		}
		select {
		case <-ctx.Done():
			for _, s := range schedulers {
				s.Stop()
			}
			m.logger.Warn("Shutdown deadline reached with requests in flight", map[string]interface{}{
				"operation": "shutdown",
				"in_flight": remaining,
			})
			return int(remaining)
		case <-time.After(drainPollInterval):
		}
	}

	for _, s := range schedulers {
		s.Stop()
	}
	m.logger.Info("All pools drained", map[string]interface{}{
		"operation": "shutdown",
	})
	return 0
}
