package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/routecc/rcc/config"
	"github.com/routecc/rcc/core"
)

// latencySampleCap bounds the per-model latency reservoir used for
// percentile estimates
const latencySampleCap = 2048

// Metrics is the aggregated view of one virtual model's traffic
type Metrics struct {
	VirtualModel string                        `json:"virtual_model"`
	Total        int64                         `json:"total"`
	ByOutcome    map[core.Classification]int64 `json:"by_outcome"`
	SuccessRatio float64                       `json:"success_ratio"`
	P50Ms        int64                         `json:"p50_ms"`
	P95Ms        int64                         `json:"p95_ms"`
	P99Ms        int64                         `json:"p99_ms"`
}

// modelStats accumulates counters for one virtual model
type modelStats struct {
	total     int64
	byOutcome map[core.Classification]int64
	latencies []time.Duration
	next      int
}

// Tracker appends closed trace records to a store and keeps running
// aggregates for the status surface. Store failures are logged and never
// propagate to the request path.
type Tracker struct {
	store  TraceStore
	logger core.Logger

	mu    sync.Mutex
	stats map[string]*modelStats
}

// NewTracker wraps a trace store
func NewTracker(store TraceStore, logger core.Logger) *Tracker {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Tracker{
		store:  store,
		logger: logger,
		stats:  make(map[string]*modelStats),
	}
}

// NewStore builds the configured trace store backend
func NewStore(cfg config.TraceConfig, logger core.Logger) (TraceStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(DefaultMemoryCapacity), nil
	case "file":
		return NewFileStore(cfg.FilePath)
	case "redis":
		return NewRedisStore(cfg.RedisURL, cfg.Retention)
	default:
		return nil, &core.GatewayError{
			Op:      "telemetry.NewStore",
			Kind:    "configuration",
			Message: "unknown trace backend " + cfg.Backend,
			Err:     core.ErrInvalidConfiguration,
		}
	}
}

// Record closes one trace record: persists it and folds it into the
// aggregates
func (t *Tracker) Record(ctx context.Context, record *TraceRecord) {
	if record.CompletedAt.IsZero() {
		record.CompletedAt = time.Now()
	}

	if err := t.store.Append(ctx, record); err != nil {
		t.logger.Warn("Failed to persist trace record", map[string]interface{}{
			"operation":  "trace_append",
			"request_id": record.RequestID,
			"error":      err.Error(),
		})
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.stats[record.VirtualModel]
	if !ok {
		s = &modelStats{byOutcome: make(map[core.Classification]int64)}
		t.stats[record.VirtualModel] = s
	}
	s.total++
	s.byOutcome[record.Final]++
	if len(s.latencies) < latencySampleCap {
		s.latencies = append(s.latencies, record.Duration())
	} else {
		s.latencies[s.next] = record.Duration()
		s.next = (s.next + 1) % latencySampleCap
	}
}

// Recent returns the newest trace records
func (t *Tracker) Recent(ctx context.Context, n int) ([]*TraceRecord, error) {
	return t.store.Recent(ctx, n)
}

// Metrics returns aggregates per virtual model, sorted by model id
func (t *Tracker) Metrics() []Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Metrics, 0, len(t.stats))
	for vm, s := range t.stats {
		m := Metrics{
			VirtualModel: vm,
			Total:        s.total,
			ByOutcome:    make(map[core.Classification]int64, len(s.byOutcome)),
		}
		for k, v := range s.byOutcome {
			m.ByOutcome[k] = v
		}
		if s.total > 0 {
			m.SuccessRatio = float64(s.byOutcome[core.ClassSuccess]) / float64(s.total)
		}
		m.P50Ms, m.P95Ms, m.P99Ms = percentiles(s.latencies)
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VirtualModel < out[j].VirtualModel })
	return out
}

// Close releases the underlying store
func (t *Tracker) Close() error {
	return t.store.Close()
}

// percentiles computes p50/p95/p99 in milliseconds over a sample
func percentiles(samples []time.Duration) (p50, p95, p99 int64) {
	if len(samples) == 0 {
		return 0, 0, 0
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	at := func(q float64) int64 {
		idx := int(q * float64(len(sorted)-1))
		return sorted[idx].Milliseconds()
	}
	return at(0.50), at(0.95), at(0.99)
}
