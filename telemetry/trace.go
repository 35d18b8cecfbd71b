// Package telemetry records request traces and aggregates routing metrics.
//
// Trace records are append-only: a record is built up during a request and
// appended to the configured store exactly once, when the request reaches
// its final outcome.
package telemetry

import (
	"context"
	"time"

	"github.com/routecc/rcc/core"
)

// Attempt is one adapter invocation within a request
type Attempt struct {
	PipelineID     string              `json:"pipeline_id"`
	Provider       string              `json:"provider"`
	Model          string              `json:"model"`
	Credential     string              `json:"credential,omitempty"`
	Classification core.Classification `json:"classification"`
	DurationMs     int64               `json:"duration_ms"`
	Error          string              `json:"error,omitempty"`
	At             time.Time           `json:"at"`
}

// TraceRecord is the complete history of one request through the gateway
type TraceRecord struct {
	RequestID    string              `json:"request_id"`
	VirtualModel string              `json:"virtual_model"`
	Stream       bool                `json:"stream,omitempty"`
	StartedAt    time.Time           `json:"started_at"`
	CompletedAt  time.Time           `json:"completed_at"`
	Final        core.Classification `json:"final"`
	Attempts     []Attempt           `json:"attempts"`
}

// Duration returns the request's total wall time
func (r *TraceRecord) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// TraceStore persists closed trace records
type TraceStore interface {
	// Append stores one closed record
	Append(ctx context.Context, record *TraceRecord) error

	// Recent returns up to n of the most recent records, newest first
	Recent(ctx context.Context, n int) ([]*TraceRecord, error)

	// Close releases store resources
	Close() error
}
