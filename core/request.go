package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewRequestID returns a fresh request id for trace correlation
func NewRequestID() string {
	return uuid.NewString()
}

// RequestContext carries one request from intake through final response.
// It lives exactly for one request and is never shared across requests.
type RequestContext struct {
	RequestID    string
	VirtualModel string
	Request      *ChatRequest
	Deadline     time.Time
	// Callback is non-nil when the caller asked for a streamed response
	Callback StreamCallback
	Span     Span

	mu       sync.Mutex
	attempts int
	tried    map[string]bool
}

// NewRequestContext creates a request context with a fresh request id
func NewRequestContext(virtualModel string, req *ChatRequest) *RequestContext {
	return &RequestContext{
		RequestID:    NewRequestID(),
		VirtualModel: virtualModel,
		Request:      req,
		tried:        make(map[string]bool),
	}
}

// Attempts returns the number of adapter invocations performed so far
func (rc *RequestContext) Attempts() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.attempts
}

// MarkTried records that a pipeline has been attempted for this request
func (rc *RequestContext) MarkTried(pipelineID string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.attempts++
	rc.tried[pipelineID] = true
}

// Tried reports whether a pipeline has already been attempted
func (rc *RequestContext) Tried(pipelineID string) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.tried[pipelineID]
}
