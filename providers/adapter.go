// Package providers defines the protocol-agnostic adapter contract and the
// shared HTTP machinery behind every upstream provider implementation.
//
// Each wire protocol (OpenAI-compatible, Anthropic, Gemini) lives in its own
// subpackage and registers a Factory via init(). The pipeline talks only to
// the Adapter interface: Prepare builds the wire request, Invoke performs
// exactly one upstream call and classifies the outcome, Normalize folds the
// provider response into the gateway's canonical shape.
package providers

import (
	"context"
	"io"
	"net/http"

	"github.com/routecc/rcc/core"
)

// WireRequest is a fully prepared upstream HTTP request
type WireRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	// Stream requests a server-sent-event response where the protocol
	// supports it
	Stream bool
}

// WireResponse is the raw upstream result of one Invoke call
type WireResponse struct {
	StatusCode int
	Body       []byte
	// Stream is non-nil when the upstream response is an SSE stream; the
	// caller owns closing it.
	Stream io.ReadCloser
	// TokenLimit carries the extracted context-window size when the
	// classification is token_limit_exceeded, zero otherwise.
	TokenLimit int
}

// Adapter is the uniform contract every provider implementation satisfies.
// Invoke never retries internally; retry policy belongs to the scheduler.
type Adapter interface {
	// Name returns the provider id this adapter was built for
	Name() string

	// Protocol returns the wire protocol variant ("openai", "anthropic",
	// "gemini")
	Protocol() string

	// Prepare translates a normalized request into the provider's wire
	// format. Fails with core.ErrBadRequest when the request cannot be
	// expressed in this protocol.
	Prepare(req *core.ChatRequest, secret, model string) (*WireRequest, error)

	// Invoke performs exactly one upstream HTTP call and classifies the
	// outcome. The returned error carries detail for logging; the
	// classification drives all scheduling decisions.
	Invoke(ctx context.Context, wire *WireRequest) (*WireResponse, core.Classification, error)

	// Normalize folds a buffered wire response into the canonical shape,
	// extracting both content and provider-specific fields such as
	// reasoning_content.
	Normalize(wire *WireResponse) (*core.ChatResponse, error)

	// NormalizeStream consumes a streaming wire response, emitting chunks
	// through the callback and returning the assembled response. Only
	// valid when SupportsStreaming reports true.
	NormalizeStream(ctx context.Context, wire *WireResponse, callback core.StreamCallback) (*core.ChatResponse, error)

	// SupportsStreaming reports whether Invoke can yield SSE responses.
	// Non-streaming adapters force the pipeline to buffer.
	SupportsStreaming() bool

	// DetectCapabilities lists the provider's available model ids. Returns
	// core.ErrUnsupported when the provider has no model-listing endpoint;
	// callers fall back to the declared model list.
	DetectCapabilities(ctx context.Context, secret string) ([]string, error)
}
