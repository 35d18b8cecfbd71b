package core

// Classification is the categorical outcome of one provider adapter
// invocation. The scheduler's retry and circuit-breaker decisions are
// driven entirely by this value, never by provider-specific error text.
type Classification string

const (
	ClassSuccess      Classification = "success"
	ClassAuthFailure  Classification = "auth_failure"
	ClassRateLimited  Classification = "rate_limited"
	ClassTokenLimit   Classification = "token_limit_exceeded"
	ClassServerError  Classification = "server_error"
	ClassNetworkError Classification = "network_error"
	ClassTimeout      Classification = "timeout"
	ClassMalformed    Classification = "malformed"
	ClassBadRequest   Classification = "bad_request"
	ClassCancelled    Classification = "cancelled"
)

// Retryable reports whether the scheduler may re-attempt the request on a
// different pipeline after this outcome.
func (c Classification) Retryable() bool {
	switch c {
	case ClassRateLimited, ClassServerError, ClassNetworkError, ClassTimeout:
		return true
	default:
		return false
	}
}

// CountsTowardBreaker reports whether this outcome contributes to opening a
// pipeline's circuit breaker. Token-limit and malformed outcomes are request-
// or model-specific, not pipeline-level faults, so they never count.
func (c Classification) CountsTowardBreaker() bool {
	switch c {
	case ClassAuthFailure, ClassServerError, ClassNetworkError, ClassTimeout:
		return true
	default:
		return false
	}
}

// Message is one turn of a normalized conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the gateway's canonical request shape. Inbound OpenAI- and
// Anthropic-shaped bodies are normalized into this before routing.
type ChatRequest struct {
	// Model carries the virtual model id on the northbound side and the
	// provider-native model id after target resolution.
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float32   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// TokenUsage reports token consumption for one response
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the gateway's canonical response shape
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content string `json:"content"`
	// ReasoningContent holds provider-specific reasoning output so that
	// non-empty semantic output is never silently dropped.
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	FinishReason     string     `json:"finish_reason,omitempty"`
	Provider         string     `json:"provider,omitempty"`
	Usage            TokenUsage `json:"usage"`
}

// StreamChunk is one delta of a streamed response
type StreamChunk struct {
	Content      string      `json:"content"`
	Delta        bool        `json:"delta"`
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Model        string      `json:"model,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// StreamCallback receives streamed chunks. Returning a non-nil error stops
// the stream.
type StreamCallback func(chunk StreamChunk) error
