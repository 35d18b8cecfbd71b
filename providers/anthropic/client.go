// Package anthropic implements the provider adapter for the native
// Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/routecc/rcc/core"
	"github.com/routecc/rcc/providers"
)

const (
	// DefaultBaseURL is the default Anthropic API endpoint
	DefaultBaseURL = "https://api.anthropic.com/v1"
	// APIVersion is the required Anthropic API version header
	APIVersion = "2023-06-01"
	// DefaultTimeout for message generation
	DefaultTimeout = 120 * time.Second
	// defaultMaxTokens satisfies the API's required max_tokens field when
	// the caller left it unset
	defaultMaxTokens = 1024
)

// Adapter implements providers.Adapter for Anthropic
type Adapter struct {
	*providers.BaseAdapter
}

// NewAdapter creates an Anthropic adapter for one provider
func NewAdapter(providerID, baseURL string, headers map[string]string, logger core.Logger) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base := providers.NewBaseAdapter(providerID, baseURL, DefaultTimeout, logger)
	base.Headers = headers
	return &Adapter{BaseAdapter: base}
}

// Name returns the configured provider id
func (a *Adapter) Name() string {
	return a.ProviderID
}

// Protocol returns the wire protocol variant
func (a *Adapter) Protocol() string {
	return "anthropic"
}

// Prepare translates a normalized request into the Messages API wire format
func (a *Adapter) Prepare(req *core.ChatRequest, secret, model string) (*providers.WireRequest, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: request has no messages", core.ErrBadRequest)
	}

	messages := make([]chatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		// The Messages API only accepts user/assistant turns; system
		// content travels in the top-level field
		if m.Role == "system" {
			return nil, fmt.Errorf("%w: system role must use the system field", core.ErrBadRequest)
		}
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	body := messagesRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		System:      req.System,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("x-api-key", secret)
	header.Set("anthropic-version", APIVersion)

	return &providers.WireRequest{
		Method: http.MethodPost,
		URL:    a.BaseURL + "/messages",
		Header: header,
		Body:   data,
	}, nil
}

// Invoke performs one upstream call
func (a *Adapter) Invoke(ctx context.Context, wire *providers.WireRequest) (*providers.WireResponse, core.Classification, error) {
	ctx, span := a.StartSpan(ctx, "provider.invoke")
	defer span.End()
	span.SetAttribute("provider.id", a.ProviderID)
	span.SetAttribute("provider.protocol", "anthropic")

	resp, classification, err := a.Do(ctx, wire)
	if err != nil {
		span.RecordError(err)
	}
	span.SetAttribute("provider.classification", string(classification))
	return resp, classification, err
}

// Normalize folds a Messages API response into the canonical shape
func (a *Adapter) Normalize(wire *providers.WireResponse) (*core.ChatResponse, error) {
	var parsed messagesResponse
	if err := json.Unmarshal(wire.Body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedResponse, err)
	}
	if len(parsed.Content) == 0 {
		return nil, fmt.Errorf("%w: no content blocks returned", core.ErrMalformedResponse)
	}

	var text, thinking strings.Builder
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "thinking":
			thinking.WriteString(block.Thinking)
		}
	}

	content := text.String()
	if content == "" && thinking.Len() > 0 {
		content = thinking.String()
	}

	return &core.ChatResponse{
		ID:               parsed.ID,
		Model:            parsed.Model,
		Content:          content,
		ReasoningContent: thinking.String(),
		FinishReason:     parsed.StopReason,
		Provider:         a.ProviderID,
		Usage: core.TokenUsage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
	}, nil
}

// NormalizeStream is not implemented for this protocol; the pipeline
// buffers instead
func (a *Adapter) NormalizeStream(ctx context.Context, wire *providers.WireResponse, callback core.StreamCallback) (*core.ChatResponse, error) {
	return nil, core.ErrUnsupported
}

// SupportsStreaming reports that this adapter buffers responses
func (a *Adapter) SupportsStreaming() bool {
	return false
}

// DetectCapabilities lists available models via GET /models
func (a *Adapter) DetectCapabilities(ctx context.Context, secret string) ([]string, error) {
	header := http.Header{}
	header.Set("x-api-key", secret)
	header.Set("anthropic-version", APIVersion)

	wire := &providers.WireRequest{
		Method: http.MethodGet,
		URL:    a.BaseURL + "/models",
		Header: header,
	}

	resp, classification, err := a.Do(ctx, wire)
	if err != nil {
		if classification == core.ClassBadRequest && resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, core.ErrUnsupported
		}
		return nil, err
	}

	var parsed modelsResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedResponse, err)
	}

	ids := make([]string, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}
