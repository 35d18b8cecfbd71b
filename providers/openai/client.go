// Package openai implements the provider adapter for OpenAI-compatible
// upstream APIs. The iFlow, Qwen, and LM Studio families all speak this
// protocol and ride the same adapter with family-specific base URLs.
package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/routecc/rcc/core"
	"github.com/routecc/rcc/providers"
)

const (
	// DefaultBaseURL is the default OpenAI API endpoint
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultTimeout allows for slow reasoning models
	DefaultTimeout = 180 * time.Second
)

// Adapter implements providers.Adapter for OpenAI-compatible APIs
type Adapter struct {
	*providers.BaseAdapter
}

// NewAdapter creates an OpenAI-compatible adapter for one provider
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
	return "openai"
}

// Prepare translates a normalized request into the chat completions wire
// format
func (a *Adapter) Prepare(req *core.ChatRequest, secret, model string) (*providers.WireRequest, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: request has no messages", core.ErrBadRequest)
	}

	messages := make([]chatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	body := chatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      req.Stream,
	}
	if req.Stream {
		body.StreamOptions = &streamOpts{IncludeUsage: true}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Authorization", "Bearer "+secret)
	if req.Stream {
		header.Set("Accept", "text/event-stream")
	}

	return &providers.WireRequest{
		Method: http.MethodPost,
		URL:    a.BaseURL + "/chat/completions",
		Header: header,
		Body:   data,
		Stream: req.Stream,
	}, nil
}

// Invoke performs one upstream call
func (a *Adapter) Invoke(ctx context.Context, wire *providers.WireRequest) (*providers.WireResponse, core.Classification, error) {
	ctx, span := a.StartSpan(ctx, "provider.invoke")
	defer span.End()
	span.SetAttribute("provider.id", a.ProviderID)
	span.SetAttribute("provider.protocol", "openai")

	resp, classification, err := a.Do(ctx, wire)
	if err != nil {
		span.RecordError(err)
	}
	span.SetAttribute("provider.classification", string(classification))
	return resp, classification, err
}

// Normalize folds a buffered response into the canonical shape
func (a *Adapter) Normalize(wire *providers.WireResponse) (*core.ChatResponse, error) {
	var parsed chatResponse
	if err := json.Unmarshal(wire.Body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedResponse, err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", core.ErrMalformedResponse)
	}

	msg := parsed.Choices[0].Message
	content := msg.Content
	if content == "" && msg.ReasoningContent != "" {
		content = msg.ReasoningContent
	}

	return &core.ChatResponse{
		ID:               parsed.ID,
		Model:            parsed.Model,
		Content:          content,
		ReasoningContent: msg.ReasoningContent,
		FinishReason:     parsed.Choices[0].FinishReason,
		Provider:         a.ProviderID,
		Usage: core.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

// NormalizeStream consumes an SSE response, emitting chunks through the
// callback and returning the assembled response
func (a *Adapter) NormalizeStream(ctx context.Context, wire *providers.WireResponse, callback core.StreamCallback) (*core.ChatResponse, error) {
	if wire.Stream == nil {
		return nil, fmt.Errorf("%w: response is not a stream", core.ErrMalformedResponse)
	}
	defer func() {
		_ = wire.Stream.Close()
	}()

	reader := bufio.NewReader(wire.Stream)
	var fullContent strings.Builder
	var model string
	var totals core.TokenUsage
	chunkIndex := 0
	var finishReason string

	partial := func() *core.ChatResponse {
		return &core.ChatResponse{
			Model:    model,
			Content:  fullContent.String(),
			Provider: a.ProviderID,
			Usage:    totals,
		}
	}

	for {
		select {
		case <-ctx.Done():
			if fullContent.Len() > 0 {
				return partial(), core.ErrStreamPartiallyCompleted
			}
			return nil, ctx.Err()
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if fullContent.Len() > 0 {
				return partial(), core.ErrStreamPartiallyCompleted
			}
			return nil, fmt.Errorf("error reading stream: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if line == "data: [DONE]" {
			break
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var chunk streamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Some providers emit malformed keep-alive chunks; skip them
			a.Logger.Debug("Failed to parse stream chunk", map[string]interface{}{
				"operation": "stream_parse",
				"provider":  a.ProviderID,
				"error":     err.Error(),
			})
			continue
		}

		if model == "" && chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			totals = core.TokenUsage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}

		for _, c := range chunk.Choices {
			deltaContent := c.Delta.Content
			if deltaContent == "" && c.Delta.ReasoningContent != "" {
				deltaContent = c.Delta.ReasoningContent
			}

			if deltaContent != "" {
				fullContent.WriteString(deltaContent)

				out := core.StreamChunk{
					Content: deltaContent,
					Delta:   true,
					Index:   chunkIndex,
					Model:   model,
				}
				chunkIndex++

				if err := callback(out); err != nil {
					// Callback requested stop; return what we have
					return partial(), nil
				}
			}

			if c.FinishReason != "" {
				finishReason = c.FinishReason
			}
		}
	}

	if finishReason != "" {
		final := core.StreamChunk{
			Delta:        false,
			Index:        chunkIndex,
			FinishReason: finishReason,
			Model:        model,
			Usage:        &totals,
		}
		_ = callback(final)
	}

	result := partial()
	result.FinishReason = finishReason
	return result, nil
}

// SupportsStreaming returns true as the protocol supports native SSE
func (a *Adapter) SupportsStreaming() bool {
	return true
}

// DetectCapabilities lists available models via GET /models
func (a *Adapter) DetectCapabilities(ctx context.Context, secret string) ([]string, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+secret)

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
