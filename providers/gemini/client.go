// Package gemini implements the provider adapter for Google's Gemini
// GenerateContent API. The API key travels as a URL query parameter rather
// than a header.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/routecc/rcc/core"
	"github.com/routecc/rcc/providers"
)

const (
	// DefaultBaseURL is the default Gemini API endpoint
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	// DefaultTimeout for content generation
	DefaultTimeout = 120 * time.Second
)

// Adapter implements providers.Adapter for Gemini
type Adapter struct {
	*providers.BaseAdapter
}

// NewAdapter creates a Gemini adapter for one provider
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
	return "gemini"
}

// Prepare translates a normalized request into the GenerateContent wire
// format
func (a *Adapter) Prepare(req *core.ChatRequest, secret, model string) (*providers.WireRequest, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: request has no messages", core.ErrBadRequest)
	}

	contents := make([]content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := m.Role
		// Gemini names the assistant role "model"
		if role == "assistant" {
			role = "model"
		}
		if role != "user" && role != "model" {
			return nil, fmt.Errorf("%w: role %q not expressible in this protocol", core.ErrBadRequest, m.Role)
		}
		contents = append(contents, content{
			Role:  role,
			Parts: []part{{Text: m.Content}},
		})
	}

	body := generateRequest{
		Contents: contents,
		GenerationConfig: &generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if req.System != "" {
		body.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: req.System}},
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		a.BaseURL, model, url.QueryEscape(secret))

	return &providers.WireRequest{
		Method: http.MethodPost,
		URL:    endpoint,
		Header: header,
		Body:   data,
	}, nil
}

// Invoke performs one upstream call
func (a *Adapter) Invoke(ctx context.Context, wire *providers.WireRequest) (*providers.WireResponse, core.Classification, error) {
	ctx, span := a.StartSpan(ctx, "provider.invoke")
	defer span.End()
	span.SetAttribute("provider.id", a.ProviderID)
	span.SetAttribute("provider.protocol", "gemini")

	resp, classification, err := a.Do(ctx, wire)
	if err != nil {
		span.RecordError(err)
	}
	span.SetAttribute("provider.classification", string(classification))
	return resp, classification, err
}

// Normalize folds a GenerateContent response into the canonical shape
func (a *Adapter) Normalize(wire *providers.WireResponse) (*core.ChatResponse, error) {
	var parsed generateResponse
	if err := json.Unmarshal(wire.Body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedResponse, err)
	}
	if len(parsed.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates returned", core.ErrMalformedResponse)
	}

	var text strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}

	resp := &core.ChatResponse{
		Model:        parsed.ModelVersion,
		Content:      text.String(),
		FinishReason: parsed.Candidates[0].FinishReason,
		Provider:     a.ProviderID,
	}
	if parsed.UsageMetadata != nil {
		resp.Usage = core.TokenUsage{
			PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
			CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      parsed.UsageMetadata.TotalTokenCount,
		}
	}
	return resp, nil
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
	wire := &providers.WireRequest{
		Method: http.MethodGet,
		URL:    fmt.Sprintf("%s/models?key=%s", a.BaseURL, url.QueryEscape(secret)),
		Header: http.Header{},
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

	ids := make([]string, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		// The listing returns names like "models/gemini-1.5-pro"
		ids = append(ids, strings.TrimPrefix(m.Name, "models/"))
	}
	return ids, nil
}
