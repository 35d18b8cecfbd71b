package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/routecc/rcc/core"
)

// Northbound wire shapes. The gateway accepts both Anthropic Messages and
// OpenAI Chat Completions bodies and normalizes them into core.ChatRequest;
// responses are denormalized back into the shape of the endpoint the
// client called.

// flexContent accepts either a plain string or an array of typed blocks
type flexContent struct {
	text string
}

func (f *flexContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		f.text = s
		return nil
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("content must be a string or an array of blocks")
	}
	for _, b := range blocks {
		if b.Type == "" || b.Type == "text" {
			f.text += b.Text
		}
	}
	return nil
}

type inboundMessage struct {
	Role    string      `json:"role"`
	Content flexContent `json:"content"`
}

// anthropicRequest is the Messages API body
type anthropicRequest struct {
	Model       string           `json:"model"`
	System      flexContent      `json:"system,omitempty"`
	Messages    []inboundMessage `json:"messages"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature float32          `json:"temperature,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
}

// openAIRequest is the Chat Completions body
type openAIRequest struct {
	Model       string           `json:"model"`
	Messages    []inboundMessage `json:"messages"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float32          `json:"temperature,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
}

// normalizeAnthropic folds a Messages body into the canonical request
func normalizeAnthropic(body []byte) (*core.ChatRequest, error) {
	var in anthropicRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrBadRequest, err)
	}
	if in.Model == "" {
		return nil, fmt.Errorf("%w: model is required", core.ErrBadRequest)
	}
	if len(in.Messages) == 0 {
		return nil, fmt.Errorf("%w: messages must not be empty", core.ErrBadRequest)
	}

	req := &core.ChatRequest{
		Model:       in.Model,
		System:      in.System.text,
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
		Stream:      in.Stream,
	}
	for _, m := range in.Messages {
		req.Messages = append(req.Messages, core.Message{Role: m.Role, Content: m.Content.text})
	}
	return req, nil
}

// normalizeOpenAI folds a Chat Completions body into the canonical
// request, lifting system-role messages into the System field
func normalizeOpenAI(body []byte) (*core.ChatRequest, error) {
	var in openAIRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrBadRequest, err)
	}
	if in.Model == "" {
		return nil, fmt.Errorf("%w: model is required", core.ErrBadRequest)
	}
	if len(in.Messages) == 0 {
		return nil, fmt.Errorf("%w: messages must not be empty", core.ErrBadRequest)
	}

	req := &core.ChatRequest{
		Model:       in.Model,
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
		Stream:      in.Stream,
	}
	for _, m := range in.Messages {
		if m.Role == "system" {
			if req.System != "" {
				req.System += "\n"
			}
			req.System += m.Content.text
			continue
		}
		req.Messages = append(req.Messages, core.Message{Role: m.Role, Content: m.Content.text})
	}
	return req, nil
}

// anthropicResponse shapes a canonical response for the Messages endpoint
func anthropicResponse(requestID string, resp *core.ChatResponse) map[string]interface{} {
	content := []map[string]interface{}{}
	if resp.ReasoningContent != "" {
		content = append(content, map[string]interface{}{
			"type":     "thinking",
			"thinking": resp.ReasoningContent,
		})
	}
	content = append(content, map[string]interface{}{
		"type": "text",
		"text": resp.Content,
	})

	id := resp.ID
	if id == "" {
		id = "msg_" + requestID
	}
	return map[string]interface{}{
		"id":          id,
		"type":        "message",
		"role":        "assistant",
		"model":       resp.Model,
		"content":     content,
		"stop_reason": anthropicStopReason(resp.FinishReason),
		"usage": map[string]int{
			"input_tokens":  resp.Usage.PromptTokens,
			"output_tokens": resp.Usage.CompletionTokens,
		},
	}
}

// openAIResponse shapes a canonical response for the Chat Completions
// endpoint
func openAIResponse(requestID string, resp *core.ChatResponse) map[string]interface{} {
	id := resp.ID
	if id == "" {
		id = "chatcmpl-" + requestID
	}
	message := map[string]interface{}{
		"role":    "assistant",
		"content": resp.Content,
	}
	if resp.ReasoningContent != "" {
		message["reasoning_content"] = resp.ReasoningContent
	}
	return map[string]interface{}{
		"id":     id,
		"object": "chat.completion",
		"model":  resp.Model,
		"choices": []map[string]interface{}{
			{
				"index":         0,
				"message":       message,
				"finish_reason": resp.FinishReason,
			},
		},
		"usage": map[string]int{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		},
	}
}

// anthropicStopReason translates OpenAI-style finish reasons
func anthropicStopReason(reason string) string {
	switch reason {
	case "length":
		return "max_tokens"
	case "", "stop":
		return "end_turn"
	default:
		return reason
	}
}
