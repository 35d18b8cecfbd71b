package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/routecc/rcc/core"
)

// sseWriter streams response chunks to the client in the dialect of the
// endpoint the client called
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	dialect string // "anthropic" or "openai"
	id      string
	started bool
}

// newSSEWriter prepares the response for server-sent events. It returns an
// error when the underlying writer cannot flush incrementally.
func newSSEWriter(w http.ResponseWriter, dialect, requestID string) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return &sseWriter{w: w, flusher: flusher, dialect: dialect, id: requestID}, nil
}

// Chunk writes one delta event
func (s *sseWriter) Chunk(chunk core.StreamChunk) error {
	if s.dialect == "anthropic" {
		return s.anthropicChunk(chunk)
	}
	return s.openAIChunk(chunk)
}

// Finish closes the event stream
func (s *sseWriter) Finish(resp *core.ChatResponse) error {
	if s.dialect == "anthropic" {
		usage := map[string]int{}
		if resp != nil {
			usage["input_tokens"] = resp.Usage.PromptTokens
			usage["output_tokens"] = resp.Usage.CompletionTokens
		}
		if err := s.event("message_delta", map[string]interface{}{
			"type":  "message_delta",
			"delta": map[string]interface{}{"stop_reason": "end_turn"},
			"usage": usage,
		}); err != nil {
			return err
		}
		return s.event("message_stop", map[string]interface{}{"type": "message_stop"})
	}

	payload := map[string]interface{}{
		"id":     "chatcmpl-" + s.id,
		"object": "chat.completion.chunk",
		"choices": []map[string]interface{}{
			{"index": 0, "delta": map[string]interface{}{}, "finish_reason": "stop"},
		},
	}
	if err := s.data(payload); err != nil {
		return err
	}
	_, err := fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flusher.Flush()
	return err
}

func (s *sseWriter) anthropicChunk(chunk core.StreamChunk) error {
	if !s.started {
		s.started = true
		if err := s.event("message_start", map[string]interface{}{
			"type": "message_start",
			"message": map[string]interface{}{
				"id":    "msg_" + s.id,
				"type":  "message",
				"role":  "assistant",
				"model": chunk.Model,
			},
		}); err != nil {
			return err
		}
		if err := s.event("content_block_start", map[string]interface{}{
			"type":          "content_block_start",
			"index":         0,
			"content_block": map[string]interface{}{"type": "text", "text": ""},
		}); err != nil {
			return err
		}
	}
	if chunk.Content == "" {
		return nil
	}
	return s.event("content_block_delta", map[string]interface{}{
		"type":  "content_block_delta",
		"index": 0,
		"delta": map[string]interface{}{"type": "text_delta", "text": chunk.Content},
	})
}

func (s *sseWriter) openAIChunk(chunk core.StreamChunk) error {
	delta := map[string]interface{}{}
	if !s.started {
		s.started = true
		delta["role"] = "assistant"
	}
	if chunk.Content != "" {
		delta["content"] = chunk.Content
	}
	choice := map[string]interface{}{"index": 0, "delta": delta}
	if chunk.FinishReason != "" {
		choice["finish_reason"] = chunk.FinishReason
	}
	return s.data(map[string]interface{}{
		"id":      "chatcmpl-" + s.id,
		"object":  "chat.completion.chunk",
		"model":   chunk.Model,
		"choices": []map[string]interface{}{choice},
	})
}

// event writes one named SSE event
func (s *sseWriter) event(name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// data writes one unnamed SSE data line
func (s *sseWriter) data(payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", raw); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
