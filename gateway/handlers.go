package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/routecc/rcc/core"
)

// handleMessages serves the Anthropic Messages dialect
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	s.handleChat(w, r, "anthropic", normalizeAnthropic)
}

// handleChatCompletions serves the OpenAI Chat Completions dialect
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	s.handleChat(w, r, "openai", normalizeOpenAI)
}

// handleChat is the shared request path for both dialects
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, dialect string,
	normalize func([]byte) (*core.ChatRequest, error)) {
	if r.Method != http.MethodPost {
		s.writeError(w, core.NewRequestID(), http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, core.NewRequestID(), http.StatusBadRequest, "failed to read request body")
		return
	}

	req, err := normalize(body)
	if err != nil {
		s.writeError(w, core.NewRequestID(), http.StatusBadRequest, clientMessage(err))
		return
	}

	rc := core.NewRequestContext(req.Model, req)
	s.logger.Info("Request received", map[string]interface{}{
		"operation":     "request",
		"request_id":    rc.RequestID,
		"virtual_model": rc.VirtualModel,
		"dialect":       dialect,
		"stream":        req.Stream,
		"messages":      len(req.Messages),
	})

	if req.Stream {
		s.streamChat(r.Context(), w, rc, dialect)
		return
	}

	resp, err := s.manager.Route(r.Context(), rc)
	if err != nil {
		s.routeError(w, rc, err)
		return
	}

	var payload map[string]interface{}
	if dialect == "anthropic" {
		payload = anthropicResponse(rc.RequestID, resp)
	} else {
		payload = openAIResponse(rc.RequestID, resp)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// streamChat routes a streaming request, forwarding chunks as SSE
func (s *Server) streamChat(ctx context.Context, w http.ResponseWriter, rc *core.RequestContext, dialect string) {
	sse, err := newSSEWriter(w, dialect, rc.RequestID)
	if err != nil {
		s.writeError(w, rc.RequestID, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	rc.Callback = func(chunk core.StreamChunk) error {
		return sse.Chunk(chunk)
	}

	resp, err := s.manager.Route(ctx, rc)
	if err != nil {
		// Headers already went out; the stream ends without a terminal
		// event and the failure lives in the trace record.
		s.logger.Warn("Streaming request failed", map[string]interface{}{
			"operation":  "request",
			"request_id": rc.RequestID,
			"error":      err.Error(),
		})
		return
	}
	if err := sse.Finish(resp); err != nil {
		s.logger.Debug("Client disconnected before stream end", map[string]interface{}{
			"operation":  "request",
			"request_id": rc.RequestID,
		})
	}
}

// routeError writes the routing failure with its mapped status code
func (s *Server) routeError(w http.ResponseWriter, rc *core.RequestContext, err error) {
	status := errorStatus(err)
	s.logger.Warn("Request failed", map[string]interface{}{
		"operation":  "request",
		"request_id": rc.RequestID,
		"status":     status,
		"attempts":   rc.Attempts(),
		"error":      err.Error(),
	})
	s.writeError(w, rc.RequestID, status, clientMessage(err))
}

// handleModels lists routable virtual models in the OpenAI listing shape
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, core.NewRequestID(), http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	models := []modelEntry{}
	for _, id := range s.manager.ListVirtualModels() {
		models = append(models, modelEntry{ID: id, Object: "model", OwnedBy: "rcc"})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"object": "list",
		"data":   models,
	})
}

// handleStatus reports routing state, credential state, aggregate metrics,
// and assembly diagnostics
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, core.NewRequestID(), http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	pools, providers := s.manager.Status()
	payload := map[string]interface{}{
		"pools":     pools,
		"providers": providers,
	}
	if s.tracker != nil {
		payload["metrics"] = s.tracker.Metrics()
	}
	if len(s.diagnostics) > 0 {
		payload["diagnostics"] = s.diagnostics
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// handleHealth is the unauthenticated liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
