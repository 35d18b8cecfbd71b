package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/routecc/rcc/core"
	"github.com/routecc/rcc/providers"
)

func testAdapter(baseURL string) *Adapter {
	return NewAdapter("test-openai", baseURL, nil, nil)
}

func TestPrepare(t *testing.T) {
	a := testAdapter("https://api.example.com/v1")

	wire, err := a.Prepare(&core.ChatRequest{
		System:      "be brief",
		Messages:    []core.Message{{Role: "user", Content: "hello"}},
		MaxTokens:   100,
		Temperature: 0.5,
	}, "sk-test", "gpt-4o")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	if wire.URL != "https://api.example.com/v1/chat/completions" {
		t.Errorf("URL = %s", wire.URL)
	}
	if got := wire.Header.Get("Authorization"); got != "Bearer sk-test" {
		t.Errorf("Authorization = %q", got)
	}

	var body chatRequest
	if err := json.Unmarshal(wire.Body, &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body.Model != "gpt-4o" {
		t.Errorf("model = %s", body.Model)
	}
	if len(body.Messages) != 2 || body.Messages[0].Role != "system" || body.Messages[0].Content != "be brief" {
		t.Errorf("system prompt should lead the messages: %+v", body.Messages)
	}
	if body.StreamOptions != nil {
		t.Error("stream_options must be absent for buffered requests")
	}
}

func TestPrepareStreamRequestsUsage(t *testing.T) {
	a := testAdapter("https://api.example.com/v1")

	wire, err := a.Prepare(&core.ChatRequest{
		Messages: []core.Message{{Role: "user", Content: "hi"}},
		Stream:   true,
	}, "sk", "m")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if !wire.Stream {
		t.Error("wire request should be marked streaming")
	}

	var body chatRequest
	_ = json.Unmarshal(wire.Body, &body)
	if body.StreamOptions == nil || !body.StreamOptions.IncludeUsage {
		t.Error("streaming requests should ask for usage in the final chunk")
	}
}

func TestPrepareRejectsEmptyMessages(t *testing.T) {
	a := testAdapter("")
	_, err := a.Prepare(&core.ChatRequest{}, "sk", "m")
	if !errors.Is(err, core.ErrBadRequest) {
		t.Fatalf("err = %v, want ErrBadRequest", err)
	}
}

func TestInvokeAndNormalize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hi there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
		}`)
	}))
	defer server.Close()

	a := testAdapter(server.URL)
	wire, err := a.Prepare(&core.ChatRequest{
		Messages: []core.Message{{Role: "user", Content: "hello"}},
	}, "sk-test", "gpt-4o")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	resp, classification, err := a.Invoke(context.Background(), wire)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if classification != core.ClassSuccess {
		t.Fatalf("classification = %s", classification)
	}

	normalized, err := a.Normalize(resp)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if normalized.Content != "hi there" || normalized.FinishReason != "stop" {
		t.Errorf("normalized = %+v", normalized)
	}
	if normalized.Usage.TotalTokens != 7 {
		t.Errorf("usage = %+v", normalized.Usage)
	}
	if normalized.Provider != "test-openai" {
		t.Errorf("provider = %s", normalized.Provider)
	}
}

func TestInvokeClassifiesUpstreamErrors(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		want       core.Classification
	}{
		{"auth", 401, `{"error":{"message":"bad key"}}`, core.ClassAuthFailure},
		{"rate", 429, `{"error":{"message":"slow down"}}`, core.ClassRateLimited},
		{"server", 500, `boom`, core.ClassServerError},
		{
			"token limit", 400,
			`{"error":{"message":"This model's maximum context length is 8192 tokens"}}`,
			core.ClassTokenLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			a := testAdapter(server.URL)
			wire, _ := a.Prepare(&core.ChatRequest{
				Messages: []core.Message{{Role: "user", Content: "x"}},
			}, "sk", "m")

			resp, classification, err := a.Invoke(context.Background(), wire)
			if err == nil {
				t.Fatal("expected an error for non-200 status")
			}
			if classification != tt.want {
				t.Errorf("classification = %s, want %s", classification, tt.want)
			}
			if tt.want == core.ClassTokenLimit && resp.TokenLimit != 8192 {
				t.Errorf("TokenLimit = %d, want 8192", resp.TokenLimit)
			}
		})
	}
}

func TestNormalizeReasoningFallback(t *testing.T) {
	a := testAdapter("")
	resp := &providers.WireResponse{
		StatusCode: 200,
		Body: []byte(`{
			"id": "r1", "model": "qwq-32b",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "", "reasoning_content": "thinking out loud"}, "finish_reason": "stop"}],
			"usage": {}
		}`),
	}

	normalized, err := a.Normalize(resp)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if normalized.Content != "thinking out loud" {
		t.Errorf("empty content should fall back to reasoning, got %q", normalized.Content)
	}
	if normalized.ReasoningContent != "thinking out loud" {
		t.Errorf("ReasoningContent = %q", normalized.ReasoningContent)
	}
}

func TestNormalizeStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, ": keep-alive comment\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":2,\"total_tokens\":5}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	a := testAdapter(server.URL)
	wire, _ := a.Prepare(&core.ChatRequest{
		Messages: []core.Message{{Role: "user", Content: "hi"}},
		Stream:   true,
	}, "sk", "gpt-4o")

	resp, classification, err := a.Invoke(context.Background(), wire)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if classification != core.ClassSuccess {
		t.Fatalf("classification = %s", classification)
	}
	if resp.Stream == nil {
		t.Fatal("expected a streaming body")
	}

	var chunks []core.StreamChunk
	final, err := a.NormalizeStream(context.Background(), resp, func(chunk core.StreamChunk) error {
		chunks = append(chunks, chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("NormalizeStream: %v", err)
	}

	if final.Content != "Hello" {
		t.Errorf("assembled content = %q", final.Content)
	}
	if final.FinishReason != "stop" {
		t.Errorf("finish reason = %q", final.FinishReason)
	}
	if final.Usage.TotalTokens != 5 {
		t.Errorf("usage = %+v", final.Usage)
	}

	var text strings.Builder
	sawFinal := false
	for _, c := range chunks {
		text.WriteString(c.Content)
		if c.FinishReason != "" {
			sawFinal = true
			if c.Usage == nil || c.Usage.TotalTokens != 5 {
				t.Error("final chunk should carry usage totals")
			}
		}
	}
	if text.String() != "Hello" {
		t.Errorf("streamed text = %q", text.String())
	}
	if !sawFinal {
		t.Error("expected a terminal chunk with finish reason")
	}
}

func TestNormalizeStreamCallbackStop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 100; i++ {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n")
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	a := testAdapter(server.URL)
	wire, _ := a.Prepare(&core.ChatRequest{
		Messages: []core.Message{{Role: "user", Content: "hi"}},
		Stream:   true,
	}, "sk", "m")
	resp, _, err := a.Invoke(context.Background(), wire)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	calls := 0
	final, err := a.NormalizeStream(context.Background(), resp, func(core.StreamChunk) error {
		calls++
		if calls >= 3 {
			return errors.New("client went away")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("stopping via callback should not error: %v", err)
	}
	if len(final.Content) != 3 {
		t.Errorf("content length = %d, want 3 (stop after third chunk)", len(final.Content))
	}
}

func TestDetectCapabilities(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"data":[{"id":"gpt-4o"},{"id":"gpt-4o-mini"}]}`)
	}))
	defer server.Close()

	a := testAdapter(server.URL)
	models, err := a.DetectCapabilities(context.Background(), "sk")
	if err != nil {
		t.Fatalf("DetectCapabilities: %v", err)
	}
	if len(models) != 2 || models[0] != "gpt-4o" {
		t.Errorf("models = %v", models)
	}
}

func TestDetectCapabilitiesUnsupported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	a := testAdapter(server.URL)
	_, err := a.DetectCapabilities(context.Background(), "sk")
	if !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}
