package gemini

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
	return NewAdapter("test-gemini", baseURL, nil, nil)
}

func TestPrepare(t *testing.T) {
	a := testAdapter("https://example.com/v1beta")

	wire, err := a.Prepare(&core.ChatRequest{
		System: "short answers",
		Messages: []core.Message{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
			{Role: "user", Content: "bye"},
		},
		MaxTokens: 50,
	}, "AIza-secret", "gemini-1.5-pro")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	if !strings.Contains(wire.URL, "/models/gemini-1.5-pro:generateContent") {
		t.Errorf("URL = %s", wire.URL)
	}
	if !strings.Contains(wire.URL, "key=AIza-secret") {
		t.Errorf("API key must travel as a query parameter: %s", wire.URL)
	}
	if wire.Header.Get("Authorization") != "" {
		t.Error("no Authorization header for this protocol")
	}

	var body generateRequest
	if err := json.Unmarshal(wire.Body, &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if len(body.Contents) != 3 {
		t.Fatalf("contents = %d", len(body.Contents))
	}
	if body.Contents[1].Role != "model" {
		t.Errorf("assistant must map to the model role, got %q", body.Contents[1].Role)
	}
	if body.SystemInstruction == nil || body.SystemInstruction.Parts[0].Text != "short answers" {
		t.Error("system should travel as systemInstruction")
	}
	if body.GenerationConfig.MaxOutputTokens != 50 {
		t.Errorf("maxOutputTokens = %d", body.GenerationConfig.MaxOutputTokens)
	}
}

func TestPrepareEscapesSecret(t *testing.T) {
	a := testAdapter("https://example.com/v1beta")
	wire, err := a.Prepare(&core.ChatRequest{
		Messages: []core.Message{{Role: "user", Content: "hi"}},
	}, "key with&special=chars", "m")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if strings.Contains(wire.URL, "with&special") {
		t.Errorf("secret must be query-escaped: %s", wire.URL)
	}
}

func TestPrepareRejectsUnknownRole(t *testing.T) {
	a := testAdapter("")
	_, err := a.Prepare(&core.ChatRequest{
		Messages: []core.Message{{Role: "tool", Content: "output"}},
	}, "k", "m")
	if !errors.Is(err, core.ErrBadRequest) {
		t.Fatalf("err = %v, want ErrBadRequest", err)
	}
}

func TestInvokeAndNormalize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("key"); got != "AIza" {
			t.Errorf("key = %q", got)
		}
		fmt.Fprint(w, `{
			"candidates": [{
				"content": {"role": "model", "parts": [{"text": "part one "}, {"text": "part two"}]},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"promptTokenCount": 4, "candidatesTokenCount": 6, "totalTokenCount": 10},
			"modelVersion": "gemini-1.5-pro"
		}`)
	}))
	defer server.Close()

	a := testAdapter(server.URL)
	wire, _ := a.Prepare(&core.ChatRequest{
		Messages: []core.Message{{Role: "user", Content: "hi"}},
	}, "AIza", "gemini-1.5-pro")

	resp, classification, err := a.Invoke(context.Background(), wire)
	if err != nil || classification != core.ClassSuccess {
		t.Fatalf("Invoke = %s, %v", classification, err)
	}

	normalized, err := a.Normalize(resp)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if normalized.Content != "part one part two" {
		t.Errorf("parts should concatenate, got %q", normalized.Content)
	}
	if normalized.Usage.TotalTokens != 10 {
		t.Errorf("usage = %+v", normalized.Usage)
	}
}

func TestNormalizeNoCandidates(t *testing.T) {
	a := testAdapter("")
	_, err := a.Normalize(&providers.WireResponse{Body: []byte(`{"candidates": []}`)})
	if !errors.Is(err, core.ErrMalformedResponse) {
		t.Fatalf("err = %v, want ErrMalformedResponse", err)
	}
}

func TestDetectCapabilitiesStripsPrefix(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models": [{"name": "models/gemini-1.5-pro"}, {"name": "models/gemini-1.5-flash"}]}`)
	}))
	defer server.Close()

	a := testAdapter(server.URL)
	models, err := a.DetectCapabilities(context.Background(), "AIza")
	if err != nil {
		t.Fatalf("DetectCapabilities: %v", err)
	}
	if len(models) != 2 || models[0] != "gemini-1.5-pro" {
		t.Errorf("models = %v", models)
	}
}
