package providers

import (
	"testing"

	"github.com/routecc/rcc/core"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		host       string
		want       core.Classification
		wantLimit  int
	}{
		{
			name:       "ok",
			statusCode: 200,
			want:       core.ClassSuccess,
		},
		{
			name:       "unauthorized",
			statusCode: 401,
			body:       `{"error":{"message":"Incorrect API key provided"}}`,
			want:       core.ClassAuthFailure,
		},
		{
			name:       "forbidden",
			statusCode: 403,
			want:       core.ClassAuthFailure,
		},
		{
			name:       "rate limited by status",
			statusCode: 429,
			body:       `{"error":{"message":"Rate limit reached"}}`,
			want:       core.ClassRateLimited,
		},
		{
			name:       "token limit in 400 body",
			statusCode: 400,
			body:       `{"error":{"message":"This model's maximum context length is 128000 tokens. However, your messages resulted in 140000 tokens."}}`,
			want:       core.ClassTokenLimit,
			wantLimit:  128000,
		},
		{
			name:       "400 with rate limit phrasing",
			statusCode: 400,
			body:       `{"error":{"message":"You have exceeded your quota, quota exceeded for this month"}}`,
			want:       core.ClassRateLimited,
		},
		{
			name:       "plain bad request",
			statusCode: 400,
			body:       `{"error":{"message":"Invalid value for temperature"}}`,
			want:       core.ClassBadRequest,
		},
		{
			name:       "server error",
			statusCode: 503,
			body:       `upstream unavailable`,
			want:       core.ClassServerError,
		},
		{
			name:       "iflow flat error shape",
			statusCode: 400,
			body:       `{"message":"input tokens exceed limit of 32768","error_code":1203}`,
			host:       "apis.iflow.cn",
			want:       core.ClassTokenLimit,
			wantLimit:  32768,
		},
		{
			name:       "iflow shape ignored on other hosts still falls back",
			statusCode: 400,
			body:       `{"message":"something odd","error_code":9}`,
			host:       "api.openai.com",
			want:       core.ClassBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, limit := Classify(tt.statusCode, []byte(tt.body), tt.host)
			if got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
			if limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", limit, tt.wantLimit)
			}
		})
	}
}

func TestExtractTokenLimit(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    int
	}{
		{
			name:    "maximum context length phrasing",
			message: "This model's maximum context length is 200000 tokens",
			want:    200000,
		},
		{
			name:    "maximum context length of phrasing",
			message: "maximum context length of 8192 tokens exceeded",
			want:    8192,
		},
		{
			name:    "token limit phrasing",
			message: "input token count exceeds the limit of 65536",
			want:    65536,
		},
		{
			name:    "tokens maximum phrasing",
			message: "request uses too many tokens: 131072 tokens maximum",
			want:    131072,
		},
		{
			name:    "below plausibility floor",
			message: "maximum context length is 512 tokens",
			want:    0,
		},
		{
			name:    "above plausibility ceiling",
			message: "maximum context length is 9000000 tokens",
			want:    0,
		},
		{
			name:    "no number at all",
			message: "context length exceeded",
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractTokenLimit(tt.message); got != tt.want {
				t.Errorf("ExtractTokenLimit(%q) = %d, want %d", tt.message, got, tt.want)
			}
		})
	}
}

func TestIsIFlowHost(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"apis.iflow.cn", true},
		{"iflow.cn", true},
		{"API.IFLOW.CN", true},
		{"api.openai.com", false},
		{"notiflow.example.com", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsIFlowHost(tt.host); got != tt.want {
			t.Errorf("IsIFlowHost(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestErrorMessagePrefersIFlowShape(t *testing.T) {
	body := []byte(`{"message":"flat message","error_code":42,"error":{"message":"nested message"}}`)

	if got := ErrorMessage(body, "apis.iflow.cn"); got != "flat message" {
		t.Errorf("iFlow host should read the flat field, got %q", got)
	}
	if got := ErrorMessage(body, "api.openai.com"); got != "nested message" {
		t.Errorf("other hosts should read the nested field, got %q", got)
	}
}

func TestModelTable(t *testing.T) {
	table := NewModelTable([]Model{
		{ID: "m1", DeclaredMaxTokens: 8192},
		{ID: "m2"},
	})

	m, ok := table.Get("m1")
	if !ok || m.DeclaredMaxTokens != 8192 {
		t.Fatalf("Get(m1) = %+v, %v", m, ok)
	}
	if m.Verification != VerificationUnverified {
		t.Errorf("fresh model should be unverified, got %s", m.Verification)
	}

	table.SetDetectedLimit("m1", 131072, VerificationVerified)
	m, _ = table.Get("m1")
	if m.DetectedMaxTokens != 131072 || m.Verification != VerificationVerified {
		t.Errorf("after detection: %+v", m)
	}

	table.Blacklist("m2", "deprecated upstream")
	m, _ = table.Get("m2")
	if !m.Blacklisted || m.BlacklistReason != "deprecated upstream" {
		t.Errorf("after blacklist: %+v", m)
	}
	table.Restore("m2")
	m, _ = table.Get("m2")
	if m.Blacklisted {
		t.Error("restore should clear the blacklist flag")
	}

	list := table.List()
	if len(list) != 2 || list[0].ID != "m1" || list[1].ID != "m2" {
		t.Errorf("List() = %+v, want sorted m1,m2", list)
	}
}
